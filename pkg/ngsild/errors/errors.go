package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Structural and builder errors raised by the entity model.
var ErrMissingID = fmt.Errorf("missing id")
var ErrMissingType = fmt.Errorf("missing type")
var ErrMissingContext = fmt.Errorf("missing @context")
var ErrUnsupportedValueType = fmt.Errorf("unsupported value type")
var ErrInvalidDateFormat = fmt.Errorf("invalid date format")
var ErrKeyNotFound = fmt.Errorf("key not found")
var ErrIndexOutOfRange = fmt.Errorf("index out of range")
var ErrInvalidPath = fmt.Errorf("invalid path")
var ErrMissingRootAttribute = fmt.Errorf("missing root attribute")
var ErrAmbiguousTarget = fmt.Errorf("ambiguous target")
var ErrArityMismatch = fmt.Errorf("arity mismatch")

// Transport errors raised by the context broker client.
var ErrAlreadyExists = fmt.Errorf("already exists")
var ErrInternal = fmt.Errorf("internal error")
var ErrNotFound = fmt.Errorf("not found")
var ErrRequest = fmt.Errorf("request error")
var ErrBadRequest = fmt.Errorf("bad request")
var ErrBadResponse = fmt.Errorf("bad response")
var ErrInvalidRequest = fmt.Errorf("invalid request")
var ErrUnknownTenant = fmt.Errorf("unknown tenant")

type myError struct {
	msg    string
	target error
}

func (m myError) Error() string        { return m.msg }
func (m myError) Is(target error) bool { return target == m.target }

func NewMissingIDError(msg string) error {
	return &myError{msg: msg, target: ErrMissingID}
}

func NewMissingTypeError(msg string) error {
	return &myError{msg: msg, target: ErrMissingType}
}

func NewMissingContextError(msg string) error {
	return &myError{msg: msg, target: ErrMissingContext}
}

// NewUnsupportedValueTypeError names both the attribute and the offending
// Go type, so that chain failures are attributable.
func NewUnsupportedValueTypeError(attributeName string, value any) error {
	return &myError{
		msg:    fmt.Sprintf("cannot map value of type %T to an NGSI type (attribute %s)", value, attributeName),
		target: ErrUnsupportedValueType,
	}
}

func NewInvalidDateFormatError(msg string) error {
	return &myError{msg: msg, target: ErrInvalidDateFormat}
}

func NewKeyNotFoundError(key string) error {
	return &myError{msg: fmt.Sprintf("key not found: %s", key), target: ErrKeyNotFound}
}

func NewIndexOutOfRangeError(path string, index, length int) error {
	return &myError{
		msg:    fmt.Sprintf("index %d out of range (length %d) at %s", index, length, path),
		target: ErrIndexOutOfRange,
	}
}

func NewInvalidPathError(path string) error {
	return &myError{msg: fmt.Sprintf("invalid path: %q", path), target: ErrInvalidPath}
}

func NewMissingRootAttributeError(msg string) error {
	return &myError{msg: msg, target: ErrMissingRootAttribute}
}

func NewAmbiguousTargetError(msg string) error {
	return &myError{msg: msg, target: ErrAmbiguousTarget}
}

func NewArityMismatchError(attributeName string, want, got int) error {
	return &myError{
		msg:    fmt.Sprintf("attribute %s has %d targets but %d metadata values", attributeName, want, got),
		target: ErrArityMismatch,
	}
}

func NewAlreadyExistsError(msg string) error {
	return &myError{msg: msg, target: ErrAlreadyExists}
}

func NewBadRequestDataError(msg string) error {
	return &myError{msg: msg, target: ErrBadRequest}
}

func NewInvalidRequestError(msg string) error {
	return &myError{msg: msg, target: ErrInvalidRequest}
}

func NewNotFoundError(msg string) error {
	return &myError{msg: msg, target: ErrNotFound}
}

func NewUnknownTenantError(msg string) error {
	return &myError{msg: msg, target: ErrUnknownTenant}
}

func NewErrorFromProblemReport(code int, contentType string, body []byte) error {
	report := &struct {
		Type   string `json:"type"`
		Title  string `json:"title"`
		Detail string `json:"detail"`
	}{}

	if len(body) == 0 {
		if code == http.StatusNotFound {
			return NewNotFoundError("not found")
		}
		return fmt.Errorf("context source returned status code %d without a problem report (%w)", code, ErrInternal)
	}

	err := json.Unmarshal(body, report)
	if err != nil {
		return fmt.Errorf("failed to process problem report from context source: %s", err.Error())
	}

	if code == http.StatusNotFound || report.Type == "https://uri.etsi.org/ngsi-ld/errors/ResourceNotFound" {
		return NewNotFoundError(report.Detail)
	}

	if report.Type == "https://uri.etsi.org/ngsi-ld/errors/NonexistentTenant" {
		return NewUnknownTenantError(report.Detail)
	}

	if report.Type == "https://uri.etsi.org/ngsi-ld/errors/BadRequestData" {
		return NewBadRequestDataError(report.Detail)
	}

	if report.Type == "https://uri.etsi.org/ngsi-ld/errors/InvalidRequest" {
		return NewInvalidRequestError(report.Detail)
	}

	if report.Type == "https://uri.etsi.org/ngsi-ld/errors/AlreadyExists" {
		return NewAlreadyExistsError(report.Detail)
	}

	return NewInternalError(
		fmt.Sprintf("[code: %d] unknown problem report of type \"%s\" with detail \"%s\" received",
			code, report.Type, report.Detail,
		),
		"",
	)
}
