package loader

import (
	"context"
	goerrors "errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/diwise/ngsild-client/pkg/ngsild/errors"
	testutils "github.com/diwise/service-chassis/pkg/test/http"
	"github.com/diwise/service-chassis/pkg/test/http/expects"
	"github.com/diwise/service-chassis/pkg/test/http/response"
	"github.com/matryer/is"
)

func TestReadTextFromFile(t *testing.T) {
	is := is.New(t)

	source := filepath.Join(t.TempDir(), "entity.json")
	is.NoErr(WriteText(source, []byte(`{"type":"Vehicle"}`)))

	contents, err := ReadText(context.Background(), source)

	is.NoErr(err)
	is.Equal(string(contents), `{"type":"Vehicle"}`)
}

func TestReadTextFromMissingFile(t *testing.T) {
	is := is.New(t)

	_, err := ReadText(context.Background(), filepath.Join(t.TempDir(), "missing.json"))

	is.True(goerrors.Is(err, os.ErrNotExist))
}

func TestReadTextFromURL(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		testutils.Expects(is, expects.RequestMethod(http.MethodGet)),
		testutils.Returns(
			response.ContentType("application/ld+json"),
			response.Code(http.StatusOK),
			response.Body([]byte(`{"type":"Vehicle"}`)),
		),
	)
	defer s.Close()

	contents, err := ReadText(context.Background(), s.URL())

	is.NoErr(err)
	is.Equal(string(contents), `{"type":"Vehicle"}`)
}

func TestReadTextFromURLNotFound(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		testutils.Expects(is, expects.AnyInput()),
		testutils.Returns(response.Code(http.StatusNotFound)),
	)
	defer s.Close()

	_, err := ReadText(context.Background(), s.URL())

	is.True(goerrors.Is(err, errors.ErrNotFound))
}
