package contextsource

import (
	"context"
	"encoding/json"
	goerrors "errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"

	"github.com/diwise/ngsild-client/internal/pkg/application/registry"
	"github.com/diwise/ngsild-client/internal/pkg/presentation/api/contextsource/auth"
	"github.com/diwise/ngsild-client/pkg/ngsild/entities"
	ngsierrors "github.com/diwise/ngsild-client/pkg/ngsild/errors"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("ngsild-client/contextsource")

func NewCreateEntityHandler(app registry.EntityRegistry, authenticator auth.Enticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error

		ctx := r.Context()
		tenant := GetTenantFromContext(ctx)

		ctx, span := tracer.Start(ctx, "create-entity")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		body, err := io.ReadAll(r.Body)
		if err != nil {
			ngsierrors.ReportNewInvalidRequest(w, "unable to read request body", traceID(ctx))
			return
		}

		e, err := entities.NewFromJSON(body)
		if err != nil {
			reportProblem(ctx, w, err)
			return
		}

		if err = authenticator.CheckAccess(ctx, r, tenant, []string{e.Type()}); err != nil {
			ngsierrors.ReportUnauthorizedRequest(w, "access denied", traceID(ctx))
			return
		}

		result, err := app.CreateEntity(ctx, tenant, e)
		if err != nil {
			reportProblem(ctx, w, err)
			return
		}

		w.Header().Add("Location", result.Location())
		w.WriteHeader(http.StatusCreated)
	}
}

func NewRetrieveEntityHandler(app registry.EntityRegistry, authenticator auth.Enticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error

		ctx := r.Context()
		tenant := GetTenantFromContext(ctx)
		entityID := chi.URLParam(r, "entityId")

		ctx, span := tracer.Start(ctx, "retrieve-entity")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		if err = authenticator.CheckAccess(ctx, r, tenant, nil); err != nil {
			ngsierrors.ReportUnauthorizedRequest(w, "access denied", traceID(ctx))
			return
		}

		e, err := app.RetrieveEntity(ctx, tenant, entityID)
		if err != nil {
			reportProblem(ctx, w, err)
			return
		}

		writeEntity(ctx, w, e)
	}
}

func NewQueryEntitiesHandler(app registry.EntityRegistry, authenticator auth.Enticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error

		ctx := r.Context()
		tenant := GetTenantFromContext(ctx)

		ctx, span := tracer.Start(ctx, "query-entities")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		attributeNames := r.URL.Query().Get("attrs")
		entityTypeNames := r.URL.Query().Get("type")
		georel := r.URL.Query().Get("georel")
		q := r.URL.Query().Get("q")

		if entityTypeNames == "" && attributeNames == "" && q == "" && georel == "" {
			ngsierrors.ReportNewBadRequestData(w,
				"at least one among type, attrs, q, or georel must be present in a request for entities",
				traceID(ctx))
			return
		}

		entityTypes := splitNonEmpty(entityTypeNames)
		attributes := splitNonEmpty(attributeNames)

		if err = authenticator.CheckAccess(ctx, r, tenant, entityTypes); err != nil {
			ngsierrors.ReportUnauthorizedRequest(w, "access denied", traceID(ctx))
			return
		}

		result, totalCount, err := app.QueryEntities(ctx, tenant, entityTypes, attributes, q)
		if err != nil {
			reportProblem(ctx, w, err)
			return
		}

		writeEntityArray(ctx, w, r, result, totalCount)
	}
}

func NewMergeEntityHandler(app registry.EntityRegistry, authenticator auth.Enticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error

		ctx := r.Context()
		tenant := GetTenantFromContext(ctx)
		entityID := chi.URLParam(r, "entityId")

		ctx, span := tracer.Start(ctx, "merge-entity")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		if err = authenticator.CheckAccess(ctx, r, tenant, nil); err != nil {
			ngsierrors.ReportUnauthorizedRequest(w, "access denied", traceID(ctx))
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			ngsierrors.ReportNewInvalidRequest(w, "unable to read request body", traceID(ctx))
			return
		}

		fragment, err := entities.FragmentFromJSON(body)
		if err != nil {
			reportProblem(ctx, w, err)
			return
		}

		if err = app.MergeEntity(ctx, tenant, entityID, fragment); err != nil {
			reportProblem(ctx, w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func NewUpdateEntityAttributesHandler(app registry.EntityRegistry, authenticator auth.Enticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error

		ctx := r.Context()
		tenant := GetTenantFromContext(ctx)
		entityID := chi.URLParam(r, "entityId")

		ctx, span := tracer.Start(ctx, "update-entity-attributes")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		if err = authenticator.CheckAccess(ctx, r, tenant, nil); err != nil {
			ngsierrors.ReportUnauthorizedRequest(w, "access denied", traceID(ctx))
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			ngsierrors.ReportNewInvalidRequest(w, "unable to read request body", traceID(ctx))
			return
		}

		fragment, err := entities.FragmentFromJSON(body)
		if err != nil {
			reportProblem(ctx, w, err)
			return
		}

		result, err := app.UpdateEntityAttributes(ctx, tenant, entityID, fragment)
		if err != nil {
			reportProblem(ctx, w, err)
			return
		}

		if result.IsMultiStatus() {
			w.Header().Add("Content-Type", "application/json")
			w.WriteHeader(http.StatusMultiStatus)
			w.Write(result.Bytes())
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func NewDeleteEntityHandler(app registry.EntityRegistry, authenticator auth.Enticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error

		ctx := r.Context()
		tenant := GetTenantFromContext(ctx)
		entityID := chi.URLParam(r, "entityId")

		ctx, span := tracer.Start(ctx, "delete-entity")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		if err = authenticator.CheckAccess(ctx, r, tenant, nil); err != nil {
			ngsierrors.ReportUnauthorizedRequest(w, "access denied", traceID(ctx))
			return
		}

		if err = app.DeleteEntity(ctx, tenant, entityID); err != nil {
			reportProblem(ctx, w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func NewQueryTemporalEvolutionOfEntitiesHandler(app registry.EntityRegistry, authenticator auth.Enticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error

		ctx := r.Context()
		tenant := GetTenantFromContext(ctx)

		ctx, span := tracer.Start(ctx, "query-temporal-entities")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		entityTypes := splitNonEmpty(r.URL.Query().Get("type"))

		if err = authenticator.CheckAccess(ctx, r, tenant, entityTypes); err != nil {
			ngsierrors.ReportUnauthorizedRequest(w, "access denied", traceID(ctx))
			return
		}

		result, totalCount, err := app.QueryTemporalEvolutionOfEntities(ctx, tenant, entityTypes)
		if err != nil {
			reportProblem(ctx, w, err)
			return
		}

		writeEntityArray(ctx, w, r, result, totalCount)
	}
}

func NewRetrieveTemporalEvolutionOfAnEntityHandler(app registry.EntityRegistry, authenticator auth.Enticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error

		ctx := r.Context()
		tenant := GetTenantFromContext(ctx)
		entityID := chi.URLParam(r, "entityId")

		ctx, span := tracer.Start(ctx, "retrieve-entity-temporal")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		if err = authenticator.CheckAccess(ctx, r, tenant, nil); err != nil {
			ngsierrors.ReportUnauthorizedRequest(w, "access denied", traceID(ctx))
			return
		}

		e, err := app.RetrieveTemporalEvolutionOfEntity(ctx, tenant, entityID)
		if err != nil {
			reportProblem(ctx, w, err)
			return
		}

		writeEntity(ctx, w, e)
	}
}

func writeEntity(ctx context.Context, w http.ResponseWriter, e *entities.Entity) {
	body, err := json.Marshal(e)
	if err != nil {
		ngsierrors.ReportNewInternalError(w, "failed to marshal entity to json", traceID(ctx))
		return
	}

	w.Header().Add("Content-Type", "application/ld+json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func writeEntityArray(ctx context.Context, w http.ResponseWriter, r *http.Request, result []*entities.Entity, totalCount int64) {
	log := logging.GetFromContext(ctx)

	w.Header().Add("Content-Type", "application/ld+json")
	if r.URL.Query().Get("count") == "true" {
		w.Header().Add("NGSILD-Results-Count", strconv.FormatInt(totalCount, 10))
	}
	w.WriteHeader(http.StatusOK)

	w.Write([]byte("["))

	for idx, e := range result {
		if idx > 0 {
			w.Write([]byte(","))
		}

		body, err := json.Marshal(e)
		if err != nil {
			log.Error("failed to marshal entity to json", "err", err.Error())
			continue
		}
		w.Write(body)
	}

	w.Write([]byte("]"))
}

func reportProblem(ctx context.Context, w http.ResponseWriter, err error) {
	detail := err.Error()
	tid := traceID(ctx)

	switch {
	case goerrors.Is(err, ngsierrors.ErrAlreadyExists):
		ngsierrors.ReportNewAlreadyExistsError(w, detail, tid)
	case goerrors.Is(err, ngsierrors.ErrNotFound):
		ngsierrors.ReportNotFoundError(w, detail, tid)
	case goerrors.Is(err, ngsierrors.ErrUnknownTenant):
		ngsierrors.ReportUnknownTenantError(w, detail, tid)
	case goerrors.Is(err, ngsierrors.ErrBadRequest),
		goerrors.Is(err, ngsierrors.ErrMissingID),
		goerrors.Is(err, ngsierrors.ErrMissingType),
		goerrors.Is(err, ngsierrors.ErrMissingContext):
		ngsierrors.ReportNewBadRequestData(w, detail, tid)
	case goerrors.Is(err, ngsierrors.ErrInvalidRequest):
		ngsierrors.ReportNewInvalidRequest(w, detail, tid)
	default:
		ngsierrors.ReportNewInternalError(w, detail, tid)
	}
}

func traceID(ctx context.Context) string {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if spanCtx.HasTraceID() {
		return spanCtx.TraceID().String()
	}
	return ""
}

func splitNonEmpty(commaSeparated string) []string {
	if commaSeparated == "" {
		return nil
	}
	return strings.Split(commaSeparated, ",")
}
