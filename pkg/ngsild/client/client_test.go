package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/diwise/ngsild-client/pkg/ngsild/entities"
	ngsierrors "github.com/diwise/ngsild-client/pkg/ngsild/errors"
	testutils "github.com/diwise/service-chassis/pkg/test/http"
	"github.com/diwise/service-chassis/pkg/test/http/expects"
	"github.com/diwise/service-chassis/pkg/test/http/response"

	"github.com/matryer/is"
)

var Expects = testutils.Expects
var Returns = testutils.Returns
var anyInput = expects.AnyInput
var method = expects.RequestMethod
var path = expects.RequestPath
var body = expects.RequestBody

func TestCreateEntity(t *testing.T) {
	is := is.New(t)

	locationHeader := "/ngsi-ld/v1/entities/urn:ngsi-ld:Road:id"
	s := testutils.NewMockServiceThat(
		Expects(
			is,
			method(http.MethodPost),
			path("/ngsi-ld/v1/entities"),
			body("{\"@context\":[\"https://uri.etsi.org/ngsi-ld/v1/ngsi-ld-core-context.jsonld\"],\"id\":\"urn:ngsi-ld:Road:id\",\"type\":\"Road\"}"),
		),
		Returns(
			response.ContentType("application/ld+json"),
			response.Location(locationHeader),
			response.Code(http.StatusCreated),
		),
	)
	defer s.Close()

	c := NewContextBrokerClient(s.URL())

	result, err := c.CreateEntity(context.Background(), testEntity("Road", "id"), nil)

	is.NoErr(err)
	is.Equal(result.Location(), locationHeader)
}

func TestCreateEntityHandlesMissingLocationheader(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(is, anyInput()),
		Returns(
			response.ContentType("application/ld+json"),
			response.Code(http.StatusCreated),
		),
	)
	defer s.Close()

	c := NewContextBrokerClient(s.URL())

	result, err := c.CreateEntity(context.Background(), testEntity("Road", "id"), nil)

	is.NoErr(err)
	is.Equal(result.Location(), "/ngsi-ld/v1/entities/urn%3Angsi-ld%3ARoad%3Aid")
}

func TestCreateEntityThrowsErrorOnNon201Success(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(is, anyInput()),
		Returns(response.Code(http.StatusNoContent)),
	)
	defer s.Close()

	c := NewContextBrokerClient(s.URL())

	_, err := c.CreateEntity(context.Background(), testEntity("Road", "id"), nil)

	is.True(err != nil)
	is.Equal(err.Error(), "unexpected response code 204 (internal error)")
}

func TestCreateEntityHandlesBadRequestError(t *testing.T) {
	is := is.New(t)

	pr := ngsierrors.NewBadRequestData("bad request", "traceID")
	b, _ := json.Marshal(pr)

	s := testutils.NewMockServiceThat(
		Expects(is, anyInput()),
		Returns(
			response.ContentType("application/problem+json"),
			response.Code(http.StatusBadRequest),
			response.Body(b),
		),
	)
	defer s.Close()

	c := NewContextBrokerClient(s.URL())

	_, err := c.CreateEntity(context.Background(), testEntity("A", "id"), nil)

	is.True(err != nil)
	is.True(errors.Is(err, ngsierrors.ErrBadRequest))
}

func TestRetrieveEntity(t *testing.T) {
	is := is.New(t)

	responseBody, _ := testEntity("Road", "id").MarshalJSON()

	s := testutils.NewMockServiceThat(
		Expects(
			is,
			method(http.MethodGet),
			path("/ngsi-ld/v1/entities/id"),
		),
		Returns(
			response.ContentType("application/ld+json"),
			response.Code(http.StatusOK),
			response.Body(responseBody),
		),
	)
	defer s.Close()

	c := NewContextBrokerClient(s.URL())

	e, err := c.RetrieveEntity(context.Background(), "id", nil)

	is.NoErr(err)
	is.Equal(e.ID(), "urn:ngsi-ld:Road:id")
	is.Equal(e.Type(), "Road")
}

func TestRetrieveEntityNotFound(t *testing.T) {
	is := is.New(t)

	pr := ngsierrors.NewNotFound("not found", "traceID")
	b, _ := json.Marshal(pr)

	s := testutils.NewMockServiceThat(
		Expects(is, anyInput()),
		Returns(
			response.ContentType("application/problem+json"),
			response.Code(http.StatusNotFound),
			response.Body(b),
		),
	)
	defer s.Close()

	c := NewContextBrokerClient(s.URL())

	_, err := c.RetrieveEntity(context.Background(), "urn:ngsi-ld:Road:id", nil)

	is.True(err != nil)
	is.True(errors.Is(err, ngsierrors.ErrNotFound))
}

func TestQueryEntities(t *testing.T) {
	is := is.New(t)

	first, _ := testEntity("Road", "id1").MarshalJSON()
	second, _ := testEntity("Road", "id2").MarshalJSON()
	responseBody := []byte("[" + string(first) + "," + string(second) + "]")

	s := testutils.NewMockServiceThat(
		Expects(
			is,
			method(http.MethodGet),
			path("/ngsi-ld/v1/entities"),
			QueryParamEquals("type", "Road"),
		),
		Returns(
			response.ContentType("application/ld+json"),
			response.Code(http.StatusOK),
			response.Body(responseBody),
		),
	)
	defer s.Close()

	c := NewContextBrokerClient(s.URL())

	result, err := c.QueryEntities(context.Background(), []string{"Road"}, nil, "/ngsi-ld/v1/entities?type=Road", nil)
	is.NoErr(err)
	is.Equal(result.TotalCount, int64(-1))

	found := []*entities.Entity{}
	for e := range result.Found {
		if e == nil {
			break
		}
		found = append(found, e)
	}

	is.Equal(len(found), 2)
	is.Equal(found[0].ID(), "urn:ngsi-ld:Road:id1")
	is.Equal(found[1].ID(), "urn:ngsi-ld:Road:id2")
}

func TestMergeEntity(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(
			is,
			method(http.MethodPatch),
			path("/ngsi-ld/v1/entities/id"),
			body("{\"speed\":{\"type\":\"Property\",\"unitCode\":\"KMH\",\"value\":55}}"),
		),
		Returns(response.Code(http.StatusNoContent)),
	)
	defer s.Close()

	c := NewContextBrokerClient(s.URL())

	fragment := entities.NewFragment().Property("speed", 55, entities.UnitCode("KMH"))
	is.NoErr(fragment.Err())

	_, err := c.MergeEntity(context.Background(), "id", fragment, nil)

	is.NoErr(err)
	is.Equal(s.RequestCount(), 1)
}

func TestUpdateEntityAttributesWithMetaData(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(
			is,
			method(http.MethodPatch),
			path("/ngsi-ld/v1/entities/id/attrs/"),
			body(
				"{\"waterConsumption\":{\"observedAt\":\"2006-01-02T15:04:05Z\",\"type\":\"Property\",\"unitCode\":\"LTR\",\"value\":100}}",
			),
		),
		Returns(
			response.Code(http.StatusNoContent),
		),
	)
	defer s.Close()

	c := NewContextBrokerClient(s.URL())

	fragment := entities.NewFragment().
		Property("waterConsumption", 100,
			entities.UnitCode("LTR"),
			entities.ObservedAt("2006-01-02T15:04:05Z"),
		)
	is.NoErr(fragment.Err())

	_, err := c.UpdateEntityAttributes(context.Background(), "id", fragment, nil)
	is.NoErr(err)
	is.Equal(s.RequestCount(), 1)
}

func TestUpdateEntityAttributesReportsPartialSuccess(t *testing.T) {
	is := is.New(t)

	multiStatus := `{"updated":["speed"],"notUpdated":[{"attributeName":"unknown","reason":"not an attribute"}]}`

	s := testutils.NewMockServiceThat(
		Expects(is, anyInput()),
		Returns(
			response.ContentType("application/json"),
			response.Code(http.StatusMultiStatus),
			response.Body([]byte(multiStatus)),
		),
	)
	defer s.Close()

	c := NewContextBrokerClient(s.URL())

	fragment := entities.NewFragment().Property("speed", 55)
	result, err := c.UpdateEntityAttributes(context.Background(), "id", fragment, nil)

	is.NoErr(err)
	is.True(result.IsMultiStatus())
	is.Equal(result.Updated, []string{"speed"})
}

func TestDeleteEntity(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(
			is,
			method(http.MethodDelete),
			path("/ngsi-ld/v1/entities/id"),
			body(""),
		),
		Returns(response.Code(http.StatusNoContent)),
	)
	defer s.Close()

	c := NewContextBrokerClient(s.URL())

	_, err := c.DeleteEntity(context.Background(), "id")

	is.NoErr(err)
	is.Equal(s.RequestCount(), 1)
}

func TestDeleteEntityNotFound(t *testing.T) {
	is := is.New(t)

	pr := ngsierrors.NewNotFound("not found", "traceID")
	b, _ := json.Marshal(pr)

	s := testutils.NewMockServiceThat(
		Expects(is, anyInput()),
		Returns(
			response.ContentType("application/problem+json"),
			response.Code(http.StatusNotFound),
			response.Body(b),
		),
	)
	defer s.Close()

	c := NewContextBrokerClient(s.URL())

	_, err := c.DeleteEntity(context.Background(), "id")

	is.True(err != nil)
	is.True(errors.Is(err, ngsierrors.ErrNotFound))
}

func TestRetrieveTemporalEvolutionOfAnEntity(t *testing.T) {
	is := is.New(t)

	timeStr := "2023-01-22T11:59:43Z"

	s := testutils.NewMockServiceThat(
		Expects(
			is,
			expects.RequestPath("/ngsi-ld/v1/temporal/entities/id"),
			QueryParamEquals("timerel", "after"),
			QueryParamEquals("timeAt", timeStr),
		),
		Returns(
			response.ContentType("application/ld+json"),
			response.Code(http.StatusOK),
			response.Body([]byte(temporalEntityResponse)),
		),
	)
	defer s.Close()

	headers := map[string][]string{"Accept": {"application/ld+json"}}
	timeAt, _ := time.Parse(time.RFC3339, timeStr)

	c := NewContextBrokerClient(s.URL())
	et, err := c.RetrieveTemporalEvolutionOfEntity(context.Background(), "id", headers, After(timeAt))

	is.NoErr(err)
	is.Equal(et.ID(), "urn:ngsi-ld:Vehicle:B9211")
}

func TestRetrieveAggregatedTemporalEvolutionOfAnEntity(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(
			is,
			expects.RequestPath("/ngsi-ld/v1/temporal/entities/id"),
			QueryParamContains("aggrMethods", "max"),
			QueryParamEquals("aggrPeriodDuration", "P1D"),
			QueryParamEquals("options", "aggregatedValues"),
		),
		Returns(
			response.ContentType("application/ld+json"),
			response.Code(http.StatusOK),
			response.Body([]byte(temporalEntityResponse)),
		),
	)
	defer s.Close()

	headers := map[string][]string{"Accept": {"application/ld+json"}}

	c := NewContextBrokerClient(s.URL())
	_, err := c.RetrieveTemporalEvolutionOfEntity(context.Background(), "id", headers,
		Aggregation(
			[]AggregationMethod{AggregatedMax, AggregatedMin},
			ByDay(),
		))

	is.NoErr(err)
}

func TestQueryTemporalEvolutionOfEntities(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(
			is,
			expects.RequestPath("/ngsi-ld/v1/temporal/entities"),
			QueryParamEquals("type", "Vehicle"),
			QueryParamEquals("lastN", "5"),
		),
		Returns(
			response.ContentType("application/ld+json"),
			response.Code(http.StatusOK),
			response.Body([]byte("["+temporalEntityResponse+"]")),
		),
	)
	defer s.Close()

	c := NewContextBrokerClient(s.URL())
	result, err := c.QueryTemporalEvolutionOfEntities(context.Background(), nil,
		Types([]string{"Vehicle"}),
		LastN(5),
	)

	is.NoErr(err)

	found := []*entities.Entity{}
	for e := range result.Found {
		if e == nil {
			break
		}
		found = append(found, e)
	}

	is.Equal(len(found), 1)
	is.Equal(found[0].Type(), "Vehicle")
}

func TestTenantHeaderIsSentForNonDefaultTenants(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(is, RequestHeaderEquals("NGSILD-Tenant", "smartcity")),
		Returns(response.Code(http.StatusNoContent)),
	)
	defer s.Close()

	c := NewContextBrokerClient(s.URL(), Tenant("smartcity"))

	_, err := c.DeleteEntity(context.Background(), "id")

	is.NoErr(err)
}

func testEntity(entityType, entityID string) *entities.Entity {
	e, _ := entities.New(entityType, entityID)
	return e
}

const temporalEntityResponse string = `{
	"id":"urn:ngsi-ld:Vehicle:B9211", "type":"Vehicle",
"speed":[
{
"type":"Property",
"value":120, "observedAt":"2018-08-01T12:03:00Z"
}, {
"type":"Property",
"value":80, "observedAt":"2018-08-01T12:05:00Z"
}, {
"type":"Property",
"value":100, "observedAt":"2018-08-01T12:07:00Z"
} ],
"@context":[
"http://example.org/ngsi-ld/latest/vehicle.jsonld", "https://uri.etsi.org/ngsi-ld/v1/ngsi-ld-core-context-v1.5.jsonld"
] }`

func QueryParamContains(name, value string) func(*is.I, *http.Request) {
	return func(is *is.I, r *http.Request) {
		is.True(r.URL.Query().Has(name)) // query param should exist

		for _, v := range strings.Split(r.URL.Query().Get(name), ",") {
			if v == value {
				return // it is a match!
			}
		}

		is.Fail() // query params did not contain expected value
	}
}

func QueryParamEquals(name, value string) func(*is.I, *http.Request) {
	return func(is *is.I, r *http.Request) {
		is.True(r.URL.Query().Has(name))         // query param should exist
		is.Equal(r.URL.Query().Get(name), value) // query param should match
	}
}

func RequestHeaderEquals(name, value string) func(*is.I, *http.Request) {
	return func(is *is.I, r *http.Request) {
		is.Equal(r.Header.Get(name), value) // request header should match
	}
}
