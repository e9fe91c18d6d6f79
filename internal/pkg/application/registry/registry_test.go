package registry

import (
	"context"
	goerrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/diwise/ngsild-client/pkg/ngsild/entities"
	ngsierrors "github.com/diwise/ngsild-client/pkg/ngsild/errors"
	"github.com/matryer/is"
)

func TestCreateAndRetrieveEntity(t *testing.T) {
	is, ctx, r := testSetup(t)

	result, err := r.CreateEntity(ctx, "default", testEntity(is, "Vehicle", "A4567"))
	is.NoErr(err)
	is.Equal(result.Location(), "/ngsi-ld/v1/entities/urn%3Angsi-ld%3AVehicle%3AA4567")

	e, err := r.RetrieveEntity(ctx, "default", "urn:ngsi-ld:Vehicle:A4567")
	is.NoErr(err)
	is.Equal(e.Type(), "Vehicle")
}

func TestCreateEntityRejectsDuplicates(t *testing.T) {
	is, ctx, r := testSetup(t)

	_, err := r.CreateEntity(ctx, "default", testEntity(is, "Vehicle", "A4567"))
	is.NoErr(err)

	_, err = r.CreateEntity(ctx, "default", testEntity(is, "Vehicle", "A4567"))
	is.True(goerrors.Is(err, ngsierrors.ErrAlreadyExists))
}

func TestUnknownTenantsAreRejected(t *testing.T) {
	is, ctx, r := testSetup(t)

	_, err := r.CreateEntity(ctx, "nosuchtenant", testEntity(is, "Vehicle", "A4567"))
	is.True(goerrors.Is(err, ngsierrors.ErrUnknownTenant))

	_, err = r.RetrieveEntity(ctx, "nosuchtenant", "urn:ngsi-ld:Vehicle:A4567")
	is.True(goerrors.Is(err, ngsierrors.ErrUnknownTenant))
}

func TestRetrieveEntityNotFound(t *testing.T) {
	is, ctx, r := testSetup(t)

	_, err := r.RetrieveEntity(ctx, "default", "urn:ngsi-ld:Vehicle:A4567")
	is.True(goerrors.Is(err, ngsierrors.ErrNotFound))
}

func TestQueryEntitiesByType(t *testing.T) {
	is, ctx, r := testSetup(t)

	_, err := r.CreateEntity(ctx, "default", testVehicle(is, "A4567", 55))
	is.NoErr(err)
	_, err = r.CreateEntity(ctx, "default", testEntity(is, "Road", "E6"))
	is.NoErr(err)

	found, count, err := r.QueryEntities(ctx, "default", []string{"Vehicle"}, nil, "")
	is.NoErr(err)
	is.Equal(count, int64(1))
	is.Equal(found[0].ID(), "urn:ngsi-ld:Vehicle:A4567")
}

func TestQueryEntitiesWithFilter(t *testing.T) {
	is, ctx, r := testSetup(t)

	_, err := r.CreateEntity(ctx, "default", testVehicle(is, "A4567", 55))
	is.NoErr(err)
	_, err = r.CreateEntity(ctx, "default", testVehicle(is, "B9876", 40))
	is.NoErr(err)

	found, count, err := r.QueryEntities(ctx, "default", []string{"Vehicle"}, nil, "speed>50")
	is.NoErr(err)
	is.Equal(count, int64(1))
	is.Equal(found[0].ID(), "urn:ngsi-ld:Vehicle:A4567")

	_, count, err = r.QueryEntities(ctx, "default", []string{"Vehicle"}, nil, "speed<=55")
	is.NoErr(err)
	is.Equal(count, int64(2))
}

func TestQueryEntitiesRejectsUnsupportedFilters(t *testing.T) {
	is, ctx, r := testSetup(t)

	_, _, err := r.QueryEntities(ctx, "default", nil, nil, "speed~=50")
	is.True(goerrors.Is(err, ngsierrors.ErrBadRequest))
}

func TestQueryEntitiesByAttribute(t *testing.T) {
	is, ctx, r := testSetup(t)

	_, err := r.CreateEntity(ctx, "default", testVehicle(is, "A4567", 55))
	is.NoErr(err)
	_, err = r.CreateEntity(ctx, "default", testEntity(is, "Road", "E6"))
	is.NoErr(err)

	_, count, err := r.QueryEntities(ctx, "default", nil, []string{"speed"}, "")
	is.NoErr(err)
	is.Equal(count, int64(1))
}

func TestMergeEntity(t *testing.T) {
	is, ctx, r := testSetup(t)

	_, err := r.CreateEntity(ctx, "default", testVehicle(is, "A4567", 55))
	is.NoErr(err)

	fragment := entities.NewFragment().Property("speed", 60)
	is.NoErr(fragment.Err())

	is.NoErr(r.MergeEntity(ctx, "default", "urn:ngsi-ld:Vehicle:A4567", fragment))

	e, err := r.RetrieveEntity(ctx, "default", "urn:ngsi-ld:Vehicle:A4567")
	is.NoErr(err)

	value, err := e.Get("speed.value")
	is.NoErr(err)
	is.Equal(value, 60)
}

func TestUpdateEntityAttributesReportsNonAttributes(t *testing.T) {
	is, ctx, r := testSetup(t)

	_, err := r.CreateEntity(ctx, "default", testVehicle(is, "A4567", 55))
	is.NoErr(err)

	fragment := entities.NewFragment().Property("speed", 60)
	fragment.MergeMap(map[string]any{"id": "urn:ngsi-ld:Vehicle:other"})

	result, err := r.UpdateEntityAttributes(ctx, "default", "urn:ngsi-ld:Vehicle:A4567", fragment)
	is.NoErr(err)
	is.True(result.IsMultiStatus())
	is.Equal(result.Updated, []string{"speed"})
	is.Equal(result.NotUpdated[0].AttributeName, "id")
	is.Equal(result.NotUpdated[0].Reason, "not an attribute")
}

func TestDeleteEntity(t *testing.T) {
	is, ctx, r := testSetup(t)

	_, err := r.CreateEntity(ctx, "default", testVehicle(is, "A4567", 55))
	is.NoErr(err)

	is.NoErr(r.DeleteEntity(ctx, "default", "urn:ngsi-ld:Vehicle:A4567"))

	_, err = r.RetrieveEntity(ctx, "default", "urn:ngsi-ld:Vehicle:A4567")
	is.True(goerrors.Is(err, ngsierrors.ErrNotFound))

	err = r.DeleteEntity(ctx, "default", "urn:ngsi-ld:Vehicle:A4567")
	is.True(goerrors.Is(err, ngsierrors.ErrNotFound))
}

func TestTemporalEvolutionAccumulatesObservations(t *testing.T) {
	is, ctx, r := testSetup(t)

	_, err := r.CreateEntity(ctx, "default", testVehicle(is, "A4567", 55))
	is.NoErr(err)

	fragment := entities.NewFragment().Property("speed", 60)
	is.NoErr(r.MergeEntity(ctx, "default", "urn:ngsi-ld:Vehicle:A4567", fragment))

	evolution, err := r.RetrieveTemporalEvolutionOfEntity(ctx, "default", "urn:ngsi-ld:Vehicle:A4567")
	is.NoErr(err)

	first, err := evolution.Get("speed[0].value")
	is.NoErr(err)
	is.Equal(first, 55)

	second, err := evolution.Get("speed[1].value")
	is.NoErr(err)
	is.Equal(second, 60)
}

func TestTemporalEvolutionRecordsSingleKeyAttributeInstances(t *testing.T) {
	is, ctx, r := testSetup(t)

	_, err := r.CreateEntity(ctx, "default", testVehicle(is, "A4567", 55))
	is.NoErr(err)

	fragment := entities.FragmentFromMap(map[string]any{
		"speed": map[string]any{"value": 60},
	})
	is.NoErr(r.MergeEntity(ctx, "default", "urn:ngsi-ld:Vehicle:A4567", fragment))

	evolution, err := r.RetrieveTemporalEvolutionOfEntity(ctx, "default", "urn:ngsi-ld:Vehicle:A4567")
	is.NoErr(err)

	value, err := evolution.Get("speed[1].value")
	is.NoErr(err)
	is.Equal(value, 60)
}

func TestQueryTemporalEvolutionOfEntities(t *testing.T) {
	is, ctx, r := testSetup(t)

	_, err := r.CreateEntity(ctx, "default", testVehicle(is, "A4567", 55))
	is.NoErr(err)
	_, err = r.CreateEntity(ctx, "default", testEntity(is, "Road", "E6"))
	is.NoErr(err)

	found, count, err := r.QueryTemporalEvolutionOfEntities(ctx, "default", []string{"Vehicle"})
	is.NoErr(err)
	is.Equal(count, int64(1))
	is.Equal(found[0].ID(), "urn:ngsi-ld:Vehicle:A4567")
}

func TestNewSeedsTenantsFromConfiguredFiles(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	seedFile := filepath.Join(t.TempDir(), "vehicles.json")
	vehicle := testVehicle(is, "A4567", 55)
	is.NoErr(entities.SaveBatch([]*entities.Entity{vehicle}, seedFile))

	cfg, err := LoadConfiguration(strings.NewReader(
		"tenants:\n" +
			"  - id: default\n" +
			"    name: default tenant\n" +
			"    seedFiles:\n" +
			"      - " + seedFile + "\n",
	))
	is.NoErr(err)

	r, err := New(ctx, cfg)
	is.NoErr(err)

	e, err := r.RetrieveEntity(ctx, "default", "urn:ngsi-ld:Vehicle:A4567")
	is.NoErr(err)
	is.Equal(e.Type(), "Vehicle")
}

func TestNewFailsOnMissingSeedFiles(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	cfg := &Config{Tenants: []TenantConfig{{
		ID:        "default",
		SeedFiles: []string{filepath.Join(t.TempDir(), "missing.json")},
	}}}

	_, err := New(ctx, cfg)
	is.True(err != nil)
	is.True(goerrors.Is(err, os.ErrNotExist))
}

func testSetup(t *testing.T) (*is.I, context.Context, EntityRegistry) {
	is := is.New(t)
	ctx := context.Background()

	r, err := New(ctx, DefaultConfig())
	is.NoErr(err)

	return is, ctx, r
}

func testEntity(is *is.I, entityType, entityID string) *entities.Entity {
	e, err := entities.New(entityType, entityID)
	is.NoErr(err)
	return e
}

func testVehicle(is *is.I, entityID string, speed int) *entities.Entity {
	e := testEntity(is, "Vehicle", entityID)
	e.Property("speed", speed, entities.UnitCode("KMH"))
	is.NoErr(e.Err())
	return e
}
