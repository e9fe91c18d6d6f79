package registry

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/diwise/ngsild-client/pkg/ngsild"
	"github.com/diwise/ngsild-client/pkg/ngsild/entities"
	"github.com/diwise/ngsild-client/pkg/ngsild/errors"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
)

// EntityRegistry is an in memory context source: it stores the current state
// of each entity per tenant, together with the temporal evolution of its
// attributes.
type EntityRegistry interface {
	CreateEntity(ctx context.Context, tenant string, e *entities.Entity) (*ngsild.CreateEntityResult, error)
	RetrieveEntity(ctx context.Context, tenant, entityID string) (*entities.Entity, error)
	QueryEntities(ctx context.Context, tenant string, entityTypes, entityAttributes []string, q string) ([]*entities.Entity, int64, error)
	MergeEntity(ctx context.Context, tenant, entityID string, fragment *entities.Fragment) error
	UpdateEntityAttributes(ctx context.Context, tenant, entityID string, fragment *entities.Fragment) (*ngsild.UpdateEntityAttributesResult, error)
	DeleteEntity(ctx context.Context, tenant, entityID string) error

	RetrieveTemporalEvolutionOfEntity(ctx context.Context, tenant, entityID string) (*entities.Entity, error)
	QueryTemporalEvolutionOfEntities(ctx context.Context, tenant string, entityTypes []string) ([]*entities.Entity, int64, error)
}

type registryImpl struct {
	mu      sync.RWMutex
	tenants map[string]*tenantStore
}

type tenantStore struct {
	entities map[string]*entities.Entity
	temporal map[string]*entities.Entity
}

func newTenantStore() *tenantStore {
	return &tenantStore{
		entities: map[string]*entities.Entity{},
		temporal: map[string]*entities.Entity{},
	}
}

// New creates an entity registry holding the configured tenants, seeded
// with any entity files the configuration names.
func New(ctx context.Context, cfg *Config) (EntityRegistry, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	r := &registryImpl{
		tenants: map[string]*tenantStore{},
	}

	log := logging.GetFromContext(ctx)

	for _, tenant := range cfg.Tenants {
		store := newTenantStore()
		r.tenants[tenant.ID] = store

		for _, seedFile := range tenant.SeedFiles {
			seeded, err := entities.Load(ctx, seedFile)
			if err != nil {
				return nil, fmt.Errorf("failed to seed tenant %s from %s: %w", tenant.ID, seedFile, err)
			}

			for _, e := range seeded {
				if _, err := r.createEntity(ctx, store, e); err != nil {
					return nil, fmt.Errorf("failed to seed tenant %s from %s: %w", tenant.ID, seedFile, err)
				}
			}

			log.Info("seeded tenant with entities", "tenant", tenant.ID, "file", seedFile, "count", len(seeded))
		}
	}

	return r, nil
}

func (r *registryImpl) store(tenant string) (*tenantStore, error) {
	store, ok := r.tenants[tenant]
	if !ok {
		return nil, errors.NewUnknownTenantError("unknown tenant " + tenant)
	}
	return store, nil
}

func (r *registryImpl) CreateEntity(ctx context.Context, tenant string, e *entities.Entity) (*ngsild.CreateEntityResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	store, err := r.store(tenant)
	if err != nil {
		return nil, err
	}

	return r.createEntity(ctx, store, e)
}

func (r *registryImpl) createEntity(ctx context.Context, store *tenantStore, e *entities.Entity) (*ngsild.CreateEntityResult, error) {
	entityID := e.ID()

	if _, exists := store.entities[entityID]; exists {
		return nil, errors.NewAlreadyExistsError("entity " + entityID + " already exists")
	}

	store.entities[entityID] = e.Duplicate()
	store.recordObservations(ctx, e)

	return ngsild.NewCreateEntityResult("/ngsi-ld/v1/entities/" + url.QueryEscape(entityID)), nil
}

func (r *registryImpl) RetrieveEntity(ctx context.Context, tenant, entityID string) (*entities.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	store, err := r.store(tenant)
	if err != nil {
		return nil, err
	}

	e, ok := store.entities[entityID]
	if !ok {
		return nil, errors.NewNotFoundError("no entity with id " + entityID)
	}

	return e.Duplicate(), nil
}

func (r *registryImpl) QueryEntities(ctx context.Context, tenant string, entityTypes, entityAttributes []string, q string) ([]*entities.Entity, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	store, err := r.store(tenant)
	if err != nil {
		return nil, 0, err
	}

	conditions, err := parseQueryFilter(q)
	if err != nil {
		return nil, 0, err
	}

	result := make([]*entities.Entity, 0, len(store.entities))

	for _, e := range store.entities {
		if !matchesAny(e.Type(), entityTypes) {
			continue
		}

		if !hasAnyAttribute(&e.Fragment, entityAttributes) {
			continue
		}

		if !matchesConditions(&e.Fragment, conditions) {
			continue
		}

		result = append(result, e.Duplicate())
	}

	return result, int64(len(result)), nil
}

func (r *registryImpl) MergeEntity(ctx context.Context, tenant, entityID string, fragment *entities.Fragment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	store, err := r.store(tenant)
	if err != nil {
		return err
	}

	e, ok := store.entities[entityID]
	if !ok {
		return errors.NewNotFoundError("no entity with id " + entityID)
	}

	e.MergeMap(fragment.ToMap())
	store.recordObservationsFromFragment(ctx, entityID, fragment)

	return nil
}

func (r *registryImpl) UpdateEntityAttributes(ctx context.Context, tenant, entityID string, fragment *entities.Fragment) (*ngsild.UpdateEntityAttributesResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	store, err := r.store(tenant)
	if err != nil {
		return nil, err
	}

	e, ok := store.entities[entityID]
	if !ok {
		return nil, errors.NewNotFoundError("no entity with id " + entityID)
	}

	result := &ngsild.UpdateEntityAttributesResult{Updated: []string{}}

	for name, node := range fragment.ToMap() {
		if name == "id" || name == "type" || name == "@context" {
			result.NotUpdated = append(result.NotUpdated, struct {
				AttributeName string `json:"attributeName"`
				Reason        string `json:"reason"`
			}{AttributeName: name, Reason: "not an attribute"})
			continue
		}

		if err := e.Set(name, node); err != nil {
			result.NotUpdated = append(result.NotUpdated, struct {
				AttributeName string `json:"attributeName"`
				Reason        string `json:"reason"`
			}{AttributeName: name, Reason: err.Error()})
			continue
		}

		result.Updated = append(result.Updated, name)
	}

	store.recordObservationsFromFragment(ctx, entityID, fragment)

	return result, nil
}

func (r *registryImpl) DeleteEntity(ctx context.Context, tenant, entityID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	store, err := r.store(tenant)
	if err != nil {
		return err
	}

	if _, ok := store.entities[entityID]; !ok {
		return errors.NewNotFoundError("no entity with id " + entityID)
	}

	delete(store.entities, entityID)
	delete(store.temporal, entityID)

	return nil
}

func (r *registryImpl) RetrieveTemporalEvolutionOfEntity(ctx context.Context, tenant, entityID string) (*entities.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	store, err := r.store(tenant)
	if err != nil {
		return nil, err
	}

	evolution, ok := store.temporal[entityID]
	if !ok {
		return nil, errors.NewNotFoundError("no temporal evolution for entity " + entityID)
	}

	return evolution.Duplicate(), nil
}

func (r *registryImpl) QueryTemporalEvolutionOfEntities(ctx context.Context, tenant string, entityTypes []string) ([]*entities.Entity, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	store, err := r.store(tenant)
	if err != nil {
		return nil, 0, err
	}

	result := make([]*entities.Entity, 0, len(store.temporal))

	for _, evolution := range store.temporal {
		if !matchesAny(evolution.Type(), entityTypes) {
			continue
		}

		result = append(result, evolution.Duplicate())
	}

	return result, int64(len(result)), nil
}

// recordObservations appends every attribute instance of the entity to its
// temporal evolution.
func (s *tenantStore) recordObservations(ctx context.Context, e *entities.Entity) {
	s.recordObservationsFromFragment(ctx, e.ID(), &e.Fragment)
}

func (s *tenantStore) recordObservationsFromFragment(ctx context.Context, entityID string, fragment *entities.Fragment) {
	current, ok := s.entities[entityID]
	if !ok {
		return
	}

	evolution, ok := s.temporal[entityID]
	if !ok {
		var err error
		evolution, err = entities.New(current.Type(), entityID, entities.Context(current.Context()...))
		if err != nil {
			return
		}
		s.temporal[entityID] = evolution
	}

	for name, node := range fragment.ToMap() {
		if name == "id" || name == "type" || name == "@context" {
			continue
		}

		switch instance := node.(type) {
		case map[string]any:
			appendObservation(ctx, evolution, name, instance)
		case []any:
			for _, elem := range instance {
				if m, ok := elem.(map[string]any); ok {
					appendObservation(ctx, evolution, name, m)
				}
			}
		}
	}
}

func appendObservation(ctx context.Context, evolution *entities.Entity, name string, instance map[string]any) {
	// the instance is rooted under its attribute name so that its own key
	// count never matters to the append
	err := evolution.Append(entities.FragmentFromMap(map[string]any{name: instance}))
	if err != nil {
		logging.GetFromContext(ctx).Warn("failed to record observation", "attribute", name, "err", err.Error())
	}
}

func matchesAny(entityType string, entityTypes []string) bool {
	if len(entityTypes) == 0 {
		return true
	}

	for _, t := range entityTypes {
		if t == "" || t == entityType {
			return true
		}
	}

	return false
}

func hasAnyAttribute(f *entities.Fragment, attributeNames []string) bool {
	if len(attributeNames) == 0 {
		return true
	}

	for _, name := range attributeNames {
		if name == "" {
			return true
		}

		if _, err := f.Get(name); err == nil {
			return true
		}
	}

	return false
}

type queryCondition struct {
	attribute string
	operator  string
	operand   string
}

// parseQueryFilter handles the subset of the NGSI-LD query language that
// the simulator supports: conditions on attribute values joined by ";",
// with the ==, !=, <, > and >=/<= operators.
func parseQueryFilter(q string) ([]queryCondition, error) {
	if q == "" {
		return nil, nil
	}

	operators := []string{"==", "!=", ">=", "<=", ">", "<"}
	conditions := []queryCondition{}

	for _, expr := range strings.Split(q, ";") {
		matched := false

		for _, op := range operators {
			if attr, operand, ok := strings.Cut(expr, op); ok {
				conditions = append(conditions, queryCondition{
					attribute: attr,
					operator:  op,
					operand:   strings.Trim(operand, "\""),
				})
				matched = true
				break
			}
		}

		if !matched {
			return nil, errors.NewBadRequestDataError("unsupported query expression " + expr)
		}
	}

	return conditions, nil
}

func matchesConditions(f *entities.Fragment, conditions []queryCondition) bool {
	for _, c := range conditions {
		value, err := f.Get(c.attribute + ".value")
		if err != nil {
			return false
		}

		if !compare(value, c.operator, c.operand) {
			return false
		}
	}

	return true
}

func compare(value any, operator, operand string) bool {
	if number, ok := toFloat(value); ok {
		wanted, err := strconv.ParseFloat(operand, 64)
		if err != nil {
			return false
		}

		switch operator {
		case "==":
			return number == wanted
		case "!=":
			return number != wanted
		case ">":
			return number > wanted
		case "<":
			return number < wanted
		case ">=":
			return number >= wanted
		case "<=":
			return number <= wanted
		}

		return false
	}

	text := fmt.Sprintf("%v", value)

	switch operator {
	case "==":
		return text == operand
	case "!=":
		return text != operand
	case ">":
		return text > operand
	case "<":
		return text < operand
	case ">=":
		return text >= operand
	case "<=":
		return text <= operand
	}

	return false
}

func toFloat(value any) (float64, bool) {
	switch number := value.(type) {
	case float64:
		return number, true
	case float32:
		return float64(number), true
	case int:
		return float64(number), true
	case int64:
		return float64(number), true
	default:
		return 0, false
	}
}
