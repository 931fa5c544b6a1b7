package ingestion

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/jkaflik/mqtt2hass/hass"
	"github.com/jkaflik/mqtt2hass/internal/metrics"
)

// EntityStore is the recorder-side view of entity resolution.
type EntityStore interface {
	LookupEntity(ctx context.Context, entityID string) (int64, bool, error)
	RegisterEntity(ctx context.Context, entityID string) (int64, error)
}

// EntityAPI is the Home Assistant view of an entity: whether it is already
// tracked, and creation when it is not.
type EntityAPI interface {
	EntityExists(ctx context.Context, entityID string) (bool, error)
	CreateEntity(ctx context.Context, entityID, state string, attributes map[string]any) error
}

// Resolver maps entity IDs to their internal store references. Resolutions
// are cached for the process lifetime; cache misses for the same entity are
// collapsed into a single in-flight lookup/creation so concurrent records
// never trigger duplicate creation calls.
type Resolver struct {
	store         EntityStore
	api           EntityAPI
	createMissing bool

	mu    sync.RWMutex
	cache map[string]int64

	group singleflight.Group
}

// NewResolver creates a Resolver. api may be nil when createMissing is false.
// The bounded creation retry policy lives in the EntityAPI implementation.
func NewResolver(store EntityStore, api EntityAPI, createMissing bool) *Resolver {
	return &Resolver{
		store:         store,
		api:           api,
		createMissing: createMissing,
		cache:         make(map[string]int64),
	}
}

// Resolve returns the internal reference for entityID, creating the entity
// when it is unknown and creation is enabled. initialAttributes seed the
// created entity; they are taken from the record that triggered the miss.
func (r *Resolver) Resolve(ctx context.Context, entityID string, initialAttributes map[string]any) (int64, error) {
	r.mu.RLock()
	id, ok := r.cache[entityID]
	r.mu.RUnlock()
	if ok {
		metrics.EntityCacheHits.Inc()
		return id, nil
	}

	v, err, _ := r.group.Do(entityID, func() (any, error) {
		return r.resolveSlow(ctx, entityID, initialAttributes)
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// Invalidate drops a cached resolution so the next Resolve hits the store.
func (r *Resolver) Invalidate(entityID string) {
	r.mu.Lock()
	delete(r.cache, entityID)
	r.mu.Unlock()
}

func (r *Resolver) resolveSlow(ctx context.Context, entityID string, initialAttributes map[string]any) (int64, error) {
	// Re-check under the flight: a concurrent caller may have resolved the
	// entity between our cache read and entering the group.
	r.mu.RLock()
	id, ok := r.cache[entityID]
	r.mu.RUnlock()
	if ok {
		return id, nil
	}

	id, found, err := r.store.LookupEntity(ctx, entityID)
	if err != nil {
		return 0, err
	}
	if found {
		r.remember(entityID, id)
		return id, nil
	}

	if !r.createMissing {
		return 0, fmt.Errorf("%w: %s", ErrEntityNotFound, entityID)
	}

	// The entity may be live in Home Assistant while absent from the
	// recorder database (excluded from recording, or a fresh/purged DB).
	// Posting a state in that case would clobber the live state, so only
	// create what Home Assistant itself does not know about.
	exists, err := r.api.EntityExists(ctx, entityID)
	if err != nil {
		metrics.EntityCreationFailures.Inc()
		return 0, &EntityCreationError{EntityID: entityID, Err: err}
	}

	if exists {
		log.Debug().Str("entity_id", entityID).Msg("Entity is live but not recorded, skipping creation")
	} else {
		if err := r.createEntity(ctx, entityID, initialAttributes); err != nil {
			metrics.EntityCreationFailures.Inc()
			return 0, &EntityCreationError{EntityID: entityID, Err: err}
		}
		metrics.EntitiesCreated.Inc()
		log.Info().Str("entity_id", entityID).Msg("Created missing entity")
	}

	id, err = r.store.RegisterEntity(ctx, entityID)
	if err != nil {
		return 0, fmt.Errorf("failed to register entity %s: %w", entityID, err)
	}

	r.remember(entityID, id)
	return id, nil
}

func (r *Resolver) createEntity(ctx context.Context, entityID string, initialAttributes map[string]any) error {
	attributes := make(map[string]any, len(initialAttributes)+1)
	for k, v := range initialAttributes {
		attributes[k] = v
	}
	if _, ok := attributes["friendly_name"]; !ok {
		if _, objectID, err := hass.SplitEntityID(entityID); err == nil {
			attributes["friendly_name"] = hass.FriendlyName(objectID)
		}
	}

	return r.api.CreateEntity(ctx, entityID, hass.UnknownValue, attributes)
}

func (r *Resolver) remember(entityID string, id int64) {
	r.mu.Lock()
	r.cache[entityID] = id
	r.mu.Unlock()
}
