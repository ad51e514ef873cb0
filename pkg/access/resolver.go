package access

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/fieldnote/fieldnote/pkg/audit"
	"github.com/fieldnote/fieldnote/pkg/observability"
)

// Resolver determines effective access levels and applies grant changes
type Resolver struct {
	store   Store
	cache   Cache
	logger  *observability.Logger
	metrics *observability.Metrics
	auditor audit.Logger

	// invalidations counts cache invalidations so a lookup racing a change
	// does not cache the level it read before the change
	invalidations atomic.Uint64
}

// ResolverOption configures a Resolver
type ResolverOption func(*Resolver)

// WithCache enables grant caching
func WithCache(cache Cache) ResolverOption {
	return func(r *Resolver) { r.cache = cache }
}

// WithLogger sets the logger
func WithLogger(logger *observability.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = logger }
}

// WithMetrics sets the metrics sink
func WithMetrics(metrics *observability.Metrics) ResolverOption {
	return func(r *Resolver) { r.metrics = metrics }
}

// WithAuditor records every grant change. Audit failures are logged and do
// not undo the change.
func WithAuditor(auditor audit.Logger) ResolverOption {
	return func(r *Resolver) { r.auditor = auditor }
}

// NewResolver creates a resolver backed by store
func NewResolver(store Store, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store:  store,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveGrant returns the level subject holds on res. Super-admins always
// resolve to owner without a lookup. A subject with no grant gets ErrNotAuthorized.
func (r *Resolver) ResolveGrant(ctx context.Context, subject Subject, res Resource) (Level, error) {
	if err := res.Validate(); err != nil {
		return 0, err
	}
	if subject.SuperAdmin {
		return LevelOwner, nil
	}

	if r.cache != nil {
		level, ok, err := r.cache.Get(ctx, subject.ID, res)
		if err != nil {
			r.logger.WithError(err).WithField("resource", res.String()).Warn("Grant cache lookup failed")
		}
		if ok {
			r.cacheHit()
			return level, nil
		}
		r.cacheMiss()
	}

	seen := r.invalidations.Load()
	grant, err := r.store.GetGrant(ctx, subject.ID, res)
	if errors.Is(err, ErrNotFound) {
		return 0, fmt.Errorf("admin %d on %s: %w", subject.ID, res, ErrNotAuthorized)
	}
	if err != nil {
		return 0, err
	}

	if r.cache != nil {
		r.cacheLevel(ctx, subject.ID, res, grant.Level, seen)
	}

	return grant.Level, nil
}

// cacheLevel stores a level read while the invalidation count was seen. It
// stores nothing if a change invalidated res since, and drops the entry again
// if one lands while storing.
func (r *Resolver) cacheLevel(ctx context.Context, subjectID int64, res Resource, level Level, seen uint64) {
	if r.invalidations.Load() != seen {
		return
	}
	if err := r.cache.Set(ctx, subjectID, res, level); err != nil {
		r.logger.WithError(err).WithField("resource", res.String()).Warn("Failed to cache grant")
		return
	}
	if r.invalidations.Load() != seen {
		r.invalidate(ctx, res)
	}
}

// CheckAccess returns nil when subject holds at least needed on res.
// It fails with ErrAccessDenied when the level is too low and ErrNotAuthorized
// when there is no grant at all.
func (r *Resolver) CheckAccess(ctx context.Context, subject Subject, needed Level, res Resource) error {
	if !needed.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidLevel, uint8(needed))
	}

	granted, err := r.ResolveGrant(ctx, subject, res)
	if err != nil {
		if errors.Is(err, ErrNotAuthorized) {
			r.countCheck(res, "unauthorized")
		} else {
			r.countCheck(res, "error")
		}
		return err
	}

	if !HasAccess(needed, granted) {
		r.countCheck(res, "denied")
		return fmt.Errorf("%s requires %s, admin %d has %s: %w", res, needed, subject.ID, granted, ErrAccessDenied)
	}

	r.countCheck(res, "allowed")
	return nil
}

// SetGrant adds, changes or removes the grant of the admin with the given email.
//
// A nil level removes the grant, which fails with ErrLastOwner unless another
// owner remains. A non-nil level updates an existing grant in place or creates
// a new one. Downgrading the only owner also fails with ErrLastOwner.
// The returned grant is nil after a removal.
func (r *Resolver) SetGrant(ctx context.Context, res Resource, email string, level *Level) (*Grant, error) {
	if err := res.Validate(); err != nil {
		return nil, err
	}
	if level != nil && !level.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLevel, uint8(*level))
	}

	subject, err := r.store.FindSubjectByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	logger := r.logger.WithFields(map[string]interface{}{
		"resource": res.String(),
		"admin_id": subject.ID,
	})

	if level == nil {
		if err := r.store.DeleteGrant(ctx, subject.ID, res); err != nil {
			return nil, err
		}
		r.invalidate(ctx, res)
		r.countChange("remove")
		r.recordChange(ctx, audit.EventTypeGrantRemove, subject, res, 0, 0)
		logger.Info("Grant removed")
		return nil, nil
	}

	grant, previous, err := r.upsert(ctx, subject, res, *level)
	if err != nil {
		return nil, err
	}
	r.invalidate(ctx, res)
	if previous.Valid() {
		r.recordChange(ctx, audit.EventTypeGrantUpdate, subject, res, previous, *level)
	} else {
		r.recordChange(ctx, audit.EventTypeGrantCreate, subject, res, 0, *level)
	}
	logger.WithField("level", level.String()).Info("Grant set")

	return grant, nil
}

// upsert sets the level and returns the level held before, zero for a new grant
func (r *Resolver) upsert(ctx context.Context, subject *Subject, res Resource, level Level) (*Grant, Level, error) {
	existing, err := r.store.GetGrant(ctx, subject.ID, res)
	switch {
	case err == nil:
		if err := r.store.UpdateGrantLevel(ctx, subject.ID, res, level); err != nil {
			return nil, 0, err
		}
		previous := existing.Level
		existing.Level = level
		r.countChange("update")
		return existing, previous, nil
	case !errors.Is(err, ErrNotFound):
		return nil, 0, err
	}

	grant := &Grant{
		SubjectID: subject.ID,
		Email:     subject.Email,
		Resource:  res,
		Level:     level,
	}
	err = r.store.CreateGrant(ctx, grant)
	if errors.Is(err, ErrGrantExists) {
		// created concurrently; fall back to an update of the grant that won
		current, err := r.store.GetGrant(ctx, subject.ID, res)
		if err != nil {
			return nil, 0, err
		}
		if err := r.store.UpdateGrantLevel(ctx, subject.ID, res, level); err != nil {
			return nil, 0, err
		}
		previous := current.Level
		current.Level = level
		r.countChange("update")
		return current, previous, nil
	}
	if err != nil {
		return nil, 0, err
	}

	r.countChange("create")
	return grant, 0, nil
}

// ListGrants returns the admins of res with their levels
func (r *Resolver) ListGrants(ctx context.Context, res Resource) ([]Grant, error) {
	if err := res.Validate(); err != nil {
		return nil, err
	}
	return r.store.ListGrants(ctx, res)
}

func (r *Resolver) invalidate(ctx context.Context, res Resource) {
	if r.cache == nil {
		return
	}
	r.invalidations.Add(1)
	if err := r.cache.Invalidate(ctx, res); err != nil {
		r.logger.WithError(err).WithField("resource", res.String()).Warn("Failed to invalidate grant cache")
	}
}

// recordChange records a grant change. Zero levels mean no grant.
func (r *Resolver) recordChange(ctx context.Context, eventType audit.EventType, subject *Subject, res Resource, previous, level Level) {
	if r.auditor == nil {
		return
	}

	event := audit.NewEvent(ctx, eventType)
	event.AdminID = subject.ID
	event.Email = subject.Email
	event.ResourceKind = string(res.Kind)
	event.ResourceID = res.ID
	if previous.Valid() {
		event.PreviousLevel = previous.String()
	}
	if level.Valid() {
		event.Level = level.String()
	}

	if err := r.auditor.Log(ctx, event); err != nil {
		r.logger.WithError(err).WithField("resource", res.String()).Warn("Failed to record grant audit event")
	}
}

func (r *Resolver) countCheck(res Resource, result string) {
	if r.metrics != nil {
		r.metrics.AccessChecksTotal.WithLabelValues(string(res.Kind), result).Inc()
	}
}

func (r *Resolver) countChange(operation string) {
	if r.metrics != nil {
		r.metrics.GrantChangesTotal.WithLabelValues(operation).Inc()
	}
}

func (r *Resolver) cacheHit() {
	if r.metrics != nil {
		r.metrics.GrantCacheHits.Inc()
	}
}

func (r *Resolver) cacheMiss() {
	if r.metrics != nil {
		r.metrics.GrantCacheMisses.Inc()
	}
}
