// Package access implements access levels and permission resolution for
// groups and surveys.
//
// # Levels
//
// Levels are totally ordered and each one includes the capabilities of the
// ones below it:
//
//	view < edit < owner
//
// HasAccess(needed, granted) is true exactly when granted ranks at or above
// needed. The zero Level is invalid and never grants anything.
//
// # Grants
//
// A Grant binds one admin (Subject) to one Resource (a group or a survey) at a
// level. There is at most one grant per pair, and every resource keeps at
// least one owner: removing or downgrading the only owner fails with
// ErrLastOwner. PostgresStore enforces this inside a transaction that locks
// all grants of the resource, so concurrent removals cannot both succeed.
//
// # Resolution
//
//	resolver := access.NewResolver(access.NewPostgresStore(db),
//		access.WithCache(access.NewLRUCache(4096, 30*time.Second)),
//		access.WithLogger(logger),
//		access.WithMetrics(metrics),
//	)
//
//	if err := resolver.CheckAccess(ctx, subject, access.LevelEdit, access.Survey(id)); err != nil {
//		// access.IsForbidden(err) for ErrAccessDenied / ErrNotAuthorized
//	}
//
// Super-admins resolve to owner on every resource without a lookup.
//
// SetGrant covers adding, changing and removing an admin by email:
//
//	level := access.LevelEdit
//	resolver.SetGrant(ctx, access.Group(7), "researcher@example.com", &level)
//	resolver.SetGrant(ctx, access.Group(7), "researcher@example.com", nil) // remove
//
// # Caching
//
// Positive lookups may be cached in-process (LRUCache) or in Redis
// (RedisCache, shared by several processes). Every mutation made through the
// Resolver invalidates the cached entries of the resource. Changes made
// elsewhere become visible after the cache TTL.
//
// # HTTP
//
// Middleware.RequireLevel guards gorilla/mux routes. The authenticated admin
// must already be in the request context (WithSubject). Responses are 401
// without a subject, 400 for a malformed id and 403 when access is refused.
package access
