// Package storage opens the backing services: the PostgreSQL pool shared by the
// access and allocation stores, and the optional Redis client behind the
// grant cache.
//
//	db, err := storage.OpenPostgres(ctx, cfg.Database)
//	cache, redisClient, err := storage.NewGrantCache(ctx, cfg.Cache)
//	resolver := access.NewResolver(access.NewPostgresStore(db), access.WithCache(cache))
package storage
