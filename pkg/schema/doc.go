// Package schema creates and upgrades the PostgreSQL tables used by the access
// and allocation stores.
//
// Migrations are numbered and applied once each; applied versions are recorded
// in schema_migrations.
//
//	db, _ := sql.Open("postgres", cfg.Database.URL)
//	if err := schema.Run(ctx, db, logger); err != nil {
//		log.Fatal(err)
//	}
package schema
