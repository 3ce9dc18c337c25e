// Package database opens the SQLite file that backs payload history and
// applies the embedded schema migrations.
//
// Migrations are plain SQL files named YYYYMMDD_HHMMSS_description.up.sql
// with an optional matching .down.sql. Each one runs in its own transaction
// and is recorded in schema_migrations, so Migrate is safe to call on every
// start.
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
