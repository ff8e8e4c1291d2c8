// Package database provides SQLite connectivity for the RIO bridge.
//
// This package manages:
//   - The database connection with WAL mode for concurrent reads
//   - Schema migrations read from an fs.FS (embedded by package migrations)
//   - Connection lifecycle and health checks
//
// The bridge stores variable change history here; see package history.
//
// Security Considerations:
//   - All queries use parameterised statements
//   - The database file is chmod 0600
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration Strategy:
//
// Files are named YYYYMMDD_HHMMSS_description.up.sql with an optional
// matching .down.sql. Migrations are additive; new columns must be
// nullable or carry a default.
package database
