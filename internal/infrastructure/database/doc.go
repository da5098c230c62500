// Package database provides SQLite connectivity for the presence service.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Embedded schema migrations applied in version order
//   - Connection pooling and lifecycle management
//
// The service keeps two tables here: the monitored targets that survive a
// restart, and the history of every state transition.
//
// Security Considerations:
//   - All queries use parameterised statements (no SQL injection)
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{
//	    Path:        cfg.Database.Path,
//	    WALMode:     cfg.Database.WALMode,
//	    BusyTimeout: cfg.Database.BusyTimeout,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with a
// matching .down.sql, and are embedded by the migrations package.
package database
