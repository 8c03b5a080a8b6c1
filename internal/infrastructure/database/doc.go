// Package database provides SQLite connectivity for the Lumen Core
// state store.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Embedded schema migrations, applied in version order
//   - Connection lifecycle and health checks
//
// All queries use parameterised statements and the database file is
// created with owner-only permissions.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: "./data/lumen.db", WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
