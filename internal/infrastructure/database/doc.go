// Package database provides SQLite connectivity for the sync service.
//
// It owns the connection (WAL mode, busy timeout, single writer) and the
// embedded schema migrations. Devices, capability history and the
// settings key-value table that holds account tokens all live here.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
