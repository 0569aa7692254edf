// Package database provides the SQLite connection used by smartlockd.
//
// The SQLite file always stores user accounts. With storage.backend set to
// "sqlite" (the default) it also stores the lock registry and lock log.
//
// Schema changes are versioned .up.sql/.down.sql files embedded by the
// top-level migrations package and applied by (*DB).Migrate at startup.
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
