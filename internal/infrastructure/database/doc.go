// Package database opens the SQLite store behind the address journal.
//
// Schema changes are forward-only .up.sql files applied in version order
// by Migrate. The panel embeds them from the top-level migrations package:
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
