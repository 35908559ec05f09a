// Package database opens the SQLite file backing the console's durable
// credential store and applies its embedded schema migrations.
//
// The console keeps very little on disk: one identity record per key. SQLite
// is used when several console processes on one host need a shared store with
// proper locking; single-user installs can use the plain file backend instead.
//
// Security Considerations:
//   - All queries use parameterised statements
//   - The database file is chmod 0600 after opening
//   - Only identity metadata is stored; credentials live in cookies
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Storage.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS, "."); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql.
package database
