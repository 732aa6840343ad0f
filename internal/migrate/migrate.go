// Package migrate applies ditox's embedded SQL migrations to a SQLite
// database, tracking progress in PRAGMA user_version (spec.md §4.3).
// Grounded on MKhiriev-GoPassKeeper/migrations (goose + embed.FS), adapted
// to track a single version pragma instead of a migration-tracking table,
// since the spec requires that exact mechanism plus tolerance for replicas
// that forbid setting user_version.
package migrate

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/0xfell/ditox/internal/ditoxerr"
)

//go:embed migrations/*.sql
var embedded embed.FS

// script is one named, embedded migration.
type script struct {
	version int
	name    string
	sql     string
}

// idempotentErrors are substrings of sqlite3 error messages that indicate a
// migration statement's effect is already in place (e.g. a second
// application of the same script, or a replica that re-runs scripts
// because it cannot persist user_version). Scripts are written so that
// encountering one of these mid-script is safe to treat as "already
// applied" for that statement, per spec.md §4.3's idempotency requirement.
var idempotentErrors = []string{
	"duplicate column name",
	"already exists",
}

// Status describes the pending state of a database's schema.
type Status struct {
	Current int
	Latest  int
	Pending []string
}

// ApplyOptions controls Apply.
type ApplyOptions struct {
	// Backup, if true, copies the database file to <db>.bak.<timestamp>
	// before applying pending migrations.
	Backup bool
	// DBPath is required when Backup is true.
	DBPath string
	// AllowUnsettableVersion permits operating against a database that
	// rejects `PRAGMA user_version = N` (e.g. some managed SQL-over-network
	// replicas). Apply proceeds from version 0 every time, relying on each
	// script's own idempotency.
	AllowUnsettableVersion bool
}

func loadScripts() ([]script, error) {
	entries, err := fs.ReadDir(embedded, "migrations")
	if err != nil {
		return nil, ditoxerr.Wrap(ditoxerr.Fatal, "read embedded migrations", err)
	}

	scripts := make([]script, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		data, err := fs.ReadFile(embedded, "migrations/"+e.Name())
		if err != nil {
			return nil, ditoxerr.Wrapf(ditoxerr.Fatal, err, "read migration %s", e.Name())
		}
		var version int
		if _, err := fmt.Sscanf(e.Name(), "%04d_", &version); err != nil {
			return nil, ditoxerr.Wrapf(ditoxerr.Fatal, err, "parse migration version from %s", e.Name())
		}
		scripts = append(scripts, script{version: version, name: e.Name(), sql: string(data)})
	}

	sort.Slice(scripts, func(i, j int) bool { return scripts[i].version < scripts[j].version })
	return scripts, nil
}

func currentVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, ditoxerr.Wrap(ditoxerr.Unavailable, "read user_version", err)
	}
	return v, nil
}

// Status reports the database's current version, the latest embedded
// version, and the names of pending migrations.
func Status(db *sql.DB) (Status, error) {
	scripts, err := loadScripts()
	if err != nil {
		return Status{}, err
	}
	current, err := currentVersion(db)
	if err != nil {
		return Status{}, err
	}

	var latest int
	var pending []string
	for _, s := range scripts {
		if s.version > latest {
			latest = s.version
		}
		if s.version > current {
			pending = append(pending, s.name)
		}
	}

	return Status{Current: current, Latest: latest, Pending: pending}, nil
}

// Apply brings db up to the latest embedded schema version. It is
// idempotent: calling it again when nothing is pending applies zero
// scripts and modifies zero rows.
func Apply(db *sql.DB, opts ApplyOptions) error {
	if opts.Backup {
		if opts.DBPath == "" {
			return ditoxerr.New(ditoxerr.InvalidInput, "backup requested without DBPath")
		}
		if err := backupFile(opts.DBPath); err != nil {
			return err
		}
	}

	scripts, err := loadScripts()
	if err != nil {
		return err
	}

	current, err := currentVersion(db)
	if err != nil {
		return err
	}

	for _, s := range scripts {
		if s.version <= current {
			continue
		}
		if err := applyScript(db, s); err != nil {
			return ditoxerr.Wrapf(ditoxerr.Fatal, err, "apply migration %s", s.name)
		}
		if err := setVersion(db, s.version, opts.AllowUnsettableVersion); err != nil {
			return err
		}
	}

	return nil
}

func applyScript(db *sql.DB, s script) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range splitStatements(s.sql) {
		if stmt == "" {
			continue
		}
		if _, err := tx.Exec(stmt); err != nil {
			if isFTSUnavailable(err) {
				// FTS5 is not compiled in: migration 0002 is skipped
				// wholesale and the store records fts=false.
				return nil
			}
			if isIdempotentlySkippable(err) {
				continue
			}
			return err
		}
	}

	return tx.Commit()
}

func setVersion(db *sql.DB, version int, allowUnsettable bool) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", version))
	if err != nil {
		if allowUnsettable {
			return nil
		}
		return ditoxerr.Wrap(ditoxerr.Unavailable, "set user_version", err)
	}
	return nil
}

func isIdempotentlySkippable(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, m := range idempotentErrors {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

func isFTSUnavailable(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such module") && strings.Contains(msg, "fts5")
}

// splitStatements performs a naive split on ";" boundaries, except that a
// CREATE TRIGGER statement is kept whole: the semicolons inside its
// BEGIN ... END body are joined back up to the closing END. Migration
// scripts in this module never embed a semicolon inside a string literal,
// so this is sufficient and keeps the migrator free of a SQL parser
// dependency.
func splitStatements(script string) []string {
	parts := strings.Split(script, ";")
	out := make([]string, 0, len(parts))
	trigger := ""
	for _, p := range parts {
		trimmed := strings.TrimSpace(stripComments(p))
		if trimmed == "" {
			continue
		}
		if trigger == "" && strings.HasPrefix(strings.ToUpper(trimmed), "CREATE TRIGGER") {
			trigger = trimmed
			continue
		}
		if trigger != "" {
			trigger += ";\n" + trimmed
			if strings.EqualFold(trimmed, "END") {
				out = append(out, trigger)
				trigger = ""
			}
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

func stripComments(block string) string {
	lines := strings.Split(block, "\n")
	kept := make([]string, 0, len(lines))
	for _, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), "--") {
			continue
		}
		kept = append(kept, l)
	}
	return strings.Join(kept, "\n")
}

func backupFile(dbPath string) error {
	stamp := time.Now().UTC().Format("20060102150405")
	return copyFile(dbPath, fmt.Sprintf("%s.bak.%s", dbPath, stamp))
}
