package store

import "fmt"

// columnMigration is one additive schema change. Migrations are applied in
// order, unconditionally and idempotently, at every startup, against
// whichever image was loaded. No drops, renames, or type changes.
type columnMigration struct {
	name       string
	definition string
}

var entryMigrations = []columnMigration{
	{"is_root", "INTEGER NOT NULL DEFAULT 0"},
	{"strongs_numbers", "TEXT NOT NULL DEFAULT ''"},
}

// Migrate applies every pending column migration to the entries table.
// It returns whether any change was made, so the caller knows to persist
// before declaring readiness.
func (s *Store) Migrate() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for _, m := range entryMigrations {
		added, err := s.ensureColumn(m.name, m.definition)
		if err != nil {
			return changed, err
		}
		changed = changed || added
	}
	return changed, nil
}

// ensureColumn adds the column to the entries table if the live table
// metadata does not already have it.
func (s *Store) ensureColumn(name, definition string) (bool, error) {
	cols, err := s.tableColumns("entries")
	if err != nil {
		return false, err
	}
	if cols[name] {
		return false, nil
	}
	if err := s.conn.Exec(fmt.Sprintf(
		`ALTER TABLE entries ADD COLUMN %s %s`, name, definition,
	)); err != nil {
		return false, fmt.Errorf("add column %s: %w", name, err)
	}
	return true, nil
}

func (s *Store) tableColumns(table string) (map[string]bool, error) {
	stmt, _, err := s.conn.Prepare(fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return nil, fmt.Errorf("table_info %s: %w", table, err)
	}
	defer stmt.Close()

	cols := map[string]bool{}
	for stmt.Step() {
		// table_info columns: cid, name, type, notnull, dflt_value, pk
		cols[stmt.ColumnText(1)] = true
	}
	if err := stmt.Err(); err != nil {
		return nil, err
	}
	return cols, nil
}
