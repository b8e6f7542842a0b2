package index

import (
	"database/sql"
	"fmt"
	"os"

	_ "modernc.org/sqlite"

	"github.com/dipolesim/dipole-engine/internal/grid"
	"github.com/dipolesim/dipole-engine/internal/transform"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS fwd_index (
	x REAL NOT NULL,
	y REAL NOT NULL,
	z REAL NOT NULL,
	fwd_exists INTEGER NOT NULL,
	PRIMARY KEY (x, y, z)
)`

func openSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open index database: %w", err)
	}
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q: %w", pragma, err)
		}
	}
	return db, nil
}

// LoadSQLite reads the fwd_index table.
func LoadSQLite(path string) (*Index, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.Query(`SELECT x, y, z, fwd_exists FROM fwd_index`)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	defer rows.Close()

	ix := New()
	for rows.Next() {
		var x, y, z float64
		var exists int64
		if err := rows.Scan(&x, &y, &z, &exists); err != nil {
			return nil, fmt.Errorf("scan index row: %w", err)
		}
		key := grid.Key{
			X: transform.Round(x, grid.Decimals),
			Y: transform.Round(y, grid.Decimals),
			Z: transform.Round(z, grid.Decimals),
		}
		if err := ix.Add(key, exists != 0); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate index: %w", err)
	}
	return ix, nil
}

// SaveSQLite writes all entries into fwd_index in a single transaction.
// Existing rows for the same key are left untouched.
func SaveSQLite(path string, ix *Index) error {
	db, err := openSQLite(path)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.Exec(sqliteSchema); err != nil {
		return fmt.Errorf("create index table: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin index tx: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO fwd_index (x, y, z, fwd_exists) VALUES (?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare index insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range ix.Entries() {
		exists := 0
		if e.Exists {
			exists = 1
		}
		if _, err := stmt.Exec(e.Key.X, e.Key.Y, e.Key.Z, exists); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert index row %s: %w", e.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit index: %w", err)
	}
	return nil
}
