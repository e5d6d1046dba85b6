package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// quoteIdentifier safely quotes an identifier, such as a table or column name,
// to prevent SQL injection and to handle names that might be keywords or contain
// special characters.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// tableName returns the unquoted table name of a collection.
func (db *Database) tableName(collection string) string {
	return db.options.CollectionPrefix + collection
}

// createTableSQL returns the DDL for a collection table. seq keeps insertion
// order, id is the document's _id and doc its JSON encoding.
func createTableSQL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id  TEXT NOT NULL UNIQUE,
	doc TEXT NOT NULL
);`, quoteIdentifier(table))
}

// ensureCollection creates the table for a collection once per handle.
func (db *Database) ensureCollection(ctx context.Context, r dbRunner, collection string) error {
	table := db.tableName(collection)

	db.mu.RLock()
	_, ok := db.tables[table]
	db.mu.RUnlock()
	if ok {
		return nil
	}

	if _, err := r.ExecContext(ctx, createTableSQL(table)); err != nil {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}

	db.mu.Lock()
	db.tables[table] = struct{}{}
	db.mu.Unlock()
	return nil
}

// DropCollection drops a collection's table.
func (db *Database) DropCollection(ctx context.Context, collection string) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	table := db.tableName(collection)
	stmt := fmt.Sprintf("DROP TABLE IF EXISTS %s;", quoteIdentifier(table))
	if _, err := db.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to drop table %s: %w", table, err)
	}

	db.mu.Lock()
	delete(db.tables, table)
	db.mu.Unlock()
	return nil
}

// CollectionExists checks if a collection's table exists in the database.
func (db *Database) CollectionExists(ctx context.Context, collection string) (bool, error) {
	if err := db.checkOpen(); err != nil {
		return false, err
	}
	q := "SELECT name FROM sqlite_master WHERE type='table' AND name = ?;"

	var name string
	err := db.db.QueryRowContext(ctx, q, db.tableName(collection)).Scan(&name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
