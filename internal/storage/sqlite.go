// internal/storage/sqlite.go
package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"bentokaze/internal/models"
)

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// foreign_keys is per connection, and ":memory:" is per connection too
	db.SetMaxOpenConns(1)

	storage := &SQLiteStorage{db: db}
	if err := storage.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) initSchema() error {
	schema := `
    PRAGMA foreign_keys = ON;

    CREATE TABLE IF NOT EXISTS density (
        category TEXT PRIMARY KEY,
        density REAL NOT NULL
    );

    CREATE TABLE IF NOT EXISTS items (
        name TEXT PRIMARY KEY,
        category TEXT NOT NULL,
        FOREIGN KEY (category) REFERENCES density(category)
    );

    CREATE TABLE IF NOT EXISTS nutrition (
        name TEXT PRIMARY KEY,
        fat REAL NOT NULL DEFAULT 0,
        carb REAL NOT NULL DEFAULT 0,
        salt REAL NOT NULL DEFAULT 0,
        protein REAL NOT NULL DEFAULT 0,
        FOREIGN KEY (name) REFERENCES items(name) ON DELETE CASCADE
    );

    CREATE TABLE IF NOT EXISTS price (
        name TEXT PRIMARY KEY,
        unit_price REAL NOT NULL,
        FOREIGN KEY (name) REFERENCES items(name) ON DELETE CASCADE
    );

    CREATE INDEX IF NOT EXISTS idx_items_category ON items(category);
    `

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// SaveCatalog replaces the stored catalog in one transaction. Items whose
// category has no density row are rejected by the foreign key.
func (s *SQLiteStorage) SaveCatalog(ctx context.Context, catalog *models.Catalog) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"price", "nutrition", "items", "density"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	for _, d := range catalog.Densities() {
		_, err = tx.ExecContext(ctx, `INSERT INTO density (category, density) VALUES (?, ?)`, d.Category, d.Density)
		if err != nil {
			return fmt.Errorf("failed to insert density %s: %w", d.Category, err)
		}
	}

	for _, item := range catalog.Items() {
		_, err = tx.ExecContext(ctx, `INSERT INTO items (name, category) VALUES (?, ?)`, item.Name, item.Category)
		if err != nil {
			return fmt.Errorf("failed to insert item %s: %w", item.Name, err)
		}
		_, err = tx.ExecContext(ctx, `
            INSERT INTO nutrition (name, fat, carb, salt, protein)
            VALUES (?, ?, ?, ?, ?)
        `, item.Name, item.Fat, item.Carb, item.Salt, item.Protein)
		if err != nil {
			return fmt.Errorf("failed to insert nutrition for %s: %w", item.Name, err)
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO price (name, unit_price) VALUES (?, ?)`, item.Name, item.UnitPrice)
		if err != nil {
			return fmt.Errorf("failed to insert price for %s: %w", item.Name, err)
		}
	}

	return tx.Commit()
}

// LoadCatalog reads the catalog back in insertion order. Missing nutrition
// or price rows read as zero.
func (s *SQLiteStorage) LoadCatalog(ctx context.Context) (*models.Catalog, error) {
	densities, err := s.loadDensities(ctx)
	if err != nil {
		return nil, err
	}
	items, err := s.ListFoods(ctx, "")
	if err != nil {
		return nil, err
	}
	return models.NewCatalog(items, densities), nil
}

func (s *SQLiteStorage) loadDensities(ctx context.Context) ([]models.CategoryDensity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT category, density FROM density ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query densities: %w", err)
	}
	defer rows.Close()

	var densities []models.CategoryDensity
	for rows.Next() {
		var d models.CategoryDensity
		if err := rows.Scan(&d.Category, &d.Density); err != nil {
			return nil, fmt.Errorf("failed to scan density: %w", err)
		}
		densities = append(densities, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read densities: %w", err)
	}
	return densities, nil
}

// ListFoods returns the stored items, optionally restricted to one category.
func (s *SQLiteStorage) ListFoods(ctx context.Context, category string) ([]models.FoodItem, error) {
	query := `
        SELECT i.name, i.category,
               COALESCE(n.fat, 0), COALESCE(n.carb, 0), COALESCE(n.salt, 0), COALESCE(n.protein, 0),
               COALESCE(p.unit_price, 0)
        FROM items i
        LEFT JOIN nutrition n ON n.name = i.name
        LEFT JOIN price p ON p.name = i.name
        WHERE 1=1
    `
	args := []interface{}{}

	if category != "" {
		query += " AND i.category = ?"
		args = append(args, category)
	}

	query += " ORDER BY i.rowid"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []models.FoodItem
	for rows.Next() {
		var item models.FoodItem
		err := rows.Scan(
			&item.Name, &item.Category,
			&item.Fat, &item.Carb, &item.Salt, &item.Protein,
			&item.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read items: %w", err)
	}

	return items, nil
}
