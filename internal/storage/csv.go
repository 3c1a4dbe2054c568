// internal/storage/csv.go
package storage

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"bentokaze/internal/models"
)

// CSVFiles names the four source tables. Headers are matched by name, case
// insensitively, so column order is free.
type CSVFiles struct {
	Density   string
	Items     string
	Nutrition string
	Prices    string
}

type ImportStats struct {
	Categories int `json:"categories"`
	Items      int `json:"items"`
}

// ImportCSV parses the CSV files and replaces the stored catalog with them.
func (s *SQLiteStorage) ImportCSV(ctx context.Context, files CSVFiles) (ImportStats, error) {
	catalog, err := ReadCatalogCSV(files)
	if err != nil {
		return ImportStats{}, err
	}
	if err := s.SaveCatalog(ctx, catalog); err != nil {
		return ImportStats{}, err
	}
	return ImportStats{Categories: len(catalog.Densities()), Items: catalog.Len()}, nil
}

// ReadCatalogCSV joins the four files into a catalog. Items without a
// nutrition or price row get zeros; rows naming unknown items are errors.
func ReadCatalogCSV(files CSVFiles) (*models.Catalog, error) {
	var densities []models.CategoryDensity
	err := readTable(files.Density, []string{"category", "density"}, func(rec record) error {
		density, err := rec.float("density")
		if err != nil {
			return err
		}
		densities = append(densities, models.CategoryDensity{Category: rec.get("category"), Density: density})
		return nil
	})
	if err != nil {
		return nil, err
	}

	var items []models.FoodItem
	index := make(map[string]int)
	err = readTable(files.Items, []string{"name", "category"}, func(rec record) error {
		name := rec.get("name")
		if _, dup := index[name]; dup {
			return fmt.Errorf("duplicate item %q", name)
		}
		index[name] = len(items)
		items = append(items, models.FoodItem{Name: name, Category: rec.get("category")})
		return nil
	})
	if err != nil {
		return nil, err
	}

	lookup := func(rec record) (*models.FoodItem, error) {
		name := rec.get("name")
		i, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("unknown item %q", name)
		}
		return &items[i], nil
	}

	err = readTable(files.Nutrition, []string{"name", "fat", "carb", "salt", "protein"}, func(rec record) error {
		item, err := lookup(rec)
		if err != nil {
			return err
		}
		for _, n := range models.TrackedNutrients {
			v, err := rec.float(string(n))
			if err != nil {
				return err
			}
			switch n {
			case models.Fat:
				item.Fat = v
			case models.Carb:
				item.Carb = v
			case models.Salt:
				item.Salt = v
			case models.Protein:
				item.Protein = v
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = readTable(files.Prices, []string{"name", "unit_price"}, func(rec record) error {
		item, err := lookup(rec)
		if err != nil {
			return err
		}
		item.UnitPrice, err = rec.float("unit_price")
		return err
	})
	if err != nil {
		return nil, err
	}

	return models.NewCatalog(items, densities), nil
}

type record struct {
	fields []string
	cols   map[string]int
}

func (r record) get(col string) string {
	return strings.TrimSpace(r.fields[r.cols[col]])
}

func (r record) float(col string) (float64, error) {
	raw := r.get(col)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", col, raw)
	}
	return v, nil
}

func readTable(path string, required []string, fn func(record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	if err := parseTable(f, required, fn); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func parseTable(r io.Reader, required []string, fn func(record) error) error {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("missing header")
		}
		return fmt.Errorf("failed to read header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, col := range required {
		if _, ok := cols[col]; !ok {
			return fmt.Errorf("missing column %q", col)
		}
	}

	for line := 2; ; line++ {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read line %d: %w", line, err)
		}
		if err := fn(record{fields: fields, cols: cols}); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
}
