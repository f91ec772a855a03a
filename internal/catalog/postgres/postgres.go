// Package postgres lists archives from a PostgreSQL catalog using the
// statements configured in the queries section.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/elixir-europe/human-data-local-ega-fuse/internal/archive"
	"github.com/elixir-europe/human-data-local-ega-fuse/internal/catalog"
	"github.com/elixir-europe/human-data-local-ega-fuse/internal/config"
	"github.com/elixir-europe/human-data-local-ega-fuse/internal/logging"
	"github.com/elixir-europe/human-data-local-ega-fuse/internal/metrics"
	"github.com/elixir-europe/human-data-local-ega-fuse/internal/retry"
)

// Catalog is a PostgreSQL file catalog.
type Catalog struct {
	db      *sql.DB
	queries config.Queries
	keys    catalog.Keys
}

// DSN renders a lib/pq connection string for cfg.
func DSN(cfg config.Database) string {
	var parts []string
	add := func(k, v string) {
		if v == "" {
			return
		}
		parts = append(parts, k+"="+quote(v))
	}
	add("host", cfg.Instance)
	if cfg.Port != 0 {
		add("port", fmt.Sprint(cfg.Port))
	}
	add("dbname", cfg.Database)
	add("user", cfg.Username)
	add("password", cfg.Password)
	sslmode := cfg.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	add("sslmode", sslmode)
	return strings.Join(parts, " ")
}

func quote(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// New opens the connection pool and waits for the database to answer.
func New(ctx context.Context, cfg config.Database, queries config.Queries, keys catalog.Keys) (*Catalog, error) {
	db, err := sql.Open("postgres", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	maxOpen, maxIdle, lifetime := cfg.MaxOpenConns, cfg.MaxIdleConns, cfg.ConnMaxLifetime
	if maxOpen <= 0 {
		maxOpen = 10
	}
	if maxIdle <= 0 {
		maxIdle = 2
	}
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	err = retry.Do(ctx, retry.DefaultPolicy(), func() error {
		return retry.Transient(db.PingContext(ctx))
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database %s/%s: %w", cfg.Instance, cfg.Database, err)
	}

	logging.Info("connected to catalog",
		zap.String("host", cfg.Instance),
		zap.String("database", cfg.Database))
	return NewWithDB(db, queries, keys), nil
}

// NewWithDB wraps an existing pool.
func NewWithDB(db *sql.DB, queries config.Queries, keys catalog.Keys) *Catalog {
	return &Catalog{db: db, queries: queries, keys: keys}
}

// Close closes the database connection.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// UpdateConnectionMetrics updates the database connection metrics.
func (c *Catalog) UpdateConnectionMetrics() {
	metrics.SetDBConnectionsOpen(c.db.Stats().OpenConnections)
}

// Files lists the archives for a dataset, or for a user when no single
// dataset is selected.
func (c *Catalog) Files(ctx context.Context, sel catalog.Selection) ([]archive.Descriptor, error) {
	if sel.ByDataset() {
		return c.FilesByDataset(ctx, sel.Dataset)
	}
	user := sel.User
	if user == "" {
		user = catalog.Wildcard
	}
	return c.FilesByEmail(ctx, user)
}

// Datasets lists all datasets, or those a user may access.
func (c *Catalog) Datasets(ctx context.Context, user string) ([]string, error) {
	if user == "" || user == catalog.Wildcard {
		return c.AllDatasets(ctx)
	}
	return c.DatasetsByEmail(ctx, user)
}

// AllDatasets runs the all_datasets query.
func (c *Catalog) AllDatasets(ctx context.Context) ([]string, error) {
	return c.column(ctx, "all_datasets", c.queries.AllDatasets)
}

// DatasetsByEmail runs the all_datasets_by_email query.
func (c *Catalog) DatasetsByEmail(ctx context.Context, email string) ([]string, error) {
	return c.column(ctx, "all_datasets_by_email", c.queries.AllDatasetsByEmail, email)
}

// FilesByDataset runs the files_by_dataset query.
func (c *Catalog) FilesByDataset(ctx context.Context, dataset string) ([]archive.Descriptor, error) {
	return c.files(ctx, "files_by_dataset", c.queries.FilesByDataset, dataset)
}

// FilesByEmail runs the files_by_email query.
func (c *Catalog) FilesByEmail(ctx context.Context, email string) ([]archive.Descriptor, error) {
	return c.files(ctx, "files_by_email", c.queries.FilesByEmail, email)
}

func (c *Catalog) column(ctx context.Context, name, query string, args ...any) ([]string, error) {
	if query == "" {
		return nil, fmt.Errorf("query %s not configured", name)
	}
	start := time.Now()
	defer func() { metrics.RecordDBQuery(name, time.Since(start)) }()

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s sql.NullString
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("%s: scan row: %w", name, err)
		}
		if s.Valid {
			out = append(out, s.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows error: %w", name, err)
	}
	return out, nil
}

// files scans rows of exactly (file_name, archive_path). Rows without an
// archive path are skipped.
func (c *Catalog) files(ctx context.Context, name, query string, args ...any) ([]archive.Descriptor, error) {
	if query == "" {
		return nil, fmt.Errorf("query %s not configured", name)
	}
	start := time.Now()
	defer func() { metrics.RecordDBQuery(name, time.Since(start)) }()

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	defer rows.Close()

	var out []archive.Descriptor
	for rows.Next() {
		var fileName, archivePath sql.NullString
		if err := rows.Scan(&fileName, &archivePath); err != nil {
			return nil, fmt.Errorf("%s: scan row: %w", name, err)
		}
		if !archivePath.Valid || archivePath.String == "" {
			logging.Warn("catalog row without archive path", zap.String("file_name", fileName.String))
			continue
		}
		out = append(out, c.keys.Describe(fileName.String, archivePath.String))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows error: %w", name, err)
	}
	c.UpdateConnectionMetrics()
	return out, nil
}
