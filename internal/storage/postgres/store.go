// Package postgres implements the storage interfaces against PostgreSQL.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/orderflow/stockhold/internal/domain/stock"
	"github.com/orderflow/stockhold/internal/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the durable source of truth for per-(branch, item) quantities.
type Store struct {
	db *sqlx.DB
}

var _ storage.DurableStore = (*Store)(nil)

// New creates a store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Migrate applies the embedded schema migrations.
func Migrate(db *sqlx.DB) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("init migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *Store) GetTruthQuantity(ctx context.Context, branchID, itemID string) (int64, error) {
	var qty int64
	err := s.db.GetContext(ctx, &qty, `
		SELECT quantity FROM branch_stock
		WHERE branch_id = $1 AND item_id = $2
	`, branchID, itemID)
	if err != nil {
		return 0, fmt.Errorf("read truth quantity: %w", err)
	}
	return qty, nil
}

func (s *Store) EnsureRow(ctx context.Context, branchID, itemID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO branch_stock (branch_id, item_id, quantity)
		VALUES ($1, $2, 0)
		ON CONFLICT (branch_id, item_id) DO NOTHING
	`, branchID, itemID)
	if err != nil {
		return fmt.Errorf("ensure stock row: %w", err)
	}
	return nil
}

func (s *Store) ListQuantities(ctx context.Context) ([]stock.TruthRow, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT branch_id, item_id, quantity FROM branch_stock
		ORDER BY branch_id, item_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list truth quantities: %w", err)
	}
	defer rows.Close()

	var result []stock.TruthRow
	for rows.Next() {
		var row stock.TruthRow
		if err := rows.Scan(&row.BranchID, &row.ItemID, &row.Quantity); err != nil {
			return nil, fmt.Errorf("scan truth row: %w", err)
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Oracle answers cart status queries from the carts table.
type Oracle struct {
	db *sqlx.DB
}

var _ storage.CartStatusOracle = (*Oracle)(nil)

// NewOracle creates an oracle using the provided database handle.
func NewOracle(db *sqlx.DB) *Oracle {
	return &Oracle{db: db}
}

// GetStatus resolves statuses for a batch of cart ids in one query. Ids with
// no row come back as StatusUnknown.
func (o *Oracle) GetStatus(ctx context.Context, cartIDs []string) (map[string]stock.CartStatus, error) {
	result := make(map[string]stock.CartStatus, len(cartIDs))
	for _, id := range cartIDs {
		result[id] = stock.StatusUnknown
	}
	if len(cartIDs) == 0 {
		return result, nil
	}

	rows, err := o.db.QueryxContext(ctx, `
		SELECT id, status FROM carts WHERE id = ANY($1)
	`, pq.Array(cartIDs))
	if err != nil {
		return nil, fmt.Errorf("query cart statuses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, fmt.Errorf("scan cart status: %w", err)
		}
		switch status {
		case "open":
			result[id] = stock.StatusOpen
		case "checked_out":
			result[id] = stock.StatusCheckedOut
		default:
			result[id] = stock.StatusUnknown
		}
	}
	return result, rows.Err()
}
