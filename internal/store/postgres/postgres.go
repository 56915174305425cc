// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/confhub/internal/model"
	"github.com/alfredjeanlab/confhub/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewWithDB wraps an already-open database without running migrations.
func NewWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) CreateNamespace(ctx context.Context, ns *model.Namespace) error {
	return queryCreateNamespace(ctx, s.db, ns)
}

func (s *PostgresStore) GetNamespace(ctx context.Context, name string) (*model.Namespace, error) {
	return queryGetNamespace(ctx, s.db, name)
}

func (s *PostgresStore) ListNamespaces(ctx context.Context, filter model.NamespaceFilter) ([]*model.Namespace, error) {
	return queryListNamespaces(ctx, s.db, filter)
}

func (s *PostgresStore) UpdateNamespace(ctx context.Context, ns *model.Namespace) error {
	return queryUpdateNamespace(ctx, s.db, ns)
}

func (s *PostgresStore) SoftDeleteNamespace(ctx context.Context, id string, at time.Time) error {
	return querySoftDeleteNamespace(ctx, s.db, id, at)
}

func (s *PostgresStore) CountActiveItems(ctx context.Context, namespaceID string) (int, error) {
	return queryCountActiveItems(ctx, s.db, namespaceID)
}

func (s *PostgresStore) CreateItem(ctx context.Context, item *model.ConfigItem) error {
	return queryCreateItem(ctx, s.db, item)
}

func (s *PostgresStore) GetItem(ctx context.Context, namespaceID, key string) (*model.ConfigItem, error) {
	return queryGetItem(ctx, s.db, namespaceID, key)
}

func (s *PostgresStore) GetItems(ctx context.Context, namespaceID string, keys []string) ([]*model.ConfigItem, error) {
	return queryGetItems(ctx, s.db, namespaceID, keys)
}

func (s *PostgresStore) ListItems(ctx context.Context, namespaceID string, filter model.ItemFilter) ([]*model.ConfigItem, int, error) {
	return queryListItems(ctx, s.db, namespaceID, filter)
}

func (s *PostgresStore) ListItemMeta(ctx context.Context, namespaceID string) ([]model.ItemMeta, error) {
	return queryListItemMeta(ctx, s.db, namespaceID)
}

func (s *PostgresStore) UpdateItem(ctx context.Context, item *model.ConfigItem, expectedVersion int) error {
	return queryUpdateItem(ctx, s.db, item, expectedVersion)
}

func (s *PostgresStore) SoftDeleteItem(ctx context.Context, id string, expectedVersion int, at time.Time, actor string) error {
	return querySoftDeleteItem(ctx, s.db, id, expectedVersion, at, actor)
}

func (s *PostgresStore) InsertHistory(ctx context.Context, h *model.ConfigHistory) error {
	return queryInsertHistory(ctx, s.db, h)
}

func (s *PostgresStore) GetHistory(ctx context.Context, itemID string, version int) (*model.ConfigHistory, error) {
	return queryGetHistory(ctx, s.db, itemID, version)
}

func (s *PostgresStore) ListHistory(ctx context.Context, itemID string, page model.Page) ([]*model.ConfigHistory, int, error) {
	return queryListHistory(ctx, s.db, itemID, page)
}

// RunInTransaction begins a database transaction, creates a txStore that
// delegates to it, calls fn, and commits on success or rolls back on error.
func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txS := &txStore{tx: tx}
	if err := fn(txS); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// txStore implements store.Store using a *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

// Compile-time check that txStore implements store.Store.
var _ store.Store = (*txStore)(nil)

func (s *txStore) CreateNamespace(ctx context.Context, ns *model.Namespace) error {
	return queryCreateNamespace(ctx, s.tx, ns)
}

func (s *txStore) GetNamespace(ctx context.Context, name string) (*model.Namespace, error) {
	return queryGetNamespace(ctx, s.tx, name)
}

func (s *txStore) ListNamespaces(ctx context.Context, filter model.NamespaceFilter) ([]*model.Namespace, error) {
	return queryListNamespaces(ctx, s.tx, filter)
}

func (s *txStore) UpdateNamespace(ctx context.Context, ns *model.Namespace) error {
	return queryUpdateNamespace(ctx, s.tx, ns)
}

func (s *txStore) SoftDeleteNamespace(ctx context.Context, id string, at time.Time) error {
	return querySoftDeleteNamespace(ctx, s.tx, id, at)
}

func (s *txStore) CountActiveItems(ctx context.Context, namespaceID string) (int, error) {
	return queryCountActiveItems(ctx, s.tx, namespaceID)
}

func (s *txStore) CreateItem(ctx context.Context, item *model.ConfigItem) error {
	return queryCreateItem(ctx, s.tx, item)
}

func (s *txStore) GetItem(ctx context.Context, namespaceID, key string) (*model.ConfigItem, error) {
	return queryGetItem(ctx, s.tx, namespaceID, key)
}

func (s *txStore) GetItems(ctx context.Context, namespaceID string, keys []string) ([]*model.ConfigItem, error) {
	return queryGetItems(ctx, s.tx, namespaceID, keys)
}

func (s *txStore) ListItems(ctx context.Context, namespaceID string, filter model.ItemFilter) ([]*model.ConfigItem, int, error) {
	return queryListItems(ctx, s.tx, namespaceID, filter)
}

func (s *txStore) ListItemMeta(ctx context.Context, namespaceID string) ([]model.ItemMeta, error) {
	return queryListItemMeta(ctx, s.tx, namespaceID)
}

func (s *txStore) UpdateItem(ctx context.Context, item *model.ConfigItem, expectedVersion int) error {
	return queryUpdateItem(ctx, s.tx, item, expectedVersion)
}

func (s *txStore) SoftDeleteItem(ctx context.Context, id string, expectedVersion int, at time.Time, actor string) error {
	return querySoftDeleteItem(ctx, s.tx, id, expectedVersion, at, actor)
}

func (s *txStore) InsertHistory(ctx context.Context, h *model.ConfigHistory) error {
	return queryInsertHistory(ctx, s.tx, h)
}

func (s *txStore) GetHistory(ctx context.Context, itemID string, version int) (*model.ConfigHistory, error) {
	return queryGetHistory(ctx, s.tx, itemID, version)
}

func (s *txStore) ListHistory(ctx context.Context, itemID string, page model.Page) ([]*model.ConfigHistory, int, error) {
	return queryListHistory(ctx, s.tx, itemID, page)
}

// RunInTransaction on a txStore reuses the existing transaction (no nesting).
func (s *txStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

// Close is a no-op for a transaction store; the parent store owns the connection.
func (s *txStore) Close() error {
	return nil
}
