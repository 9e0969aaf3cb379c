package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/supercasa/server/internal/cart"
	"github.com/supercasa/server/internal/config"
	"github.com/supercasa/server/internal/delivery"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	ownsDB bool
}

// NewPostgresStore opens a connection pool and prepares the schema.
func NewPostgresStore(connectionString string, pool config.PostgresPoolConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime.Duration > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime.Duration)
	}

	store := &PostgresStore{db: db, ownsDB: true}
	if err := store.createTables(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreWithDB wraps an existing connection pool.
func NewPostgresStoreWithDB(db *sql.DB) (*PostgresStore, error) {
	store := &PostgresStore{db: db}
	if err := store.createTables(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) createTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS pedidos (
			id                TEXT PRIMARY KEY,
			user_id           TEXT NOT NULL,
			productos         JSONB NOT NULL,
			total_cents       BIGINT NOT NULL,
			delivery          JSONB NOT NULL,
			payment_reference TEXT NOT NULL UNIQUE,
			payment_status    TEXT NOT NULL,
			payment_method    TEXT NOT NULL,
			transaction_id    TEXT,
			status            TEXT NOT NULL,
			requeued          BOOLEAN NOT NULL DEFAULT FALSE,
			created_at        TIMESTAMPTZ NOT NULL,
			updated_at        TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_pedidos_user_created
			ON pedidos (user_id, created_at DESC);
	`)
	if err != nil {
		return fmt.Errorf("create pedidos tables: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, o Order) (Order, error) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	now := time.Now()
	o.CreatedAt = now
	o.UpdatedAt = now
	if o.Status == "" {
		o.Status = StatusReceived
	}

	productos, err := json.Marshal(o.Productos)
	if err != nil {
		return Order{}, fmt.Errorf("encode productos: %w", err)
	}
	deliveryJSON, err := json.Marshal(o.Delivery)
	if err != nil {
		return Order{}, fmt.Errorf("encode delivery: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pedidos (
			id, user_id, productos, total_cents, delivery,
			payment_reference, payment_status, payment_method,
			transaction_id, status, requeued, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		o.ID, o.UserID, productos, o.TotalCents, deliveryJSON,
		o.PaymentReference, o.PaymentStatus, o.PaymentMethod,
		o.TransactionID, o.Status, o.Requeued, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return Order{}, ErrDuplicateReference
		}
		return Order{}, fmt.Errorf("insert pedido: %w", err)
	}
	return o, nil
}

const orderColumns = `id, user_id, productos, total_cents, delivery,
	payment_reference, payment_status, payment_method,
	transaction_id, status, requeued, created_at, updated_at`

func (s *PostgresStore) scanOrder(row interface{ Scan(...interface{}) error }) (Order, error) {
	var o Order
	var productos, deliveryJSON []byte
	var transactionID sql.NullString

	err := row.Scan(
		&o.ID, &o.UserID, &productos, &o.TotalCents, &deliveryJSON,
		&o.PaymentReference, &o.PaymentStatus, &o.PaymentMethod,
		&transactionID, &o.Status, &o.Requeued, &o.CreatedAt, &o.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("scan pedido: %w", err)
	}

	o.TransactionID = transactionID.String
	if err := json.Unmarshal(productos, &o.Productos); err != nil {
		o.Productos = []cart.Item{}
	}
	if err := json.Unmarshal(deliveryJSON, &o.Delivery); err != nil {
		o.Delivery = delivery.Data{}
	}
	return o, nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (Order, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM pedidos WHERE id = $1`, id)
	return s.scanOrder(row)
}

func (s *PostgresStore) GetByReference(ctx context.Context, reference string) (Order, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM pedidos WHERE payment_reference = $1`, reference)
	return s.scanOrder(row)
}

func (s *PostgresStore) queryOrders(ctx context.Context, query string, args ...interface{}) ([]Order, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pedidos: %w", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := s.scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM pedidos WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
}

func (s *PostgresStore) RecentByUser(ctx context.Context, userID string, window time.Duration) (Order, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM pedidos
		 WHERE user_id = $1 AND created_at >= $2
		 ORDER BY created_at DESC LIMIT 1`,
		userID, time.Now().Add(-window))
	return s.scanOrder(row)
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pedidos SET status = $2, updated_at = $3 WHERE id = $1`,
		id, status, time.Now())
	if err != nil {
		return fmt.Errorf("update pedido status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM pedidos ORDER BY created_at DESC LIMIT $1`, limit)
}

func (s *PostgresStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}
