package repository

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

type Credentials struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (c *Credentials) dsn() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.DBName,
		sslMode)
}

// PostgresOrderRepository stores orders and their items in PostgreSQL.
type PostgresOrderRepository struct {
	db *sql.DB
}

func NewPostgresOrderRepository(ctx context.Context, cred *Credentials) (*PostgresOrderRepository, error) {
	db, err := sql.Open("postgres", cred.dsn())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.PingContext(ctx); e2 != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(10)
	return &PostgresOrderRepository{db: db}, nil
}

func (r *PostgresOrderRepository) RunMigrations() error {
	src, err := iofs.New(postgresMigrations, "migrations/postgres")
	if err != nil {
		return fmt.Errorf("could not open embedded migrations: %w", err)
	}

	driver, err := postgres.WithInstance(r.db, &postgres.Config{
		MigrationsTable: "orders_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

func (r *PostgresOrderRepository) CreateOrder(ctx context.Context, order *domain.Order) error {
	shippingJSON, err := json.Marshal(order.Shipping)
	if err != nil {
		return fmt.Errorf("failed to marshal shipping info: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `INSERT INTO orders (id, account_id, session_id, currency, exchange_rate, charge_currency, charge_rate,
	              subtotal, tax, shipping_cost, total, payment_status, order_status, shipping, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW(), NOW())`

	var shippingCost decimal.NullDecimal
	if order.ShippingCost != nil {
		shippingCost = decimal.NewNullDecimal(*order.ShippingCost)
	}

	_, insertErr := tx.ExecContext(ctx, query,
		order.ID,
		nullString(order.Owner.AccountID),
		nullString(order.Owner.SessionID),
		order.Currency,
		order.ExchangeRate,
		order.ChargeCurrency,
		order.ChargeRate,
		order.Subtotal,
		order.Tax,
		shippingCost,
		order.Total,
		order.PaymentStatus,
		order.OrderStatus,
		shippingJSON)
	if insertErr != nil {
		var pqErr *pq.Error
		if errors.As(insertErr, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateOrder
		}
		return fmt.Errorf("insert order: %w", insertErr)
	}

	itemQuery := `INSERT INTO order_items (order_id, position, product_id, product_name, product_image, unit_price, quantity, size)
	              VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	for i, item := range order.Items {
		if _, err := tx.ExecContext(ctx, itemQuery,
			order.ID,
			i,
			item.ProductID,
			item.ProductName,
			item.ProductImage,
			item.UnitPrice,
			item.Quantity,
			item.Size); err != nil {
			return fmt.Errorf("insert order item %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit order: %w", err)
	}
	return nil
}

const orderColumns = `id, account_id, session_id, currency, exchange_rate, charge_currency, charge_rate,
	subtotal, tax, shipping_cost, total,
	payment_status, order_status, payment_session_id, payment_ref, shipping, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		order            domain.Order
		accountID        sql.NullString
		sessionID        sql.NullString
		paymentSessionID sql.NullString
		paymentRef       sql.NullString
		shippingCost     decimal.NullDecimal
		shippingJSON     []byte
	)
	if err := row.Scan(
		&order.ID,
		&accountID,
		&sessionID,
		&order.Currency,
		&order.ExchangeRate,
		&order.ChargeCurrency,
		&order.ChargeRate,
		&order.Subtotal,
		&order.Tax,
		&shippingCost,
		&order.Total,
		&order.PaymentStatus,
		&order.OrderStatus,
		&paymentSessionID,
		&paymentRef,
		&shippingJSON,
		&order.CreatedAt,
		&order.UpdatedAt,
	); err != nil {
		return nil, err
	}

	order.Owner = domain.OwnerRef{AccountID: accountID.String, SessionID: sessionID.String}
	order.PaymentSessionID = paymentSessionID.String
	order.PaymentRef = paymentRef.String
	if shippingCost.Valid {
		sc := shippingCost.Decimal
		order.ShippingCost = &sc
	}
	if err := json.Unmarshal(shippingJSON, &order.Shipping); err != nil {
		return nil, fmt.Errorf("unmarshal shipping info: %w", err)
	}
	return &order, nil
}

func (r *PostgresOrderRepository) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	order, err := scanOrder(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		var pqErr *pq.Error
		// 22P02: the id is not a valid uuid, so no such order can exist.
		if errors.As(err, &pqErr) && pqErr.Code == "22P02" {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("query order by id: %w", err)
	}

	items, err := r.loadItems(ctx, []string{order.ID})
	if err != nil {
		return nil, err
	}
	order.Items = items[order.ID]
	return order, nil
}

func (r *PostgresOrderRepository) ListOrdersByAccount(ctx context.Context, accountID string) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE account_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("query orders by account id: %w", err)
	}
	defer rows.Close()

	var orders []*domain.Order
	var ids []string
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
		ids = append(ids, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	items, err := r.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, o := range orders {
		o.Items = items[o.ID]
	}
	return orders, nil
}

func (r *PostgresOrderRepository) loadItems(ctx context.Context, orderIDs []string) (map[string][]domain.OrderItem, error) {
	query := `SELECT order_id, product_id, product_name, product_image, unit_price, quantity, size
	          FROM order_items WHERE order_id = ANY($1::uuid[]) ORDER BY order_id, position`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(orderIDs))
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	items := make(map[string][]domain.OrderItem, len(orderIDs))
	for rows.Next() {
		var orderID string
		var item domain.OrderItem
		if err := rows.Scan(
			&orderID,
			&item.ProductID,
			&item.ProductName,
			&item.ProductImage,
			&item.UnitPrice,
			&item.Quantity,
			&item.Size,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items[orderID] = append(items[orderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return items, nil
}

func (r *PostgresOrderRepository) AttachPaymentSession(ctx context.Context, id, sessionID string) error {
	query := `UPDATE orders SET payment_session_id = $2, updated_at = NOW()
	          WHERE id = $1 AND payment_status = 'pending'`

	res, err := r.db.ExecContext(ctx, query, id, sessionID)
	if err != nil {
		return fmt.Errorf("attach payment session: %w", err)
	}
	return r.conditionalResult(ctx, res, id, ErrPaymentSettled)
}

func (r *PostgresOrderRepository) SettlePayment(ctx context.Context, id string, payment domain.PaymentStatus, status domain.OrderStatus, ref string) error {
	query := `UPDATE orders SET payment_status = $2,
	              order_status = CASE WHEN order_status = 'pending' THEN $3 ELSE order_status END,
	              payment_ref = $4, updated_at = NOW()
	          WHERE id = $1 AND payment_status = 'pending'`

	res, err := r.db.ExecContext(ctx, query, id, payment, status, nullString(ref))
	if err != nil {
		return fmt.Errorf("settle payment: %w", err)
	}
	return r.conditionalResult(ctx, res, id, ErrPaymentSettled)
}

func (r *PostgresOrderRepository) UpdateOrderStatus(ctx context.Context, id string, from, to domain.OrderStatus) error {
	query := `UPDATE orders SET order_status = $3, updated_at = NOW()
	          WHERE id = $1 AND order_status = $2`

	res, err := r.db.ExecContext(ctx, query, id, from, to)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return r.conditionalResult(ctx, res, id, ErrStatusConflict)
}

// conditionalResult tells a missing order apart from a guard that no longer holds.
func (r *PostgresOrderRepository) conditionalResult(ctx context.Context, res sql.Result, id string, conflict error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check order exists: %w", err)
	}
	if !exists {
		return ErrOrderNotFound
	}
	return conflict
}

func (r *PostgresOrderRepository) Close() error {
	return r.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
