package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/rl1809/stock-reservation/internal/core/domain"
	"github.com/rl1809/stock-reservation/internal/port"
)

const mysqlDuplicateEntry = 1062

type MySQLAdapter struct {
	db *sqlx.DB
	q  sqlx.ExtContext
	// lockRows makes GetStock a locking read inside a transaction so a
	// version conflict retry sees the latest committed row.
	lockRows bool
}

func NewMySQLAdapter(db *sqlx.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db, q: db}
}

// Do runs fn inside a MySQL transaction. fn's writes commit together when it
// returns nil and are rolled back otherwise.
func (m *MySQLAdapter) Do(ctx context.Context, fn func(ctx context.Context, repos port.Repositories) error) error {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &MySQLAdapter{db: m.db, q: tx, lockRows: true}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) GetStock(ctx context.Context, sku string) (*domain.StockItem, error) {
	query := `
		SELECT sku, name, stock, version, updated_at
		FROM inventory WHERE sku = ?`
	if m.lockRows {
		query += " FOR UPDATE"
	}

	var item domain.StockItem
	err := sqlx.GetContext(ctx, m.q, &item, query, sku)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query inventory: %w", err)
	}
	return &item, nil
}

func (m *MySQLAdapter) ListStock(ctx context.Context) ([]domain.StockItem, error) {
	var items []domain.StockItem
	err := sqlx.SelectContext(ctx, m.q, &items, `
		SELECT sku, name, stock, version, updated_at
		FROM inventory ORDER BY sku`)
	if err != nil {
		return nil, fmt.Errorf("list inventory: %w", err)
	}
	return items, nil
}

func (m *MySQLAdapter) UpdateStock(ctx context.Context, item domain.StockItem) (domain.StockItem, error) {
	result, err := m.q.ExecContext(ctx, `
		UPDATE inventory
		SET stock = ?, version = version + 1, updated_at = ?
		WHERE sku = ? AND version = ?`,
		item.Quantity, item.UpdatedAt, item.SKU, item.Version,
	)
	if err != nil {
		return domain.StockItem{}, fmt.Errorf("update inventory: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return domain.StockItem{}, fmt.Errorf("update inventory: %w", err)
	}
	if rows == 0 {
		current, err := m.GetStock(ctx, item.SKU)
		if err != nil {
			return domain.StockItem{}, err
		}
		if current == nil {
			return domain.StockItem{}, domain.ErrItemNotFound
		}
		return domain.StockItem{}, domain.ErrWriteConflict
	}

	item.Version++
	return item, nil
}

func (m *MySQLAdapter) CreateStock(ctx context.Context, item domain.StockItem) error {
	_, err := m.q.ExecContext(ctx, `
		INSERT INTO inventory (sku, name, stock, version, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		item.SKU, item.Name, item.Quantity, item.Version, item.UpdatedAt,
	)
	if isDuplicateEntry(err) {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("insert inventory: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) CreateReservation(ctx context.Context, r domain.Reservation) error {
	_, err := sqlx.NamedExecContext(ctx, m.q, `
		INSERT INTO reservations (id, sku, quantity, status, store_id, created_at, expires_at, updated_at)
		VALUES (:id, :sku, :quantity, :status, :store_id, :created_at, :expires_at, :updated_at)`, r)
	if isDuplicateEntry(err) {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) GetReservation(ctx context.Context, id string) (*domain.Reservation, error) {
	var r domain.Reservation
	err := sqlx.GetContext(ctx, m.q, &r, `
		SELECT id, sku, quantity, status, store_id, created_at, expires_at, updated_at
		FROM reservations WHERE id = ?`, id)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query reservation: %w", err)
	}
	return &r, nil
}

func (m *MySQLAdapter) UpdateReservationStatus(ctx context.Context, id string, from, to domain.ReservationStatus, at time.Time) error {
	result, err := m.q.ExecContext(ctx, `
		UPDATE reservations
		SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		to, at, id, from,
	)
	if err != nil {
		return fmt.Errorf("update reservation: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update reservation: %w", err)
	}
	if rows == 0 {
		current, err := m.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return domain.ErrReservationNotFound
		}
		return domain.ErrStatusConflict
	}
	return nil
}

func isDuplicateEntry(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}
