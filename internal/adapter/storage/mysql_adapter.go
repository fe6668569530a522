package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/escrow-market/internal/core/domain"
)

// MySQL error 1690: BIGINT UNSIGNED value is out of range.
const mysqlErrOutOfRange = 1690

var schema = []string{
	`CREATE TABLE IF NOT EXISTS items (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		price BIGINT UNSIGNED NOT NULL,
		seller VARCHAR(255) NOT NULL,
		sold TINYINT(1) NOT NULL DEFAULT 0,
		listed_at DATETIME(6) NOT NULL,
		sold_at DATETIME(6) NULL
	)`,
	`CREATE TABLE IF NOT EXISTS item_owners (
		item_id BIGINT UNSIGNED NOT NULL PRIMARY KEY,
		buyer VARCHAR(255) NOT NULL,
		CONSTRAINT fk_item_owners_item FOREIGN KEY (item_id) REFERENCES items (id)
	)`,
	`CREATE TABLE IF NOT EXISTS proceeds (
		seller VARCHAR(255) NOT NULL PRIMARY KEY,
		balance BIGINT UNSIGNED NOT NULL DEFAULT 0,
		updated_at DATETIME(6) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS market_events (
		id CHAR(36) NOT NULL PRIMARY KEY,
		type VARCHAR(64) NOT NULL,
		payload JSON NOT NULL,
		occurred_at DATETIME(6) NOT NULL
	)`,
}

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// Migrate creates the marketplace tables when they do not exist yet.
func (m *MySQLAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (m *MySQLAdapter) CreateItem(ctx context.Context, listing domain.Listing) (domain.Item, error) {
	result, err := m.db.ExecContext(ctx, `
		INSERT INTO items (name, price, seller, sold, listed_at)
		VALUES (?, ?, ?, 0, ?)`,
		listing.Name, listing.Price, string(listing.Seller), listing.ListedAt,
	)
	if err != nil {
		return domain.Item{}, fmt.Errorf("insert item: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return domain.Item{}, fmt.Errorf("last insert id: %w", err)
	}

	return domain.Item{
		ID:       domain.ItemID(id),
		Name:     listing.Name,
		Price:    listing.Price,
		Seller:   listing.Seller,
		ListedAt: listing.ListedAt,
	}, nil
}

func (m *MySQLAdapter) GetItem(ctx context.Context, id domain.ItemID) (domain.Item, error) {
	var (
		item   domain.Item
		seller string
		soldAt sql.NullTime
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT id, name, price, seller, sold, listed_at, sold_at
		FROM items WHERE id = ?`, uint64(id),
	).Scan(&item.ID, &item.Name, &item.Price, &seller, &item.Sold, &item.ListedAt, &soldAt)

	if errors.Is(err, sql.ErrNoRows) {
		return domain.Item{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Item{}, fmt.Errorf("query item: %w", err)
	}

	item.Seller = domain.Address(seller)
	if soldAt.Valid {
		t := soldAt.Time
		item.SoldAt = &t
	}
	return item, nil
}

func (m *MySQLAdapter) CountItems(ctx context.Context) (int, error) {
	var n int
	if err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return n, nil
}

func (m *MySQLAdapter) ListItemIDs(ctx context.Context) ([]domain.ItemID, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT id FROM items ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query item ids: %w", err)
	}
	defer rows.Close()

	var ids []domain.ItemID
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan item id: %w", err)
		}
		ids = append(ids, domain.ItemID(id))
	}
	return ids, rows.Err()
}

// RecordSale flips the item to sold with a conditional update, so of two racing
// buyers only one transaction affects a row.
func (m *MySQLAdapter) RecordSale(ctx context.Context, sale domain.Sale) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE items
		SET sold = 1, sold_at = ?
		WHERE id = ? AND sold = 0`,
		sale.SoldAt, uint64(sale.ItemID),
	)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM items WHERE id = ?`, uint64(sale.ItemID)).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check item: %w", err)
		}
		if exists == 0 {
			return domain.ErrNotFound
		}
		return domain.ErrAlreadySold
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO item_owners (item_id, buyer) VALUES (?, ?)`,
		uint64(sale.ItemID), string(sale.Buyer),
	)
	if err != nil {
		return fmt.Errorf("insert owner: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO proceeds (seller, balance, updated_at) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE balance = balance + VALUES(balance), updated_at = VALUES(updated_at)`,
		string(sale.Seller), sale.Price, sale.SoldAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlErrOutOfRange {
			return domain.ErrBalanceOverflow
		}
		return fmt.Errorf("credit proceeds: %w", err)
	}

	return tx.Commit()
}

func (m *MySQLAdapter) OwnerOf(ctx context.Context, id domain.ItemID) (domain.Address, error) {
	var (
		buyer sql.NullString
		sold  bool
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT i.sold, o.buyer
		FROM items i LEFT JOIN item_owners o ON o.item_id = i.id
		WHERE i.id = ?`, uint64(id),
	).Scan(&sold, &buyer)

	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query owner: %w", err)
	}
	if !sold || !buyer.Valid {
		return "", domain.ErrNotSold
	}
	return domain.Address(buyer.String), nil
}

func (m *MySQLAdapter) ProceedsOf(ctx context.Context, seller domain.Address) (uint64, error) {
	var balance uint64
	err := m.db.QueryRowContext(ctx, `
		SELECT balance FROM proceeds WHERE seller = ?`, string(seller),
	).Scan(&balance)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query proceeds: %w", err)
	}
	return balance, nil
}

func (m *MySQLAdapter) TotalProceeds(ctx context.Context) (uint64, error) {
	var total uint64
	err := m.db.QueryRowContext(ctx, `
		SELECT CAST(COALESCE(SUM(balance), 0) AS UNSIGNED) FROM proceeds`,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum proceeds: %w", err)
	}
	return total, nil
}

// TakeProceeds locks the seller row, reads the balance and clears it in the same
// transaction.
func (m *MySQLAdapter) TakeProceeds(ctx context.Context, seller domain.Address) (uint64, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var balance uint64
	err = tx.QueryRowContext(ctx, `
		SELECT balance FROM proceeds WHERE seller = ? FOR UPDATE`, string(seller),
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("lock proceeds: %w", err)
	}
	if balance == 0 {
		return 0, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE proceeds SET balance = 0, updated_at = ? WHERE seller = ?`,
		time.Now().UTC(), string(seller),
	)
	if err != nil {
		return 0, fmt.Errorf("clear proceeds: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return balance, nil
}

func (m *MySQLAdapter) SaveEvent(ctx context.Context, event domain.Envelope) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO market_events (id, type, payload, occurred_at)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE id = id`,
		event.ID, string(event.Type), payload, event.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}
