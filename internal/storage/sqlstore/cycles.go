package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kiumaa/kixikila/internal/models"
	"github.com/kiumaa/kixikila/internal/storage"
)

const cycleColumns = `id, group_id, cycle_number, winner_id, prize_amount, eligible, method,
	payout_transaction_id, drawn_by, drawn_at`

// CreateCycle persists a draw audit record.
func (s *Store) CreateCycle(ctx context.Context, c *models.Cycle) error {
	eligible, err := json.Marshal(c.Eligible)
	if err != nil {
		return fmt.Errorf("failed to encode eligible snapshot: %w", err)
	}

	_, err = s.exec(ctx,
		"INSERT INTO cycles ("+cycleColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		c.ID, c.GroupID, c.Number, c.WinnerID, c.PrizeAmount.String(), string(eligible), string(c.Method),
		c.PayoutTransactionID, c.DrawnBy, c.DrawnAt,
	)
	if s.dialect.isUniqueViolation(err) {
		return fmt.Errorf("cycle %s/%d: %w", c.GroupID, c.Number, storage.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert cycle: %w", err)
	}
	return nil
}

// GetCycle retrieves the cycle record of a group's cycle number.
func (s *Store) GetCycle(ctx context.Context, groupID string, number int) (*models.Cycle, error) {
	c, err := scanCycle(s.queryRow(ctx,
		"SELECT "+cycleColumns+" FROM cycles WHERE group_id = ? AND cycle_number = ?",
		groupID, number,
	).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cycle %s/%d: %w", groupID, number, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cycle: %w", err)
	}
	return c, nil
}

// ListCycles returns a group's cycles in draw order.
func (s *Store) ListCycles(ctx context.Context, groupID string) ([]*models.Cycle, error) {
	rows, err := s.query(ctx,
		"SELECT "+cycleColumns+" FROM cycles WHERE group_id = ? ORDER BY cycle_number ASC",
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list cycles: %w", err)
	}
	defer rows.Close()

	var cycles []*models.Cycle
	for rows.Next() {
		c, err := scanCycle(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cycle: %w", err)
		}
		cycles = append(cycles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cycles: %w", err)
	}
	return cycles, nil
}

func scanCycle(scan func(dest ...any) error) (*models.Cycle, error) {
	var (
		c        models.Cycle
		eligible string
		method   string
	)
	if err := scan(&c.ID, &c.GroupID, &c.Number, &c.WinnerID, &c.PrizeAmount, &eligible, &method,
		&c.PayoutTransactionID, &c.DrawnBy, &c.DrawnAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(eligible), &c.Eligible); err != nil {
		return nil, fmt.Errorf("failed to decode eligible snapshot: %w", err)
	}
	c.Method = models.DrawMethod(method)
	return &c, nil
}
