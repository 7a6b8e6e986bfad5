package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kiumaa/kixikila/internal/models"
	"github.com/kiumaa/kixikila/internal/storage"
)

const withdrawalColumns = `id, member_id, amount, currency, destination_account, payout_account_id, status,
	transaction_id, idempotency_key, failure_reason, created_at, updated_at`

// CreateWithdrawal persists a withdrawal request.
func (s *Store) CreateWithdrawal(ctx context.Context, w *models.WithdrawalRequest) error {
	_, err := s.exec(ctx,
		"INSERT INTO withdrawals ("+withdrawalColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		w.ID, w.MemberID, w.Amount.String(), w.Currency, w.DestinationAccount, w.PayoutAccountID,
		string(w.Status), w.TransactionID, w.IdempotencyKey, w.FailureReason, w.CreatedAt, w.UpdatedAt,
	)
	if s.dialect.isUniqueViolation(err) {
		return fmt.Errorf("withdrawal key %s: %w", w.IdempotencyKey, storage.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert withdrawal: %w", err)
	}
	return nil
}

// GetWithdrawal retrieves a withdrawal request by ID.
func (s *Store) GetWithdrawal(ctx context.Context, id string) (*models.WithdrawalRequest, error) {
	w, err := scanWithdrawal(s.queryRow(ctx, "SELECT "+withdrawalColumns+" FROM withdrawals WHERE id = ?", id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("withdrawal %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get withdrawal: %w", err)
	}
	return w, nil
}

// GetWithdrawalByKey retrieves a member's withdrawal request by idempotency key.
func (s *Store) GetWithdrawalByKey(ctx context.Context, memberID, key string) (*models.WithdrawalRequest, error) {
	w, err := scanWithdrawal(s.queryRow(ctx,
		"SELECT "+withdrawalColumns+" FROM withdrawals WHERE member_id = ? AND idempotency_key = ?",
		memberID, key,
	).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("withdrawal key %s: %w", key, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get withdrawal by key: %w", err)
	}
	return w, nil
}

// UpdateWithdrawalStatus performs a conditional status transition.
func (s *Store) UpdateWithdrawalStatus(ctx context.Context, id string, from []models.WithdrawalStatus, to models.WithdrawalStatus, reason string, at int64) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("no source status given")
	}
	query := "UPDATE withdrawals SET status = ?, failure_reason = ?, updated_at = ? WHERE id = ? AND status IN (?" +
		repeatPlaceholder(len(from)-1) + ")"
	args := []any{string(to), reason, at, id}
	for _, st := range from {
		args = append(args, string(st))
	}

	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update withdrawal status: %w", err)
	}
	return applied(res)
}

// ResolvePayoutAccount finds or creates the member's account for reference.
func (s *Store) ResolvePayoutAccount(ctx context.Context, memberID, reference string) (*models.PayoutAccount, error) {
	_, err := s.exec(ctx,
		`INSERT INTO payout_accounts (id, member_id, reference, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (member_id, reference) DO NOTHING`,
		uuid.New().String(), memberID, reference, time.Now().UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert payout account: %w", err)
	}

	account := &models.PayoutAccount{}
	err = s.queryRow(ctx,
		"SELECT id, member_id, reference, created_at FROM payout_accounts WHERE member_id = ? AND reference = ?",
		memberID, reference,
	).Scan(&account.ID, &account.MemberID, &account.Reference, &account.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get payout account: %w", err)
	}
	return account, nil
}

func scanWithdrawal(scan func(dest ...any) error) (*models.WithdrawalRequest, error) {
	var (
		w      models.WithdrawalRequest
		status string
	)
	if err := scan(&w.ID, &w.MemberID, &w.Amount, &w.Currency, &w.DestinationAccount, &w.PayoutAccountID,
		&status, &w.TransactionID, &w.IdempotencyKey, &w.FailureReason, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	w.Status = models.WithdrawalStatus(status)
	return &w, nil
}

// repeatPlaceholder returns a string of ", ?" repeated n times.
// Used for building IN clauses with multiple placeholders.
func repeatPlaceholder(n int) string {
	if n <= 0 {
		return ""
	}
	result := ""
	for i := 0; i < n; i++ {
		result += ", ?"
	}
	return result
}
