package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kiumaa/kixikila/internal/models"
	"github.com/kiumaa/kixikila/internal/storage"
)

const transactionColumns = `seq, id, member_id, group_id, cycle_number, tx_type, scope, amount,
	currency, status, idempotency_key, metadata, created_at, updated_at`

// InsertTransaction appends a ledger record unless its idempotency key was
// already used by the member.
func (s *Store) InsertTransaction(ctx context.Context, tx *models.Transaction) (bool, error) {
	meta, err := json.Marshal(tx.Metadata)
	if err != nil {
		return false, fmt.Errorf("failed to encode metadata: %w", err)
	}
	if tx.Metadata == nil {
		meta = []byte("{}")
	}

	var groupID any
	if tx.GroupID != "" {
		groupID = tx.GroupID
	}

	err = s.queryRow(ctx,
		`INSERT INTO transactions (id, member_id, group_id, cycle_number, tx_type, scope, amount,
			currency, status, idempotency_key, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (member_id, idempotency_key) DO NOTHING
		 RETURNING seq`,
		tx.ID, tx.MemberID, groupID, tx.CycleNumber, string(tx.Type), string(tx.Scope), tx.Amount.String(),
		tx.Currency, string(tx.Status), tx.IdempotencyKey, string(meta), tx.CreatedAt, tx.UpdatedAt,
	).Scan(&tx.Seq)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert transaction: %w", err)
	}
	return true, nil
}

// GetTransaction retrieves a ledger record by ID.
func (s *Store) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	row := s.queryRow(ctx, "SELECT "+transactionColumns+" FROM transactions WHERE id = ?", id)
	tx, err := scanTransaction(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

// GetTransactionByKey retrieves a ledger record by its member-scoped idempotency key.
func (s *Store) GetTransactionByKey(ctx context.Context, memberID, key string) (*models.Transaction, error) {
	row := s.queryRow(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE member_id = ? AND idempotency_key = ?",
		memberID, key,
	)
	tx, err := scanTransaction(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction key %s: %w", key, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction by key: %w", err)
	}
	return tx, nil
}

// UpdateTransactionStatus performs a conditional status transition.
func (s *Store) UpdateTransactionStatus(ctx context.Context, id string, from, to models.TransactionStatus, at int64) (bool, error) {
	res, err := s.exec(ctx,
		"UPDATE transactions SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
		string(to), at, id, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("failed to update transaction status: %w", err)
	}
	return applied(res)
}

// ListTransactions returns a page of ledger records in append order.
func (s *Store) ListTransactions(ctx context.Context, q storage.TransactionQuery) ([]*models.Transaction, error) {
	var (
		where []string
		args  []any
	)
	if q.MemberID != "" {
		where = append(where, "member_id = ?")
		args = append(args, q.MemberID)
	}
	if q.GroupID != "" {
		where = append(where, "group_id = ?")
		args = append(args, q.GroupID)
	}
	if q.AfterSeq > 0 {
		where = append(where, "seq > ?")
		args = append(args, q.AfterSeq)
	}
	if q.Where.Clause != "" {
		where = append(where, q.Where.Clause)
		args = append(args, q.Where.Params...)
	}

	query := "SELECT " + transactionColumns + " FROM transactions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq ASC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	return s.listTransactions(ctx, query, args...)
}

// ListWalletTransactions returns a member's wallet-scoped records.
func (s *Store) ListWalletTransactions(ctx context.Context, memberID, currency string) ([]*models.Transaction, error) {
	return s.listTransactions(ctx,
		"SELECT "+transactionColumns+` FROM transactions
		 WHERE member_id = ? AND scope = ? AND currency = ? ORDER BY seq ASC`,
		memberID, string(models.ScopeWallet), currency,
	)
}

// WalletVersion reads the append high-water mark and settled count of a
// member's wallet records.
func (s *Store) WalletVersion(ctx context.Context, memberID, currency string) (storage.WalletVersion, error) {
	var v storage.WalletVersion
	err := s.queryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0), COUNT(CASE WHEN status <> ? THEN 1 END)
		 FROM transactions WHERE member_id = ? AND scope = ? AND currency = ?`,
		string(models.StatusPending), memberID, string(models.ScopeWallet), currency,
	).Scan(&v.MaxSeq, &v.Settled)
	if err != nil {
		return storage.WalletVersion{}, fmt.Errorf("failed to read wallet version: %w", err)
	}
	return v, nil
}

// ListCycleContributions returns the contributions tagged with a group's cycle.
func (s *Store) ListCycleContributions(ctx context.Context, groupID string, cycle int) ([]*models.Transaction, error) {
	return s.listTransactions(ctx,
		"SELECT "+transactionColumns+` FROM transactions
		 WHERE group_id = ? AND cycle_number = ? AND tx_type = ? ORDER BY seq ASC`,
		groupID, cycle, string(models.TransactionContribution),
	)
}

func (s *Store) listTransactions(ctx context.Context, query string, args ...any) ([]*models.Transaction, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []*models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return txs, nil
}

func scanTransaction(scan func(dest ...any) error) (*models.Transaction, error) {
	var (
		tx      models.Transaction
		groupID sql.NullString
		txType  string
		scope   string
		status  string
		meta    string
	)
	if err := scan(&tx.Seq, &tx.ID, &tx.MemberID, &groupID, &tx.CycleNumber, &txType, &scope, &tx.Amount,
		&tx.Currency, &status, &tx.IdempotencyKey, &meta, &tx.CreatedAt, &tx.UpdatedAt); err != nil {
		return nil, err
	}
	tx.GroupID = groupID.String
	tx.Type = models.TransactionType(txType)
	tx.Scope = models.Scope(scope)
	tx.Status = models.TransactionStatus(status)
	if meta != "" && meta != "{}" && meta != "null" {
		if err := json.Unmarshal([]byte(meta), &tx.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	return &tx, nil
}
