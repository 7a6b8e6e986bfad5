package ledger

import (
	"context"
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/kiumaa/kixikila/internal/apperr"
	"github.com/kiumaa/kixikila/internal/filter"
	"github.com/kiumaa/kixikila/internal/models"
	"github.com/kiumaa/kixikila/internal/storage"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
	pageTokenPrefix = "seq:"
)

// QueryRequest selects a page of transactions. Exactly one of MemberID and
// GroupID must be set.
type QueryRequest struct {
	MemberID string
	GroupID  string

	// Filter is an AIP-160 expression, e.g. `type = "payout" AND status = "completed"`.
	Filter string

	PageSize  int
	PageToken string
}

// Page is one page of a query, in ascending append order.
type Page struct {
	Transactions  []*models.Transaction
	NextPageToken string
}

// Query returns transactions in append order.
func (l *Ledger) Query(ctx context.Context, req QueryRequest) (*Page, error) {
	if (req.MemberID == "") == (req.GroupID == "") {
		return nil, apperr.New(apperr.KindInvalidArgument, "exactly one of member id and group id is required")
	}

	cond, err := filter.ParseTransactionFilter(req.Filter)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidArgument, err, "invalid filter")
	}

	after, err := decodePageToken(req.PageToken)
	if err != nil {
		return nil, err
	}

	size := req.PageSize
	switch {
	case size <= 0:
		size = defaultPageSize
	case size > maxPageSize:
		size = maxPageSize
	}

	txs, err := l.store.ListTransactions(ctx, storage.TransactionQuery{
		MemberID: req.MemberID,
		GroupID:  req.GroupID,
		Where:    cond,
		AfterSeq: after,
		Limit:    size + 1,
	})
	if err != nil {
		return nil, err
	}

	page := &Page{Transactions: txs}
	if len(txs) > size {
		page.Transactions = txs[:size]
		page.NextPageToken = encodePageToken(page.Transactions[size-1].Seq)
	}
	return page, nil
}

func encodePageToken(seq int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(pageTokenPrefix + strconv.FormatInt(seq, 10)))
}

func decodePageToken(token string) (int64, error) {
	if token == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindInvalidArgument, err, "malformed page token")
	}
	s, ok := strings.CutPrefix(string(raw), pageTokenPrefix)
	if !ok {
		return 0, apperr.New(apperr.KindInvalidArgument, "malformed page token")
	}
	seq, err := strconv.ParseInt(s, 10, 64)
	if err != nil || seq < 0 {
		return 0, apperr.New(apperr.KindInvalidArgument, "malformed page token")
	}
	return seq, nil
}
