// Package balance derives wallet balances and cycle pools from the ledger.
// Nothing here is persisted; every value is a fold of ledger records.
package balance

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/kiumaa/kixikila/internal/calculator"
	"github.com/kiumaa/kixikila/internal/ledger"
	"github.com/kiumaa/kixikila/internal/metrics"
	"github.com/kiumaa/kixikila/internal/storage"
)

// Projector serves balance reads. Wallet folds are cached per member and
// dropped whenever a committed unit of work touches the member. Writers in
// other processes do not reach Invalidate, so every hit is also checked
// against the stored wallet version.
type Projector struct {
	store    storage.Store
	currency string
	metrics  *metrics.Metrics

	mu    sync.Mutex
	cache map[string]cachedWallet
	// gen is bumped on invalidation so a fold that raced a commit is not cached.
	gen map[string]uint64
}

type cachedWallet struct {
	wallet  calculator.WalletBalance
	version storage.WalletVersion
}

// New creates a Projector and subscribes it to l.
func New(l *ledger.Ledger, store storage.Store, m *metrics.Metrics) *Projector {
	p := &Projector{
		store:    store,
		currency: l.Currency(),
		metrics:  m,
		cache:    make(map[string]cachedWallet),
		gen:      make(map[string]uint64),
	}
	l.Subscribe(p.Invalidate)
	return p
}

// Invalidate drops the cached wallets of memberIDs.
func (p *Projector) Invalidate(memberIDs []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range memberIDs {
		delete(p.cache, id)
		p.gen[id]++
	}
}

// Wallet returns the full wallet fold of a member.
func (p *Projector) Wallet(ctx context.Context, memberID string) (calculator.WalletBalance, error) {
	version, err := p.store.WalletVersion(ctx, memberID, p.currency)
	if err != nil {
		return calculator.WalletBalance{}, err
	}

	p.mu.Lock()
	if c, ok := p.cache[memberID]; ok && c.version == version {
		p.mu.Unlock()
		p.metrics.ObserveBalanceRead(true)
		return c.wallet, nil
	}
	gen := p.gen[memberID]
	p.mu.Unlock()
	p.metrics.ObserveBalanceRead(false)

	// Version and records are read in one transaction so the cached fold
	// matches the version it is stored under.
	var w calculator.WalletBalance
	err = p.store.InTx(ctx, func(tx storage.Store) error {
		v, err := tx.WalletVersion(ctx, memberID, p.currency)
		if err != nil {
			return err
		}
		txs, err := tx.ListWalletTransactions(ctx, memberID, p.currency)
		if err != nil {
			return err
		}
		w = calculator.FoldWallet(txs)
		version = v
		return nil
	})
	if err != nil {
		return calculator.WalletBalance{}, err
	}

	p.mu.Lock()
	if p.gen[memberID] == gen {
		p.cache[memberID] = cachedWallet{wallet: w, version: version}
	}
	p.mu.Unlock()
	return w, nil
}

// GetBalance returns Σ completed credits − Σ completed debits of the
// member's wallet.
func (p *Projector) GetBalance(ctx context.Context, memberID string) (decimal.Decimal, error) {
	w, err := p.Wallet(ctx, memberID)
	if err != nil {
		return decimal.Zero, err
	}
	return w.Balance, nil
}

// AvailableBalance returns the balance minus funds reserved by pending debits.
func (p *Projector) AvailableBalance(ctx context.Context, memberID string) (decimal.Decimal, error) {
	w, err := p.Wallet(ctx, memberID)
	if err != nil {
		return decimal.Zero, err
	}
	return w.Available, nil
}

// Currency returns the wallet currency balances are expressed in.
func (p *Projector) Currency() string { return p.currency }

// GetGroupPool returns the sum of completed contributions of a group's cycle.
func (p *Projector) GetGroupPool(ctx context.Context, groupID string, cycle int) (decimal.Decimal, error) {
	return GroupPool(ctx, p.store, groupID, cycle)
}

// ContributionsByMember returns what each member paid towards a cycle.
func (p *Projector) ContributionsByMember(ctx context.Context, groupID string, cycle int) ([]calculator.MemberContribution, error) {
	return Contributions(ctx, p.store, groupID, cycle)
}

// GroupPool folds a cycle's pool from store. Pass a transaction-bound store
// to read inside a unit of work.
func GroupPool(ctx context.Context, store storage.TransactionStore, groupID string, cycle int) (decimal.Decimal, error) {
	txs, err := store.ListCycleContributions(ctx, groupID, cycle)
	if err != nil {
		return decimal.Zero, err
	}
	return calculator.Pool(txs), nil
}

// Contributions folds per-member paid totals of a cycle from store.
func Contributions(ctx context.Context, store storage.TransactionStore, groupID string, cycle int) ([]calculator.MemberContribution, error) {
	txs, err := store.ListCycleContributions(ctx, groupID, cycle)
	if err != nil {
		return nil, err
	}
	return calculator.FoldContributions(txs), nil
}
