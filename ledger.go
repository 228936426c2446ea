package paygate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Reconciliation is the balance view produced by the ledger. Stale is set
// when the feed could not be reached and stored values were used instead.
type Reconciliation struct {
	AcctID        string
	ConfirmedSum  decimal.Decimal
	PendingDebits decimal.Decimal
	Available     decimal.Decimal
	Settled       decimal.Decimal
	Stale         bool
}

func reconciliationOf(acct *Account) *Reconciliation {
	return &Reconciliation{
		AcctID:        acct.ID,
		ConfirmedSum:  acct.ConfirmedSum,
		PendingDebits: acct.PendingDebits,
		Available:     acct.Available(),
		Settled:       decimal.Zero,
	}
}

// WalletLedger issues deposit addresses and rebuilds account balances from
// the ledger feed.
type WalletLedger struct {
	store     AccountStore
	feed      LedgerFeed
	threshold int
	timeout   time.Duration
	log       *zerolog.Logger
}

func NewWalletLedger(store AccountStore, feed LedgerFeed, threshold int, timeout time.Duration, log *zerolog.Logger) *WalletLedger {
	if threshold <= 0 {
		threshold = ConfirmationThreshold
	}
	return &WalletLedger{
		store:     store,
		feed:      feed,
		threshold: threshold,
		timeout:   timeout,
		log:       log,
	}
}

// ProvisionAddress returns the account's deposit address, issuing one from
// the feed only when the account has none.
func (l *WalletLedger) ProvisionAddress(ctx context.Context, acctID string) (string, error) {
	acct, err := l.store.GetAccount(ctx, acctID)
	if err != nil {
		return "", err
	}
	if acct.Registered() {
		return acct.DepositAddress, nil
	}

	fctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	start := time.Now()
	addr, err := l.feed.IssueAddress(fctx)
	observeUpstream("ledger_issue", start, err)
	if err != nil {
		l.log.Err(err).Str("acct", acctID).Msg("error issuing deposit address")
		return "", fmt.Errorf("%w: %w", ErrProvisioningFailed, err)
	}
	if addr == "" {
		l.log.Error().Str("acct", acctID).Msg("ledger feed returned no address")
		return "", fmt.Errorf("%w: empty address", ErrProvisioningFailed)
	}

	updated, err := l.store.UpdateAccount(ctx, acctID, func(a *Account) error {
		if a.DepositAddress == "" {
			a.DepositAddress = addr
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if updated.DepositAddress != addr {
		l.log.Warn().
			Str("acct", acctID).
			Str("issued", addr).
			Str("kept", updated.DepositAddress).
			Msg("account already had an address, issued address discarded")
	}
	return updated.DepositAddress, nil
}

// errSuperseded marks a feed snapshot taken before the one already stored.
var errSuperseded = errors.New("reconciliation superseded")

// Reconcile replaces the account's confirmed sum with the sum of feed
// transactions at or above the confirmation threshold. Pending debits are
// kept; they are only settled by newly confirmed outgoing transactions.
// A snapshot fetched before the stored one is discarded and the stored
// balance is returned instead.
func (l *WalletLedger) Reconcile(ctx context.Context, acctID string) (*Reconciliation, error) {
	acct, err := l.store.GetAccount(ctx, acctID)
	if err != nil {
		return nil, err
	}
	if !acct.Registered() {
		return nil, ErrNotRegistered
	}

	fetchedAt := time.Now().UTC().Truncate(time.Microsecond)
	fctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	start := time.Now()
	txs, err := l.feed.FetchTransactions(fctx, acct.DepositAddress)
	observeUpstream("ledger_transactions", start, err)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReconciliationUnavailable, err)
	}

	confirmed := make(map[string]decimal.Decimal, len(txs))
	sum := decimal.Zero
	for _, tx := range txs {
		if tx.Confirmations < l.threshold {
			continue
		}
		if _, dup := confirmed[tx.ID]; dup {
			continue
		}
		amt := decimal.New(tx.AmountSubunits, -CryptoPlaces)
		confirmed[tx.ID] = amt
		sum = sum.Add(amt)
	}

	settled := decimal.Zero
	updated, err := l.store.UpdateAccount(ctx, acctID, func(a *Account) error {
		if fetchedAt.Before(a.ReconciledAt) {
			return errSuperseded
		}
		outgoing := decimal.Zero
		for id, amt := range confirmed {
			if _, known := a.KnownTxs[id]; known {
				continue
			}
			if amt.IsNegative() {
				outgoing = outgoing.Add(amt.Neg())
			}
		}
		settled = decimal.Min(outgoing, a.PendingDebits)
		a.PendingDebits = a.PendingDebits.Sub(settled)
		a.ConfirmedSum = sum
		a.KnownTxs = confirmed
		a.ReconciledAt = fetchedAt
		return nil
	})
	if errors.Is(err, errSuperseded) {
		l.log.Debug().Str("acct", acctID).Time("fetched_at", fetchedAt).Msg("discarding out-of-order reconciliation")
		if updated, err = l.store.GetAccount(ctx, acctID); err != nil {
			return nil, err
		}
		return reconciliationOf(updated), nil
	}
	if err != nil {
		return nil, err
	}

	rec := reconciliationOf(updated)
	rec.Settled = settled
	return rec, nil
}

// Balance reconciles the account and falls back to the stored balance when
// the feed is unavailable.
func (l *WalletLedger) Balance(ctx context.Context, acctID string) (*Reconciliation, error) {
	rec, err := l.Reconcile(ctx, acctID)
	if err == nil {
		reconciliations.WithLabelValues("ok").Inc()
		return rec, nil
	}
	if !errors.Is(err, ErrReconciliationUnavailable) {
		return nil, err
	}

	l.log.Warn().Err(err).Str("acct", acctID).Msg("reconciliation unavailable, using stored balance")
	reconciliations.WithLabelValues("stale").Inc()
	acct, gerr := l.store.GetAccount(ctx, acctID)
	if gerr != nil {
		return nil, gerr
	}
	rec = reconciliationOf(acct)
	rec.Stale = true
	return rec, nil
}
