package paygate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type ChargeReq struct {
	AcctID string
	Kind   string
	Params map[string]string
}

// PriceQuote converts a fiat price at a given rate. Crypto is rounded up to
// the next subunit so a charge never undercuts the fiat price.
type PriceQuote struct {
	Fiat   decimal.Decimal
	Rate   decimal.Decimal
	Crypto decimal.Decimal
}

func NewPriceQuote(fiat, rate decimal.Decimal) (PriceQuote, error) {
	if !rate.IsPositive() {
		return PriceQuote{}, fmt.Errorf("%w: non-positive rate %s", ErrRateUnavailable, rate)
	}
	q, r := fiat.QuoRem(rate, CryptoPlaces)
	if !r.IsZero() {
		q = q.Add(decimal.New(1, -CryptoPlaces))
	}
	return PriceQuote{
		Fiat:   fiat,
		Rate:   rate,
		Crypto: q,
	}, nil
}

// Outcome is either Admitted or Rejected.
type Outcome interface {
	outcome()
}

type Admitted struct {
	Amount decimal.Decimal
}

type Rejected struct {
	Reason error
}

func (Admitted) outcome() {}
func (Rejected) outcome() {}

// ChargeAttempt records one authorization decision.
type ChargeAttempt struct {
	ID      snowflake.ID
	AcctID  string
	Kind    string
	Params  map[string]string
	Quote   *PriceQuote
	Outcome Outcome
	At      time.Time
}

func (c *ChargeAttempt) Admitted() bool {
	_, ok := c.Outcome.(Admitted)
	return ok
}

// Reason returns the rejection reason, or nil when admitted.
func (c *ChargeAttempt) Reason() error {
	if r, ok := c.Outcome.(Rejected); ok {
		return r.Reason
	}
	return nil
}

// ChargeAuthorizer decides whether an account may pay for an operation and
// debits it when it can. Balance read and debit for one account happen under
// the account's lock.
type ChargeAuthorizer struct {
	store   AccountStore
	catalog *Catalog
	rates   ExchangeRateProvider
	ledger  *WalletLedger
	locker  Locker
	node    *snowflake.Node
	log     *zerolog.Logger
}

func NewChargeAuthorizer(
	store AccountStore,
	catalog *Catalog,
	rates ExchangeRateProvider,
	ledger *WalletLedger,
	locker Locker,
	node *snowflake.Node,
	log *zerolog.Logger,
) *ChargeAuthorizer {
	return &ChargeAuthorizer{
		store:   store,
		catalog: catalog,
		rates:   rates,
		ledger:  ledger,
		locker:  locker,
		node:    node,
		log:     log,
	}
}

// Authorize runs the admission checks in order and stops at the first
// failing one. Rejections are reported through the attempt's Outcome; the
// returned error is reserved for failures of the store or the lock.
func (a *ChargeAuthorizer) Authorize(ctx context.Context, req ChargeReq) (*ChargeAttempt, error) {
	attempt := &ChargeAttempt{
		ID:     a.node.Generate(),
		AcctID: req.AcctID,
		Kind:   strings.ToLower(req.Kind),
		Params: req.Params,
		At:     time.Now().UTC(),
	}

	acct, err := a.store.GetAccount(ctx, req.AcctID)
	if err != nil {
		if errors.As(err, &ErrNotFound{}) {
			return a.reject(attempt, ErrNotRegistered), nil
		}
		return nil, fmt.Errorf("authorize: get account %s: %w", req.AcctID, err)
	}
	if !acct.Registered() {
		return a.reject(attempt, ErrNotRegistered), nil
	}

	op, err := a.catalog.Lookup(attempt.Kind)
	if err != nil {
		return a.reject(attempt, err), nil
	}

	if missing := op.Missing(req.Params); len(missing) > 0 {
		return a.reject(attempt, ErrMissingParameters{Names: missing}), nil
	}

	rate, err := a.rates.CurrentRate(ctx)
	if err != nil {
		return a.reject(attempt, fmt.Errorf("%w: %w", ErrPricingUnavailable, err)), nil
	}
	quote, err := NewPriceQuote(op.Price, rate)
	if err != nil {
		return a.reject(attempt, fmt.Errorf("%w: %w", ErrPricingUnavailable, err)), nil
	}
	attempt.Quote = &quote

	unlock, err := a.locker.Lock(ctx, req.AcctID)
	if err != nil {
		return nil, fmt.Errorf("authorize: lock account %s: %w", req.AcctID, err)
	}
	defer unlock()

	bal, err := a.ledger.Balance(ctx, req.AcctID)
	if err != nil {
		return nil, fmt.Errorf("authorize: balance of %s: %w", req.AcctID, err)
	}
	if bal.Available.LessThan(quote.Crypto) {
		return a.reject(attempt, ErrInsufficientBalance{
			Required:  quote.Crypto,
			Available: bal.Available,
			Shortfall: quote.Crypto.Sub(bal.Available),
		}), nil
	}

	charge := Charge{
		ID:        attempt.ID,
		AcctID:    req.AcctID,
		Kind:      op.Kind,
		Amount:    quote.Crypto,
		FiatPrice: quote.Fiat,
		Rate:      quote.Rate,
		CreatedAt: attempt.At,
	}
	if _, err = a.store.ApplyCharge(ctx, charge); err != nil {
		var short ErrInsufficientBalance
		if errors.As(err, &short) {
			return a.reject(attempt, short), nil
		}
		return nil, fmt.Errorf("authorize: apply charge %s: %w", charge.ID, err)
	}

	attempt.Outcome = Admitted{Amount: quote.Crypto}
	chargeAttempts.WithLabelValues(outcomeLabel(nil)).Inc()
	a.log.Info().
		Str("acct", req.AcctID).
		Str("kind", op.Kind).
		Str("charge", attempt.ID.String()).
		Str("amount", quote.Crypto.StringFixed(CryptoPlaces)).
		Bool("stale_balance", bal.Stale).
		Msg("charge admitted")
	return attempt, nil
}

func (a *ChargeAuthorizer) reject(attempt *ChargeAttempt, reason error) *ChargeAttempt {
	attempt.Outcome = Rejected{Reason: reason}
	chargeAttempts.WithLabelValues(outcomeLabel(reason)).Inc()
	a.log.Debug().
		Str("acct", attempt.AcctID).
		Str("kind", attempt.Kind).
		Str("reason", reason.Error()).
		Msg("charge rejected")
	return attempt
}
