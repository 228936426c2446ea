package paygate

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

//go:generate mockgen -source=service.go -destination=mocks/service.go -package=mocks

type RegisterReq struct {
	AcctID string
}

type Registration struct {
	Account           *Account
	AlreadyRegistered bool
}

type ProfileReq struct {
	AcctID string
}

// Profile is the user-facing account summary. FiatValue is nil when no
// exchange rate could be fetched.
type Profile struct {
	AcctID         string
	DepositAddress string
	Balance        decimal.Decimal
	FiatValue      *decimal.Decimal
	UsageCount     int64
	Stale          bool
}

type StatementReq struct {
	AcctID string
}

type Service interface {
	Register(context.Context, RegisterReq) (*Registration, error)
	Profile(context.Context, ProfileReq) (*Profile, error)
	Authorize(context.Context, ChargeReq) (*ChargeAttempt, error)
	Statement(context.Context, io.Writer, StatementReq) error
}

func NewService(
	store AccountStore,
	ledger *WalletLedger,
	authorizer *ChargeAuthorizer,
	rates ExchangeRateProvider,
	locker Locker,
	log *zerolog.Logger,
) *serviceImpl {
	return &serviceImpl{
		store:      store,
		ledger:     ledger,
		authorizer: authorizer,
		rates:      rates,
		locker:     locker,
		log:        log,
	}
}

type serviceImpl struct {
	store      AccountStore
	ledger     *WalletLedger
	authorizer *ChargeAuthorizer
	rates      ExchangeRateProvider
	locker     Locker
	log        *zerolog.Logger
}

var (
	_ Service = (*serviceImpl)(nil)
)

func (s *serviceImpl) Register(ctx context.Context, req RegisterReq) (*Registration, error) {
	acct, err := s.store.CreateAccount(ctx, req.AcctID)
	if err != nil {
		return nil, fmt.Errorf("register: create account %s: %w", req.AcctID, err)
	}
	if acct.Registered() {
		return &Registration{Account: acct, AlreadyRegistered: true}, nil
	}

	unlock, err := s.locker.Lock(ctx, req.AcctID)
	if err != nil {
		return nil, fmt.Errorf("register: lock account %s: %w", req.AcctID, err)
	}
	defer unlock()

	if _, err = s.ledger.ProvisionAddress(ctx, req.AcctID); err != nil {
		return nil, err
	}
	acct, err = s.store.GetAccount(ctx, req.AcctID)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("acct", acct.ID).Str("address", acct.DepositAddress).Msg("account registered")
	return &Registration{Account: acct}, nil
}

func (s *serviceImpl) Profile(ctx context.Context, req ProfileReq) (*Profile, error) {
	acct, err := s.store.GetAccount(ctx, req.AcctID)
	if err != nil {
		if errors.As(err, &ErrNotFound{}) {
			return nil, ErrNotRegistered
		}
		return nil, err
	}
	if !acct.Registered() {
		return nil, ErrNotRegistered
	}

	var (
		bal  *Reconciliation
		rate decimal.Decimal
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		unlock, err := s.locker.Lock(gctx, req.AcctID)
		if err != nil {
			return fmt.Errorf("profile: lock account %s: %w", req.AcctID, err)
		}
		defer unlock()
		bal, err = s.ledger.Balance(gctx, req.AcctID)
		return err
	})
	g.Go(func() error {
		var err error
		if rate, err = s.rates.CurrentRate(gctx); err != nil {
			rate = decimal.Zero
		}
		return nil
	})
	if err = g.Wait(); err != nil {
		return nil, err
	}

	acct, err = s.store.GetAccount(ctx, req.AcctID)
	if err != nil {
		return nil, err
	}
	prof := &Profile{
		AcctID:         acct.ID,
		DepositAddress: acct.DepositAddress,
		Balance:        bal.Available,
		UsageCount:     acct.UsageCount,
		Stale:          bal.Stale,
	}
	if rate.IsPositive() {
		fiat := bal.Available.Mul(rate).Round(2)
		prof.FiatValue = &fiat
	}
	return prof, nil
}

func (s *serviceImpl) Authorize(ctx context.Context, req ChargeReq) (*ChargeAttempt, error) {
	return s.authorizer.Authorize(ctx, req)
}

func (s *serviceImpl) Statement(ctx context.Context, w io.Writer, req StatementReq) error {
	acct, err := s.store.GetAccount(ctx, req.AcctID)
	if err != nil {
		return err
	}
	charges, err := s.store.ListCharges(ctx, req.AcctID)
	if err != nil {
		return fmt.Errorf("statement: list charges %s: %w", req.AcctID, err)
	}
	return WriteStatement(w, acct, charges)
}
