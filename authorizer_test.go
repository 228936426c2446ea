package paygate_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/arhyth/paygate"
	"github.com/arhyth/paygate/mocks"
)

const (
	testAcct    = "4242"
	testAddress = "bc1qtestaddress"
)

type authFixture struct {
	store  *paygate.MemoryStore
	feed   *mocks.MockLedgerFeed
	rates  *mocks.MockExchangeRateProvider
	ledger *paygate.WalletLedger
	locker *paygate.KeyedLocker
	auth   *paygate.ChargeAuthorizer
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	log := zerolog.Nop()
	ctrl := gomock.NewController(t)
	catalog, err := paygate.NewCatalog(paygate.DefaultCatalog())
	require.NoError(t, err)
	node, err := snowflake.NewNode(7)
	require.NoError(t, err)

	fx := &authFixture{
		store:  paygate.NewMemoryStore(),
		feed:   mocks.NewMockLedgerFeed(ctrl),
		rates:  mocks.NewMockExchangeRateProvider(ctrl),
		locker: paygate.NewKeyedLocker(),
	}
	fx.ledger = paygate.NewWalletLedger(fx.store, fx.feed, paygate.ConfirmationThreshold, time.Second, &log)
	fx.auth = paygate.NewChargeAuthorizer(fx.store, catalog, fx.rates, fx.ledger, fx.locker, node, &log)
	return fx
}

func (fx *authFixture) register(t *testing.T, id, addr string) {
	t.Helper()
	ctx := context.Background()
	_, err := fx.store.CreateAccount(ctx, id)
	require.NoError(t, err)
	_, err = fx.store.UpdateAccount(ctx, id, func(a *paygate.Account) error {
		a.DepositAddress = addr
		return nil
	})
	require.NoError(t, err)
}

func (fx *authFixture) deposits(addr string, sats ...int64) {
	txs := make([]paygate.FeedTx, 0, len(sats))
	for i, s := range sats {
		txs = append(txs, paygate.FeedTx{
			ID:             addr + "-" + string(rune('a'+i)),
			AmountSubunits: s,
			Confirmations:  paygate.ConfirmationThreshold,
		})
	}
	fx.feed.EXPECT().
		FetchTransactions(gomock.Any(), addr).
		Return(txs, nil).
		AnyTimes()
}

func dlReq(acct string) paygate.ChargeReq {
	return paygate.ChargeReq{
		AcctID: acct,
		Kind:   "dl",
		Params: map[string]string{"name": "John Doe", "city": "Austin", "state": "TX"},
	}
}

func TestPriceQuote(t *testing.T) {
	t.Run("converts exactly when the rate divides the price", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		q, err := paygate.NewPriceQuote(decimal.NewFromInt(10), decimal.NewFromInt(50000))
		reqrd.NoError(err)
		as.Equal("0.00020000", q.Crypto.StringFixed(paygate.CryptoPlaces))
	})

	t.Run("rounds up to the next subunit", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		q, err := paygate.NewPriceQuote(decimal.NewFromInt(10), decimal.NewFromInt(30000))
		reqrd.NoError(err)
		as.Equal("0.00033334", q.Crypto.StringFixed(paygate.CryptoPlaces))
	})

	t.Run("converts back within one subunit of the fiat price", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		rates := []string{"50000", "30000", "67012.53", "12345.6789", "1"}
		prices := []string{"10", "5", "0.99", "123.45"}
		for _, r := range rates {
			for _, p := range prices {
				rate := decimal.RequireFromString(r)
				fiat := decimal.RequireFromString(p)
				q, err := paygate.NewPriceQuote(fiat, rate)
				reqrd.NoError(err)
				diff := q.Crypto.Mul(rate).Sub(fiat)
				as.False(diff.IsNegative(), "rate %s price %s", r, p)
				as.True(diff.LessThan(rate.Mul(decimal.New(1, -paygate.CryptoPlaces))), "rate %s price %s", r, p)
				as.LessOrEqual(-q.Crypto.Exponent(), int32(paygate.CryptoPlaces))
			}
		}
	})

	t.Run("rejects a non-positive rate", func(tt *testing.T) {
		as := assert.New(tt)
		_, err := paygate.NewPriceQuote(decimal.NewFromInt(10), decimal.Zero)
		as.ErrorIs(err, paygate.ErrRateUnavailable)
	})
}

func TestAuthorize(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects when the balance does not cover the price", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		fx := newAuthFixture(tt)
		fx.register(tt, testAcct, testAddress)
		fx.deposits(testAddress, 10000)
		fx.rates.EXPECT().CurrentRate(gomock.Any()).Return(decimal.NewFromInt(50000), nil)

		attempt, err := fx.auth.Authorize(ctx, dlReq(testAcct))
		reqrd.NoError(err)
		as.False(attempt.Admitted())
		var short paygate.ErrInsufficientBalance
		reqrd.True(errors.As(attempt.Reason(), &short))
		as.Equal("0.00020000", short.Required.StringFixed(8))
		as.Equal("0.00010000", short.Available.StringFixed(8))
		as.Equal("0.00010000", short.Shortfall.StringFixed(8))

		acct, err := fx.store.GetAccount(ctx, testAcct)
		reqrd.NoError(err)
		as.True(acct.PendingDebits.IsZero())
		as.Equal(int64(0), acct.UsageCount)
		charges, err := fx.store.ListCharges(ctx, testAcct)
		reqrd.NoError(err)
		as.Empty(charges)
	})

	t.Run("admits and debits when the balance covers the price", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		fx := newAuthFixture(tt)
		fx.register(tt, testAcct, testAddress)
		fx.deposits(testAddress, 50000)
		fx.rates.EXPECT().CurrentRate(gomock.Any()).Return(decimal.NewFromInt(50000), nil)

		attempt, err := fx.auth.Authorize(ctx, dlReq(testAcct))
		reqrd.NoError(err)
		reqrd.True(attempt.Admitted())
		as.Nil(attempt.Reason())
		as.Equal("0.00020000", attempt.Quote.Crypto.StringFixed(8))
		as.NotZero(attempt.ID)

		acct, err := fx.store.GetAccount(ctx, testAcct)
		reqrd.NoError(err)
		as.Equal("0.00030000", acct.Available().StringFixed(8))
		as.Equal(int64(1), acct.UsageCount)

		charges, err := fx.store.ListCharges(ctx, testAcct)
		reqrd.NoError(err)
		reqrd.Len(charges, 1)
		as.Equal(attempt.ID, charges[0].ID)
		as.Equal("dl", charges[0].Kind)

		rec, err := fx.ledger.Reconcile(ctx, testAcct)
		reqrd.NoError(err)
		as.Equal("0.00030000", rec.Available.StringFixed(8))
	})

	t.Run("rejects an unregistered account before checking the operation", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		fx := newAuthFixture(tt)

		attempt, err := fx.auth.Authorize(ctx, paygate.ChargeReq{AcctID: "999", Kind: "nope"})
		reqrd.NoError(err)
		as.ErrorIs(attempt.Reason(), paygate.ErrNotRegistered)

		_, err = fx.store.CreateAccount(ctx, "999")
		reqrd.NoError(err)
		attempt, err = fx.auth.Authorize(ctx, paygate.ChargeReq{AcctID: "999", Kind: "nope"})
		reqrd.NoError(err)
		as.ErrorIs(attempt.Reason(), paygate.ErrNotRegistered)
	})

	t.Run("rejects an unknown operation", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		fx := newAuthFixture(tt)
		fx.register(tt, testAcct, testAddress)

		attempt, err := fx.auth.Authorize(ctx, paygate.ChargeReq{AcctID: testAcct, Kind: "nope"})
		reqrd.NoError(err)
		var unknown paygate.ErrUnknownOperation
		reqrd.True(errors.As(attempt.Reason(), &unknown))
		as.Equal("nope", unknown.Kind)
	})

	t.Run("reports missing parameters in catalog order", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		fx := newAuthFixture(tt)
		fx.register(tt, testAcct, testAddress)

		req := dlReq(testAcct)
		delete(req.Params, "state")
		attempt, err := fx.auth.Authorize(ctx, req)
		reqrd.NoError(err)
		var missing paygate.ErrMissingParameters
		reqrd.True(errors.As(attempt.Reason(), &missing))
		as.Equal([]string{"state"}, missing.Names)

		req.Params = map[string]string{"city": "  "}
		attempt, err = fx.auth.Authorize(ctx, req)
		reqrd.NoError(err)
		reqrd.True(errors.As(attempt.Reason(), &missing))
		as.Equal([]string{"name", "city", "state"}, missing.Names)
	})

	t.Run("rejects with pricing unavailable and never reads the balance", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		fx := newAuthFixture(tt)
		fx.register(tt, testAcct, testAddress)
		fx.rates.EXPECT().
			CurrentRate(gomock.Any()).
			Return(decimal.Zero, paygate.ErrRateUnavailable)
		fx.feed.EXPECT().FetchTransactions(gomock.Any(), gomock.Any()).Times(0)

		attempt, err := fx.auth.Authorize(ctx, dlReq(testAcct))
		reqrd.NoError(err)
		as.ErrorIs(attempt.Reason(), paygate.ErrPricingUnavailable)
		as.Nil(attempt.Quote)
	})

	t.Run("authorizes against stored balance when the feed is down", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		fx := newAuthFixture(tt)
		fx.register(tt, testAcct, testAddress)
		_, err := fx.store.UpdateAccount(ctx, testAcct, func(a *paygate.Account) error {
			a.ConfirmedSum = decimal.RequireFromString("0.001")
			return nil
		})
		reqrd.NoError(err)
		fx.feed.EXPECT().
			FetchTransactions(gomock.Any(), testAddress).
			Return(nil, errors.New("connection refused"))
		fx.rates.EXPECT().CurrentRate(gomock.Any()).Return(decimal.NewFromInt(50000), nil)

		attempt, err := fx.auth.Authorize(ctx, dlReq(testAcct))
		reqrd.NoError(err)
		as.True(attempt.Admitted())
	})

	t.Run("admits at most one of concurrent charges for the full balance", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		fx := newAuthFixture(tt)
		fx.register(tt, testAcct, testAddress)
		fx.deposits(testAddress, 20000)
		fx.rates.EXPECT().
			CurrentRate(gomock.Any()).
			Return(decimal.NewFromInt(50000), nil).
			AnyTimes()

		const n = 16
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			admitted int
			short    int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				attempt, err := fx.auth.Authorize(ctx, dlReq(testAcct))
				if !as.NoError(err) {
					return
				}
				mu.Lock()
				defer mu.Unlock()
				if attempt.Admitted() {
					admitted++
				} else if errors.As(attempt.Reason(), &paygate.ErrInsufficientBalance{}) {
					short++
				}
			}()
		}
		wg.Wait()
		as.Equal(1, admitted)
		as.Equal(n-1, short)

		acct, err := fx.store.GetAccount(ctx, testAcct)
		reqrd.NoError(err)
		as.True(acct.Available().IsZero())
		as.Equal(int64(1), acct.UsageCount)
	})
}
