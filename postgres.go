package paygate

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	pgInsertAcctSQL = `
		INSERT INTO accounts (id)
		VALUES ($1)
		ON CONFLICT (id) DO NOTHING;
	`

	pgSelectAcctSQL = `
		SELECT deposit_address, confirmed_sum, pending_debits, usage_count, created_at, reconciled_at
		FROM accounts
		WHERE id = $1;
	`

	pgSelectForUpdateAcctSQL = `
		SELECT deposit_address, confirmed_sum, pending_debits, usage_count, created_at, reconciled_at
		FROM accounts
		WHERE id = $1
		FOR UPDATE;
	`

	pgUpdateAcctSQL = `
		UPDATE accounts
		SET deposit_address = $1, confirmed_sum = $2, pending_debits = $3, usage_count = $4, reconciled_at = $5
		WHERE id = $6;
	`

	pgSelectLedgerTxsSQL = `
		SELECT tx_id, amount
		FROM ledger_txs
		WHERE acct_id = $1;
	`

	pgDeleteLedgerTxsSQL = `
		DELETE FROM ledger_txs
		WHERE acct_id = $1;
	`

	pgInsertLedgerTxSQL = `
		INSERT INTO ledger_txs (acct_id, tx_id, amount)
		VALUES ($1, $2, $3);
	`

	pgInsertChargeSQL = `
		INSERT INTO charges (id, acct_id, kind, amount, fiat_price, rate, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7);
	`

	pgSelectChargesSQL = `
		SELECT id, kind, amount, fiat_price, rate, created_at
		FROM charges
		WHERE acct_id = $1
		ORDER BY created_at, id;
	`
)

// PostgresStore is the AccountStore backed by Postgres. Mutations lock the
// account row for the length of their transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  *zerolog.Logger
}

var (
	_ AccountStore = (*PostgresStore)(nil)
)

func NewPostgresStore(ctx context.Context, connStr string, log *zerolog.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{
		pool: pool,
		log:  log,
	}, nil
}

func (pg *PostgresStore) Close() {
	pg.pool.Close()
}

type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func scanAccount(row pgx.Row, id string) (*Account, error) {
	var (
		acct = &Account{ID: id}
		rec  *time.Time
	)
	err := row.Scan(&acct.DepositAddress, &acct.ConfirmedSum, &acct.PendingDebits, &acct.UsageCount, &acct.CreatedAt, &rec)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound{ID: id}
		}
		return nil, err
	}
	if rec != nil {
		acct.ReconciledAt = *rec
	}
	return acct, nil
}

func loadKnownTxs(ctx context.Context, q pgQuerier, acct *Account) error {
	rows, err := q.Query(ctx, pgSelectLedgerTxsSQL, acct.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	acct.KnownTxs = map[string]decimal.Decimal{}
	for rows.Next() {
		var (
			txID string
			amt  decimal.Decimal
		)
		if err = rows.Scan(&txID, &amt); err != nil {
			return err
		}
		acct.KnownTxs[txID] = amt
	}
	return rows.Err()
}

func (pg *PostgresStore) rollback(ctx context.Context, tx pgx.Tx, acctID string) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		pg.log.Err(err).Str("acct", acctID).Msg("transaction rollback fail")
	}
}

func (pg *PostgresStore) CreateAccount(ctx context.Context, id string) (*Account, error) {
	if _, err := pg.pool.Exec(ctx, pgInsertAcctSQL, id); err != nil {
		return nil, err
	}
	return pg.GetAccount(ctx, id)
}

func (pg *PostgresStore) GetAccount(ctx context.Context, id string) (*Account, error) {
	acct, err := scanAccount(pg.pool.QueryRow(ctx, pgSelectAcctSQL, id), id)
	if err != nil {
		return nil, err
	}
	if err = loadKnownTxs(ctx, pg.pool, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

func (pg *PostgresStore) UpdateAccount(ctx context.Context, id string, fn func(*Account) error) (*Account, error) {
	tx, err := pg.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, err
	}
	defer pg.rollback(ctx, tx, id)

	acct, err := scanAccount(tx.QueryRow(ctx, pgSelectForUpdateAcctSQL, id), id)
	if err != nil {
		return nil, err
	}
	if err = loadKnownTxs(ctx, tx, acct); err != nil {
		return nil, err
	}
	before := acct.clone()
	if err = fn(acct); err != nil {
		return nil, err
	}

	var rec *time.Time
	if !acct.ReconciledAt.IsZero() {
		rec = &acct.ReconciledAt
	}
	batch := &pgx.Batch{}
	batch.Queue(pgUpdateAcctSQL, acct.DepositAddress, acct.ConfirmedSum, acct.PendingDebits, acct.UsageCount, rec, id)
	if !sameTxs(before.KnownTxs, acct.KnownTxs) {
		batch.Queue(pgDeleteLedgerTxsSQL, id)
		for txID, amt := range acct.KnownTxs {
			batch.Queue(pgInsertLedgerTxSQL, id, txID, amt)
		}
	}
	if err = tx.SendBatch(ctx, batch).Close(); err != nil {
		return nil, err
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	return acct, nil
}

func sameTxs(a, b map[string]decimal.Decimal) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || !w.Equal(v) {
			return false
		}
	}
	return true
}

func (pg *PostgresStore) ApplyCharge(ctx context.Context, charge Charge) (*Account, error) {
	tx, err := pg.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, err
	}
	defer pg.rollback(ctx, tx, charge.AcctID)

	acct, err := scanAccount(tx.QueryRow(ctx, pgSelectForUpdateAcctSQL, charge.AcctID), charge.AcctID)
	if err != nil {
		return nil, err
	}
	if err = applyCharge(acct, charge); err != nil {
		return nil, err
	}

	var rec *time.Time
	if !acct.ReconciledAt.IsZero() {
		rec = &acct.ReconciledAt
	}
	batch := &pgx.Batch{}
	batch.Queue(pgUpdateAcctSQL, acct.DepositAddress, acct.ConfirmedSum, acct.PendingDebits, acct.UsageCount, rec, acct.ID)
	batch.Queue(pgInsertChargeSQL, charge.ID.Int64(), charge.AcctID, charge.Kind, charge.Amount, charge.FiatPrice, charge.Rate, charge.CreatedAt)
	if err = tx.SendBatch(ctx, batch).Close(); err != nil {
		return nil, err
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	acct.KnownTxs = map[string]decimal.Decimal{}
	return acct, nil
}

func (pg *PostgresStore) ListCharges(ctx context.Context, id string) ([]Charge, error) {
	var exists bool
	if err := pg.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1);`, id).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound{ID: id}
	}

	rows, err := pg.pool.Query(ctx, pgSelectChargesSQL, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var charges []Charge
	for rows.Next() {
		var (
			ch  = Charge{AcctID: id}
			cid int64
		)
		if err = rows.Scan(&cid, &ch.Kind, &ch.Amount, &ch.FiatPrice, &ch.Rate, &ch.CreatedAt); err != nil {
			return nil, err
		}
		ch.ID = snowflake.ID(cid)
		charges = append(charges, ch)
	}
	return charges, rows.Err()
}
