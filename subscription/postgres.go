package subscription

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const schema = `
CREATE TABLE IF NOT EXISTS plans (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	price         NUMERIC(14,2) NOT NULL,
	currency      TEXT NOT NULL,
	billing_cycle TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS subscriptions (
	id                   UUID PRIMARY KEY,
	vendor_id            TEXT NOT NULL UNIQUE,
	plan_id              TEXT NOT NULL REFERENCES plans(id),
	status               TEXT NOT NULL,
	amount               NUMERIC(14,2) NOT NULL,
	currency             TEXT NOT NULL,
	last_transaction_id  TEXT NOT NULL,
	current_period_start TIMESTAMPTZ NOT NULL,
	current_period_end   TIMESTAMPTZ NOT NULL,
	updated_at           TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS subscription_payments (
	transaction_id  TEXT PRIMARY KEY,
	subscription_id UUID,
	vendor_id       TEXT NOT NULL,
	plan_id         TEXT NOT NULL,
	amount          NUMERIC(14,2) NOT NULL,
	currency        TEXT NOT NULL,
	payment_type    TEXT NOT NULL,
	applied_at      TIMESTAMPTZ NOT NULL
);`

// PostgresStore is a Store backed by PostgreSQL. The primary key on
// subscription_payments.transaction_id makes ApplyPayment idempotent across
// processes.
type PostgresStore struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewPostgresStore(log *slog.Logger, pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{log: log, pool: pool}
}

// Migrate creates the tables and seeds plans that do not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context, plans []Plan) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, p := range plans {
		batch.Queue(`INSERT INTO plans (id, name, price, currency, billing_cycle)
			VALUES ($1,$2,$3::numeric,$4,$5)
			ON CONFLICT (id) DO NOTHING`,
			p.ID, p.Name, p.Price.String(), p.Currency, string(p.Cycle))
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

func (s *PostgresStore) GetPlan(ctx context.Context, planID string) (Plan, error) {
	var (
		p     Plan
		price string
		cycle string
	)
	err := s.pool.QueryRow(ctx, `SELECT id, name, price::text, currency, billing_cycle FROM plans WHERE id=$1`, planID).
		Scan(&p.ID, &p.Name, &price, &p.Currency, &cycle)
	if errors.Is(err, pgx.ErrNoRows) {
		return Plan{}, ErrPlanNotFound
	}
	if err != nil {
		return Plan{}, err
	}
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return Plan{}, err
	}
	p.Cycle = BillingCycle(cycle)
	return p, nil
}

func (s *PostgresStore) GetSubscription(ctx context.Context, vendorID string) (Subscription, error) {
	return scanSubscription(s.pool.QueryRow(ctx, selectSubscription+` WHERE vendor_id=$1`, vendorID))
}

func (s *PostgresStore) ApplyPayment(ctx context.Context, p Payment, plan Plan, now time.Time) (Subscription, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Subscription{}, false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// serialises every payment for the vendor, including its first one when
	// there is no subscription row to lock yet
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, p.VendorID); err != nil {
		return Subscription{}, false, err
	}

	ct, err := tx.Exec(ctx, `INSERT INTO subscription_payments
			(transaction_id, vendor_id, plan_id, amount, currency, payment_type, applied_at)
			VALUES ($1,$2,$3,$4::numeric,$5,$6,$7)
			ON CONFLICT (transaction_id) DO NOTHING`,
		p.TransactionID, p.VendorID, plan.ID, p.Amount.String(), p.Currency, p.PaymentType, now)
	if err != nil {
		return Subscription{}, false, err
	}
	if ct.RowsAffected() == 0 {
		s.log.Info("payment already applied", "transaction_id", p.TransactionID)
		sub, err := scanSubscription(tx.QueryRow(ctx, selectSubscription+` WHERE vendor_id=$1`, p.VendorID))
		if err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
			return Subscription{}, false, err
		}
		return sub, false, nil
	}

	sub, err := scanSubscription(tx.QueryRow(ctx, selectSubscription+` WHERE vendor_id=$1 FOR UPDATE`, p.VendorID))
	switch {
	case errors.Is(err, ErrSubscriptionNotFound):
		sub = Subscription{ID: uuid.NewString(), Status: StatusInactive}
	case err != nil:
		return Subscription{}, false, err
	}
	if sub, err = extend(sub, plan, p, now); err != nil {
		return Subscription{}, false, err
	}

	err = tx.QueryRow(ctx, `INSERT INTO subscriptions
			(id, vendor_id, plan_id, status, amount, currency, last_transaction_id, current_period_start, current_period_end, updated_at)
			VALUES ($1,$2,$3,$4,$5::numeric,$6,$7,$8,$9,$10)
			ON CONFLICT (vendor_id) DO UPDATE SET plan_id=$3, status=$4, amount=$5::numeric, currency=$6,
				last_transaction_id=$7, current_period_start=$8, current_period_end=$9, updated_at=$10
			RETURNING id::text`,
		sub.ID, sub.VendorID, sub.PlanID, string(sub.Status), sub.Amount.String(), sub.Currency,
		sub.LastTransactionID, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.UpdatedAt).Scan(&sub.ID)
	if err != nil {
		return Subscription{}, false, err
	}
	if _, err = tx.Exec(ctx, `UPDATE subscription_payments SET subscription_id=$1 WHERE transaction_id=$2`, sub.ID, p.TransactionID); err != nil {
		return Subscription{}, false, err
	}
	if err = tx.Commit(ctx); err != nil {
		return Subscription{}, false, err
	}
	return sub, true, nil
}

const selectSubscription = `SELECT id::text, vendor_id, plan_id, status, amount::text, currency, last_transaction_id,
	current_period_start, current_period_end, updated_at FROM subscriptions`

func scanSubscription(row pgx.Row) (Subscription, error) {
	var (
		sub    Subscription
		status string
		amount string
	)
	err := row.Scan(&sub.ID, &sub.VendorID, &sub.PlanID, &status, &amount, &sub.Currency, &sub.LastTransactionID,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Subscription{}, ErrSubscriptionNotFound
	}
	if err != nil {
		return Subscription{}, err
	}
	sub.Status = Status(status)
	if sub.Amount, err = decimal.NewFromString(amount); err != nil {
		return Subscription{}, err
	}
	return sub, nil
}
