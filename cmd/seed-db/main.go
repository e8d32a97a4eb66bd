// Command seed-db loads the embedded demo voucher catalog into PostgreSQL.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/quangvu/storefront-voucher-engine/db"
	"github.com/quangvu/storefront-voucher-engine/internal/repository"
)

type voucherJSON struct {
	ID                    string           `json:"id"`
	Title                 string           `json:"title"`
	Description           string           `json:"description"`
	Category              string           `json:"category"`
	DiscountKind          *string          `json:"discount_kind"`
	DiscountValue         decimal.Decimal  `json:"discount_value"`
	DiscountCap           *decimal.Decimal `json:"discount_cap"`
	ShippingDiscountValue decimal.Decimal  `json:"shipping_discount_value"`
	MinOrderValue         decimal.Decimal  `json:"min_order_value"`
	UsageLimit            int              `json:"usage_limit"`
	MaxPerUser            int              `json:"max_per_user"`
}

const upsertVoucherSQL = `INSERT INTO vouchers
	(id, title, description, category, discount_kind, discount_value,
	 discount_cap, shipping_discount_value, min_order_value, usage_limit, max_per_user)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (id) DO UPDATE SET
		title = EXCLUDED.title,
		description = EXCLUDED.description,
		category = EXCLUDED.category,
		discount_kind = EXCLUDED.discount_kind,
		discount_value = EXCLUDED.discount_value,
		discount_cap = EXCLUDED.discount_cap,
		shipping_discount_value = EXCLUDED.shipping_discount_value,
		min_order_value = EXCLUDED.min_order_value,
		usage_limit = EXCLUDED.usage_limit,
		max_per_user = EXCLUDED.max_per_user`

func main() {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed")
}

func run(ctx context.Context, databaseURL string) error {
	var vouchers []voucherJSON
	if err := json.Unmarshal(db.SeedVouchers, &vouchers); err != nil {
		return errors.Wrap(err, "parse seed vouchers")
	}

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	for _, v := range vouchers {
		_, err := pool.Exec(ctx, upsertVoucherSQL,
			v.ID, v.Title, v.Description, v.Category, v.DiscountKind,
			v.DiscountValue, v.DiscountCap, v.ShippingDiscountValue,
			v.MinOrderValue, v.UsageLimit, v.MaxPerUser,
		)
		if err != nil {
			return errors.Wrapf(err, "upsert voucher %s", v.ID)
		}
		slog.Info("seeded voucher", slog.String("id", v.ID))
	}

	return nil
}
