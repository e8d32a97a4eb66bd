// Command voucher-ingest bulk-loads voucher definitions from gzipped
// JSON-lines partner feeds into PostgreSQL.
//
// A definition is trusted only when it appears in at least two feed files
// (partner feeds cross-confirm each other). Pass 1 builds one bloom filter
// of voucher ids per file; pass 2 streams the files again, decodes the
// definitions whose id the other filters also contain, and writes them in
// batches.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/quangvu/storefront-voucher-engine/internal/repository"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
	batchSize     = 1000
)

func main() {
	var (
		dataDir     string
		databaseURL string
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing voucherbase*.json.gz feed files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL); err != nil {
		slog.Error("voucher ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("voucher ingest completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string) error {
	files, err := filepath.Glob(filepath.Join(dataDir, "voucherbase*.json.gz"))
	if err != nil {
		return errors.Wrap(err, "list feed files")
	}
	if len(files) < 2 {
		return errors.Errorf("need at least 2 feed files for cross-confirmation, found %d", len(files))
	}

	slog.Info("pass 1: building bloom filters", slog.Int("files", len(files)))

	filters, err := buildBloomFilters(ctx, files)
	if err != nil {
		return errors.Wrap(err, "build bloom filters")
	}

	slog.Info("pass 2: collecting confirmed definitions")

	vouchers, err := collectConfirmed(ctx, files, filters)
	if err != nil {
		return errors.Wrap(err, "collect confirmed definitions")
	}

	slog.Info("confirmed vouchers", slog.Int("count", len(vouchers)))

	if len(vouchers) == 0 {
		slog.Info("nothing to insert")
		return nil
	}

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	return writeVouchers(ctx, pool, vouchers)
}

// buildBloomFilters creates one filter of voucher ids per file, concurrently.
func buildBloomFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
			err := streamGzLines(ctx, path, func(line []byte) error {
				id, err := extractID(line)
				if err != nil {
					return err
				}
				filter.AddString(id)
				return nil
			})
			if err != nil {
				return errors.Wrapf(err, "filter for %s", path)
			}
			filters[i] = filter
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// collectConfirmed keeps definitions whose id appears in at least two files.
// Later duplicates of an already collected id are ignored.
func collectConfirmed(ctx context.Context, files []string, filters []*bloom.BloomFilter) (map[string]feedVoucher, error) {
	confirmed := make(map[string]feedVoucher)

	for i, path := range files {
		err := streamGzLines(ctx, path, func(line []byte) error {
			id, err := extractID(line)
			if err != nil {
				return err
			}
			if _, ok := confirmed[id]; ok {
				return nil
			}
			others := 0
			for j, f := range filters {
				if j != i && f.TestString(id) {
					others++
				}
			}
			if others == 0 {
				return nil
			}
			v, err := decodeVoucher(line)
			if err != nil {
				return errors.Wrapf(err, "decode voucher %s", id)
			}
			confirmed[id] = v
			return nil
		})
		if err != nil {
			return nil, errors.Wrapf(err, "scan %s", path)
		}
	}

	return confirmed, nil
}

// streamGzLines reads a gzipped file line by line.
func streamGzLines(ctx context.Context, path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open")
	}
	defer f.Close()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrap(err, "gzip reader")
	}
	defer gz.Close()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<20)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// feedVoucher is one decoded definition from a feed line.
type feedVoucher struct {
	ID                    string
	Title                 string
	Description           string
	Category              string
	DiscountKind          *string
	DiscountValue         decimal.Decimal
	DiscountCap           *decimal.Decimal
	ShippingDiscountValue decimal.Decimal
	MinOrderValue         decimal.Decimal
	UsageLimit            int
	MaxPerUser            int
}

// extractID pulls only the id field out of a feed line, skipping the rest.
func extractID(line []byte) (string, error) {
	d := jx.DecodeBytes(line)
	var id string
	err := d.Obj(func(d *jx.Decoder, key string) error {
		if key == "id" {
			var err error
			id, err = d.Str()
			return err
		}
		return d.Skip()
	})
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", errors.New("feed line without id")
	}
	return id, nil
}

// decodeVoucher decodes a full definition from a feed line.
func decodeVoucher(line []byte) (feedVoucher, error) {
	var v feedVoucher
	d := jx.DecodeBytes(line)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			v.ID, err = d.Str()
		case "title":
			v.Title, err = d.Str()
		case "description":
			v.Description, err = d.Str()
		case "category":
			v.Category, err = d.Str()
		case "discount_kind":
			var kind string
			kind, err = d.Str()
			v.DiscountKind = &kind
		case "discount_value":
			v.DiscountValue, err = decodeDecimal(d)
		case "discount_cap":
			var c decimal.Decimal
			c, err = decodeDecimal(d)
			v.DiscountCap = &c
		case "shipping_discount_value":
			v.ShippingDiscountValue, err = decodeDecimal(d)
		case "min_order_value":
			v.MinOrderValue, err = decodeDecimal(d)
		case "usage_limit":
			v.UsageLimit, err = d.Int()
		case "max_per_user":
			v.MaxPerUser, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return feedVoucher{}, err
	}
	if v.Category != "discount" && v.Category != "shipping" {
		return feedVoucher{}, errors.Errorf("unknown category %q", v.Category)
	}
	if v.Category == "discount" && v.DiscountKind == nil {
		return feedVoucher{}, errors.New("discount voucher without discount_kind")
	}
	return v, nil
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	num, err := d.Num()
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromString(num.String())
}

const insertVoucherSQL = `INSERT INTO vouchers
	(id, title, description, category, discount_kind, discount_value,
	 discount_cap, shipping_discount_value, min_order_value, usage_limit, max_per_user)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (id) DO NOTHING`

// writeVouchers inserts the confirmed definitions in batches. Existing ids
// are left untouched so re-running an ingest never resets usage counters.
func writeVouchers(ctx context.Context, pool *pgxpool.Pool, vouchers map[string]feedVoucher) error {
	batch := &pgx.Batch{}
	flush := func() error {
		if batch.Len() == 0 {
			return nil
		}
		if err := pool.SendBatch(ctx, batch).Close(); err != nil {
			return errors.Wrap(err, "send batch")
		}
		batch = &pgx.Batch{}
		return nil
	}

	inserted := 0
	for _, v := range vouchers {
		batch.Queue(insertVoucherSQL,
			v.ID, v.Title, v.Description, v.Category, v.DiscountKind,
			v.DiscountValue, v.DiscountCap, v.ShippingDiscountValue,
			v.MinOrderValue, v.UsageLimit, v.MaxPerUser,
		)
		inserted++
		if batch.Len() >= batchSize {
			if err := flush(); err != nil {
				return err
			}
			slog.Info("ingest progress", slog.Int("inserted", inserted))
		}
	}
	if err := flush(); err != nil {
		return err
	}

	slog.Info("ingest done", slog.Int("vouchers", inserted))
	return nil
}
