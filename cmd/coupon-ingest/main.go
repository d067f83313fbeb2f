// Command coupon-ingest bulk-loads coupon definitions from gzip-compressed
// JSON-lines files. Files are read concurrently; when a code appears more
// than once across the input, the first record read wins.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/catalog"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/storage/postgres"
)

const (
	bloomFPR      = 0.001
	progressEvery = 100_000
	maxLineSize   = 64 << 10
)

type options struct {
	dataDir     string
	pattern     string
	databaseURL string
	batchSize   int
	writers     int
	expected    uint
}

// couponSink persists coupon batches.
type couponSink interface {
	Upsert(ctx context.Context, coupons ...coupon.Coupon) error
}

// stats summarizes one ingest run.
type stats struct {
	read      atomic.Int64
	invalid   atomic.Int64
	duplicate atomic.Int64
	written   atomic.Int64
}

func main() {
	var opts options

	flag.StringVar(&opts.dataDir, "data-dir", "data", "directory containing coupon files")
	flag.StringVar(&opts.pattern, "pattern", "*.jsonl.gz", "glob of coupon files inside data-dir")
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&opts.batchSize, "batch-size", 500, "coupons per upsert batch")
	flag.IntVar(&opts.writers, "writers", 4, "concurrent database writers")
	flag.UintVar(&opts.expected, "expected", 1_000_000, "expected number of distinct codes, sizes the bloom filter")
	flag.Parse()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		slog.Error("coupon ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon ingest completed successfully")
}

func run(ctx context.Context, opts options) error {
	files, err := filepath.Glob(filepath.Join(opts.dataDir, opts.pattern))
	if err != nil {
		return errors.Wrap(err, "glob coupon files")
	}
	if len(files) == 0 {
		return errors.Errorf("no files match %s in %s", opts.pattern, opts.dataDir)
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	var st stats
	if err := ingest(ctx, files, opts, postgres.NewCouponRepository(pool), &st); err != nil {
		return err
	}

	slog.Info("ingest summary",
		slog.Int("files", len(files)),
		slog.Int64("read", st.read.Load()),
		slog.Int64("invalid", st.invalid.Load()),
		slog.Int64("duplicate", st.duplicate.Load()),
		slog.Int64("written", st.written.Load()),
	)
	return nil
}

// deduper admits each coupon code once. The bloom filter answers most
// first sightings without touching the exact set; a positive is confirmed
// against the set, so false positives never drop a coupon.
type deduper struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
	seen   map[string]struct{}
}

func newDeduper(expected uint) *deduper {
	return &deduper{
		filter: bloom.NewWithEstimates(max(expected, 1), bloomFPR),
		seen:   make(map[string]struct{}, expected),
	}
}

// admit reports whether code is seen for the first time.
func (d *deduper) admit(code string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.filter.TestString(code) {
		if _, ok := d.seen[code]; ok {
			return false
		}
	} else {
		d.filter.AddString(code)
	}
	d.seen[code] = struct{}{}
	return true
}

// ingest streams files concurrently into batches written by opts.writers
// goroutines.
func ingest(ctx context.Context, files []string, opts options, sink couponSink, st *stats) error {
	batchSize := max(opts.batchSize, 1)
	dedupe := newDeduper(opts.expected)
	batches := make(chan []coupon.Coupon, max(opts.writers, 1))

	g, ctx := errgroup.WithContext(ctx)

	var readers sync.WaitGroup
	for i, path := range files {
		readers.Add(1)
		g.Go(func() error {
			defer readers.Done()
			return readFile(ctx, i, path, batchSize, dedupe, batches, st)
		})
	}
	go func() {
		readers.Wait()
		close(batches)
	}()

	for range max(opts.writers, 1) {
		g.Go(func() error {
			for batch := range batches {
				if err := sink.Upsert(ctx, batch...); err != nil {
					return errors.Wrapf(err, "upsert batch of %d", len(batch))
				}
				st.written.Add(int64(len(batch)))
			}
			return nil
		})
	}

	return g.Wait()
}

// readFile decodes one JSON-lines file and emits deduplicated batches.
// Malformed or invalid records are logged and skipped.
func readFile(
	ctx context.Context,
	idx int,
	path string,
	batchSize int,
	dedupe *deduper,
	out chan<- []coupon.Coupon,
	st *stats,
) error {
	batch := make([]coupon.Coupon, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		select {
		case out <- batch:
		case <-ctx.Done():
			return ctx.Err()
		}
		batch = make([]coupon.Coupon, 0, batchSize)
		return nil
	}

	var line int
	err := streamGzFile(ctx, path, func(raw []byte) error {
		line++
		if len(raw) == 0 {
			return nil
		}
		if n := st.read.Add(1); n%progressEvery == 0 {
			slog.Info("ingest progress", slog.Int64("read", n))
		}

		c, err := catalog.DecodeCoupon(jx.DecodeBytes(raw))
		if err != nil {
			st.invalid.Add(1)
			slog.Warn("skipping invalid coupon",
				slog.String("file", filepath.Base(path)),
				slog.Int("line", line),
				slog.String("error", err.Error()),
			)
			return nil
		}
		if !dedupe.admit(c.Code) {
			st.duplicate.Add(1)
			return nil
		}

		batch = append(batch, c)
		if len(batch) >= batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "read file %d", idx+1)
	}
	if err := flush(); err != nil {
		return err
	}

	slog.Info("file complete", slog.Int("file", idx+1), slog.Int("lines", line))
	return nil
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(scanner.Bytes()); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}
