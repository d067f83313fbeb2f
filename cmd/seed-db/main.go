// Command seed-db applies migrations, loads a catalog of products and
// coupons, and optionally prints a bearer token for local testing.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/catalog"
	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/storage/postgres"
	"github.com/xenking/storefront/internal/token"
)

type options struct {
	databaseURL string
	catalogFile string
	tokenUser   string
	tokenScopes string
	tokenTTL    time.Duration
	authSecret  string
	authIssuer  string
}

func main() {
	var opts options

	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.catalogFile, "catalog-file", "db/seed/catalog.json", "path to catalog JSON file")
	flag.StringVar(&opts.tokenUser, "token-user", "", "print a bearer token for this user id")
	flag.StringVar(&opts.tokenScopes, "token-scopes", "", "space-separated scopes for the printed token, e.g. orders:write")
	flag.DurationVar(&opts.tokenTTL, "token-ttl", 24*time.Hour, "lifetime of the printed token")
	flag.StringVar(&opts.authSecret, "auth-secret", "", "HMAC secret for tokens (or STOREFRONT_AUTH_SECRET env)")
	flag.StringVar(&opts.authIssuer, "auth-issuer", "storefront", "token issuer")
	flag.Parse()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if opts.authSecret == "" {
		opts.authSecret = os.Getenv("STOREFRONT_AUTH_SECRET")
	}
	if opts.tokenUser != "" && opts.authSecret == "" {
		slog.Error("auth secret is required to print a token: set --auth-secret or STOREFRONT_AUTH_SECRET")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, opts options) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedCatalog(ctx, pool, opts.catalogFile); err != nil {
		return errors.Wrap(err, "seed catalog")
	}

	if opts.tokenUser != "" {
		if err := printToken(opts); err != nil {
			return errors.Wrap(err, "issue token")
		}
	}

	return nil
}

func seedCatalog(ctx context.Context, pool *pgxpool.Pool, path string) error {
	slog.Info("reading catalog file", slog.String("path", path))

	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open catalog file")
	}
	defer func() { _ = f.Close() }()

	c, err := catalog.Decode(f)
	if err != nil {
		return err
	}

	slog.Info("upserting products", slog.Int("count", len(c.Products)))
	if err := postgres.NewProductRepository(pool).Upsert(ctx, c.Products...); err != nil {
		return errors.Wrap(err, "upsert products")
	}

	slog.Info("upserting coupons", slog.Int("count", len(c.Coupons)))
	if err := postgres.NewCouponRepository(pool).Upsert(ctx, c.Coupons...); err != nil {
		return errors.Wrap(err, "upsert coupons")
	}
	for _, cp := range c.Coupons {
		slog.Info("upserted coupon", slog.String("code", cp.Code), slog.String("description", cp.Description))
	}

	return nil
}

func printToken(opts options) error {
	issuer := token.NewIssuer([]byte(opts.authSecret), opts.authIssuer, opts.tokenTTL)
	raw, err := issuer.Issue(auth.Identity{
		UserID: opts.tokenUser,
		Scopes: strings.Fields(opts.tokenScopes),
	})
	if err != nil {
		return err
	}

	slog.Info("issued bearer token",
		slog.String("user", opts.tokenUser),
		slog.String("scopes", opts.tokenScopes),
		slog.Duration("ttl", opts.tokenTTL),
	)
	_, err = fmt.Fprintln(os.Stdout, raw)
	return err
}
