// Command seed-db loads canteens and menu items from a JSON file into the
// database. It is idempotent: rows are upserted by id.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/canteenhq/grouporder/internal/storage/postgres"
)

type seedFile struct {
	Canteens []canteenJSON  `json:"canteens"`
	Items    []menuItemJSON `json:"items"`
}

type canteenJSON struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type menuItemJSON struct {
	ID        string          `json:"id"`
	CanteenID string          `json:"canteen_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Category  string          `json:"category"`
}

func main() {
	var (
		databaseURL string
		menuFile    string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&menuFile, "menu-file", "db/seed/menu.json", "path to menu JSON file")
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

	if err := run(ctx, databaseURL, menuFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, menuFile string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	slog.Info("reading menu file", slog.String("path", menuFile))

	data, err := os.ReadFile(menuFile)
	if err != nil {
		return errors.Wrap(err, "read menu file")
	}

	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return errors.Wrap(err, "parse menu JSON")
	}

	if err := seedCanteens(ctx, pool, seed.Canteens); err != nil {
		return errors.Wrap(err, "seed canteens")
	}
	return seedMenuItems(ctx, pool, seed.Items)
}

func seedCanteens(ctx context.Context, pool *pgxpool.Pool, canteens []canteenJSON) error {
	slog.Info("upserting canteens", slog.Int("count", len(canteens)))

	for _, c := range canteens {
		_, err := pool.Exec(ctx, `
			INSERT INTO canteens (id, name)
			VALUES ($1, $2)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`,
			c.ID, c.Name,
		)
		if err != nil {
			return errors.Wrapf(err, "upsert canteen %s", c.ID)
		}
		slog.Info("upserted canteen", slog.String("id", c.ID), slog.String("name", c.Name))
	}
	return nil
}

func seedMenuItems(ctx context.Context, pool *pgxpool.Pool, items []menuItemJSON) error {
	slog.Info("upserting menu items", slog.Int("count", len(items)))

	for _, it := range items {
		_, err := pool.Exec(ctx, `
			INSERT INTO menu_items (id, canteen_id, name, price, category, available, updated_at)
			VALUES ($1, $2, $3, $4, $5, TRUE, now())
			ON CONFLICT (id) DO UPDATE SET
				canteen_id = EXCLUDED.canteen_id,
				name       = EXCLUDED.name,
				price      = EXCLUDED.price,
				category   = EXCLUDED.category,
				available  = TRUE,
				updated_at = now()`,
			it.ID, it.CanteenID, it.Name, it.Price, it.Category,
		)
		if err != nil {
			return errors.Wrapf(err, "upsert menu item %s", it.ID)
		}
		slog.Info("upserted menu item", slog.String("id", it.ID), slog.String("name", it.Name))
	}
	return nil
}
