// Command menu-ingest imports menu items from gzipped NDJSON dumps exported
// by the campus POS systems. Exports are noisy: each canteen uploads its own
// dump and stale or mistyped rows show up in single files only. An item is
// trusted when the same item id appears in 2 or more dump files.
//
// The check runs in two passes so dumps never have to fit in memory: pass 1
// builds a bloom filter of item ids per file, pass 2 re-streams each file and
// keeps rows whose id tests positive in another file's filter.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/canteenhq/grouporder/internal/storage/postgres"
)

const (
	bloomCapacity = 5_000_000
	bloomFPR      = 0.001
	progressEvery = 500_000
)

// menuRecord is one NDJSON row from a POS dump.
type menuRecord struct {
	ID       string
	Canteen  string
	Name     string
	Price    decimal.Decimal
	Category string
}

// fileResult holds trusted rows found in a single file during pass 2. The
// mask records which file contributed the row.
type fileResult struct {
	records map[string]menuRecord
	masks   map[string]uint
}

func main() {
	var (
		dataDir     string
		numFiles    int
		databaseURL string
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing menudumpN.ndjson.gz files")
	flag.IntVar(&numFiles, "files", 3, "number of dump files to cross-check")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if numFiles < 2 {
		slog.Error("at least 2 dump files are required for cross-checking")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, numFiles, databaseURL); err != nil {
		slog.Error("menu ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("menu ingest completed successfully")
}

func run(ctx context.Context, dataDir string, numFiles int, databaseURL string) error {
	files := make([]string, numFiles)
	for i := range numFiles {
		files[i] = filepath.Join(dataDir, fmt.Sprintf("menudump%d.ndjson.gz", i+1))
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	slog.Info("pass 1: building bloom filters", slog.Int("files", numFiles))

	filters, err := buildBloomFilters(ctx, files)
	if err != nil {
		return errors.Wrap(err, "build bloom filters")
	}

	slog.Info("pass 2: cross-checking items")

	items, err := findTrustedItems(ctx, files, filters)
	if err != nil {
		return errors.Wrap(err, "find trusted items")
	}

	slog.Info("trusted items found", slog.Int("count", len(items)))

	if len(items) == 0 {
		slog.Info("no items to insert")
		return nil
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := writeItems(ctx, pool, items); err != nil {
		return errors.Wrap(err, "write menu items to database")
	}

	return nil
}

// buildBloomFilters creates one bloom filter per file, concurrently.
func buildBloomFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(buildFilterForFile(ctx, i, f, filters))
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

func buildFilterForFile(ctx context.Context, idx int, path string, filters []*bloom.BloomFilter) func() error {
	return func() error {
		filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
		var count uint64

		if err := streamDump(ctx, path, func(rec menuRecord) {
			filter.AddString(rec.ID)
			count++
			if count%progressEvery == 0 {
				slog.Info("pass 1 progress", slog.Int("file", idx+1), slog.Uint64("rows", count))
			}
		}); err != nil {
			return errors.Wrapf(err, "build filter for file %d", idx+1)
		}

		slog.Info("pass 1 complete", slog.Int("file", idx+1), slog.Uint64("total_rows", count))
		filters[idx] = filter
		return nil
	}
}

// findTrustedItems re-streams each file and checks ids against OTHER files'
// bloom filters. An item is trusted if it appears in 2 or more files; the
// last row seen for an id wins.
func findTrustedItems(ctx context.Context, files []string, filters []*bloom.BloomFilter) (map[string]menuRecord, error) {
	results := make([]fileResult, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(scanFileForCandidates(ctx, i, f, filters, results))
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Merge file bitmasks, keep ids seen in 2+ files.
	merged := make(map[string]uint)
	records := make(map[string]menuRecord)
	for _, r := range results {
		for id, mask := range r.masks {
			merged[id] |= mask
			records[id] = r.records[id]
		}
	}

	trusted := make(map[string]menuRecord)
	for id, mask := range merged {
		if bits.OnesCount(mask) >= 2 {
			trusted[id] = records[id]
		}
	}
	return trusted, nil
}

func scanFileForCandidates(
	ctx context.Context,
	idx int,
	path string,
	filters []*bloom.BloomFilter,
	results []fileResult,
) func() error {
	return func() error {
		res := fileResult{
			records: make(map[string]menuRecord),
			masks:   make(map[string]uint),
		}
		fileBit := uint(1) << uint(idx)
		var count uint64

		if err := streamDump(ctx, path, func(rec menuRecord) {
			count++
			if count%progressEvery == 0 {
				slog.Info("pass 2 progress", slog.Int("file", idx+1), slog.Uint64("rows", count))
			}

			for j, f := range filters {
				if j == idx {
					continue
				}
				if f.TestString(rec.ID) {
					res.records[rec.ID] = rec
					res.masks[rec.ID] |= fileBit
					break
				}
			}
		}); err != nil {
			return errors.Wrapf(err, "scan file %d for candidates", idx+1)
		}

		slog.Info("pass 2 complete",
			slog.Int("file", idx+1),
			slog.Uint64("total_rows", count),
			slog.Int("candidates", len(res.masks)),
		)
		results[idx] = res
		return nil
	}
}

// streamDump opens a gzipped NDJSON file and calls fn for each decoded row.
// Rows that fail to decode are skipped with a warning rather than aborting
// the whole ingest.
func streamDump(ctx context.Context, path string, fn func(rec menuRecord)) error {
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
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var line uint64
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line++
		rec, err := decodeRecord(scanner.Bytes())
		if err != nil {
			slog.Warn("skipping bad row",
				slog.String("file", path),
				slog.Uint64("line", line),
				slog.String("error", err.Error()),
			)
			continue
		}
		if rec.ID == "" || rec.Canteen == "" {
			continue
		}
		fn(rec)
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}

// decodeRecord parses one NDJSON row without allocating an intermediate map.
func decodeRecord(data []byte) (menuRecord, error) {
	var rec menuRecord
	d := jx.DecodeBytes(data)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			v, err := d.Str()
			rec.ID = v
			return err
		case "canteen":
			v, err := d.Str()
			rec.Canteen = v
			return err
		case "name":
			v, err := d.Str()
			rec.Name = v
			return err
		case "price":
			raw, err := d.Num()
			if err != nil {
				return err
			}
			rec.Price, err = decimal.NewFromString(raw.String())
			return err
		case "category":
			v, err := d.Str()
			rec.Category = v
			return err
		default:
			return d.Skip()
		}
	}); err != nil {
		return menuRecord{}, err
	}
	return rec, nil
}

// writeItems upserts trusted menu items. Canteens referenced by the dumps are
// created on the fly so foreign keys hold.
func writeItems(ctx context.Context, pool *pgxpool.Pool, items map[string]menuRecord) error {
	slog.Info("writing menu items to database", slog.Int("count", len(items)))

	written := 0
	for _, rec := range items {
		if _, err := pool.Exec(ctx, `
			INSERT INTO canteens (id, name)
			VALUES ($1, $1)
			ON CONFLICT (id) DO NOTHING`,
			rec.Canteen,
		); err != nil {
			return errors.Wrapf(err, "ensure canteen %s", rec.Canteen)
		}

		if _, err := pool.Exec(ctx, `
			INSERT INTO menu_items (id, canteen_id, name, price, category, available, updated_at)
			VALUES ($1, $2, $3, $4, $5, TRUE, now())
			ON CONFLICT (id) DO UPDATE SET
				canteen_id = EXCLUDED.canteen_id,
				name       = EXCLUDED.name,
				price      = EXCLUDED.price,
				category   = EXCLUDED.category,
				available  = TRUE,
				updated_at = now()`,
			rec.ID, rec.Canteen, rec.Name, rec.Price, rec.Category,
		); err != nil {
			return errors.Wrapf(err, "upsert menu item %s", rec.ID)
		}

		written++
		if written%100 == 0 || written == len(items) {
			slog.Info("write progress", slog.Int("written", written), slog.Int("total", len(items)))
		}
	}
	return nil
}
