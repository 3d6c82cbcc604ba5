package main

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/cardapiopro/cardapio-api/internal/apperr"
	"github.com/cardapiopro/cardapio-api/internal/domain/coupon"
)

const (
	bloomFPR      = 0.001
	progressEvery = 100_000
)

type codeStore interface {
	Codes(ctx context.Context, fn func(code string)) error
	ExistsByCode(ctx context.Context, code string) (bool, error)
	CreateMany(ctx context.Context, coupons []*coupon.Coupon) (int, error)
}

type stats struct {
	Read       int
	Invalid    int
	Duplicates int
	Existing   int
	Inserted   int
}

// ingester reads code files concurrently and inserts the codes not yet
// stored. Stored codes are loaded into a bloom filter first; only filter hits
// cost a database lookup.
type ingester struct {
	store     codeStore
	build     func(coupon.NewCoupon) (*coupon.Coupon, error)
	template  coupon.NewCoupon
	batchSize int
	expected  uint
}

func (in *ingester) run(ctx context.Context, files []string) (stats, error) {
	var st stats

	known := bloom.NewWithEstimates(max(in.expected, 1024), bloomFPR)
	var stored uint
	if err := in.store.Codes(ctx, func(code string) {
		known.AddString(code)
		stored++
	}); err != nil {
		return st, errors.Wrap(err, "load stored codes")
	}
	slog.Info("loaded stored codes", slog.Uint64("count", uint64(stored)))

	codes := make(chan string, 1024)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(codes)
		readers, rctx := errgroup.WithContext(gctx)
		for _, path := range files {
			readers.Go(func() error {
				return streamCodes(rctx, path, func(code string) error {
					select {
					case codes <- code:
						return nil
					case <-rctx.Done():
						return rctx.Err()
					}
				})
			})
		}
		return readers.Wait()
	})

	g.Go(func() error {
		return in.consume(gctx, codes, known, &st)
	})

	err := g.Wait()
	return st, err
}

func (in *ingester) consume(ctx context.Context, codes <-chan string, known *bloom.BloomFilter, st *stats) error {
	var (
		seen  = make(map[string]struct{})
		batch = make([]*coupon.Coupon, 0, in.batchSize)
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := in.store.CreateMany(ctx, batch)
		if err != nil {
			return errors.Wrap(err, "insert coupons")
		}
		st.Inserted += n
		st.Existing += len(batch) - n
		batch = batch[:0]
		return nil
	}

	for raw := range codes {
		st.Read++
		if st.Read%progressEvery == 0 {
			slog.Info("ingest progress", slog.Int("read", st.Read), slog.Int("inserted", st.Inserted))
		}

		req := in.template
		req.Code = raw
		c, err := in.build(req)
		if err != nil {
			if errors.Is(err, apperr.ErrValidation) {
				st.Invalid++
				slog.Debug("skipping invalid code", slog.String("code", raw), slog.String("reason", apperr.Message(err)))
				continue
			}
			return err
		}

		if _, dup := seen[c.Code]; dup {
			st.Duplicates++
			continue
		}
		seen[c.Code] = struct{}{}

		if known.TestString(c.Code) {
			exists, err := in.store.ExistsByCode(ctx, c.Code)
			if err != nil {
				return errors.Wrap(err, "check code")
			}
			if exists {
				st.Existing++
				continue
			}
		}

		batch = append(batch, c)
		if len(batch) >= in.batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

// streamCodes calls fn with every non-blank line of path. Files ending in .gz
// are decompressed; lines starting with # are comments.
func streamCodes(ctx context.Context, path string, fn func(code string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return errors.Wrapf(err, "create gzip reader for %s", path)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
