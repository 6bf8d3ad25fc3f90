// Package integrity compares what the metadata store, the bucket size ledger and
// the storage backends each believe about a bucket. Every check is read-only: it
// reports findings and never repairs them.
package integrity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/LeeDigitalWorks/blobgate/pkg/apierr"
	"github.com/LeeDigitalWorks/blobgate/pkg/blob"
	"github.com/LeeDigitalWorks/blobgate/pkg/bucket"
	"github.com/LeeDigitalWorks/blobgate/pkg/ledger"
	"github.com/LeeDigitalWorks/blobgate/pkg/logger"
	"github.com/LeeDigitalWorks/blobgate/pkg/metadata/db"
	"github.com/LeeDigitalWorks/blobgate/pkg/storage/backend"
	"github.com/LeeDigitalWorks/blobgate/pkg/types"
)

// Config configures the checker and its scheduler.
type Config struct {
	// How often the scheduler runs all checks (default: 24h)
	Interval time.Duration `mapstructure:"interval"`

	// Findings listed per report; the rest are only counted (default: 100)
	MaxReportedFindings int `mapstructure:"max_reported_findings"`

	// Content reads per second during the hash check, 0 = unlimited (default: 50)
	FilesPerSecond float64 `mapstructure:"files_per_second"`

	// Where scheduled reports go: stdout, file or email (default: email)
	Output string `mapstructure:"output"`

	// Report file used when Output is file
	OutputFile string `mapstructure:"output_file"`

	Enabled bool `mapstructure:"enabled"`
}

// DefaultConfig returns the default checker configuration
func DefaultConfig() Config {
	return Config{
		Interval:            24 * time.Hour,
		MaxReportedFindings: 100,
		FilesPerSecond:      50,
		Output:              string(OutputEmail),
		Enabled:             true,
	}
}

// BucketSelector returns every bucket for an empty filter, else the one bucket
// with that internal id.
type BucketSelector interface {
	Select(internalID string) ([]bucket.Config, error)
}

// BackendResolver returns the storage backend of a bucket.
type BackendResolver interface {
	Get(bucketID string) (types.Backend, bool)
}

// Checker runs the consistency checks.
type Checker struct {
	db       db.DB
	ledger   *ledger.Ledger
	buckets  BucketSelector
	backends BackendResolver
	limiter  *rate.Limiter
	limit    int
}

func NewChecker(store db.DB, buckets BucketSelector, backends BackendResolver, config Config) *Checker {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.FilesPerSecond > 0 {
		burst := max(int(config.FilesPerSecond), 1)
		limiter = rate.NewLimiter(rate.Limit(config.FilesPerSecond), burst)
	}
	return &Checker{
		db:       store,
		ledger:   ledger.New(store),
		buckets:  buckets,
		backends: backends,
		limiter:  limiter,
		limit:    config.MaxReportedFindings,
	}
}

// run applies fn to each selected bucket. A failure inside one bucket is recorded in
// its report and the next bucket is still checked.
func (c *Checker) run(ctx context.Context, check Check, bucketFilter string, recipients func(bucket.Notifications) []string, fn func(context.Context, bucket.Config, types.Backend, *Report) error) ([]*Report, error) {
	configs, err := c.buckets.Select(bucketFilter)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindNotFound, "blob:bucket-not-found", err, "select buckets")
	}

	log := logger.Ctx(ctx)
	reports := make([]*Report, 0, len(configs))
	for _, cfg := range configs {
		if err := ctx.Err(); err != nil {
			return reports, err
		}

		r := newReport(check, cfg.BucketID, cfg.InternalID, c.limit)
		r.Recipients = recipients(cfg.Notifications)

		be, ok := c.backends.Get(cfg.InternalID)
		if !ok {
			r.Err = fmt.Errorf("bucket has no storage backend")
		} else {
			r.Err = fn(ctx, cfg, be, r)
		}
		r.Duration = time.Since(r.StartedAt)

		status := "clean"
		switch {
		case r.Err != nil:
			status = "error"
			log.Error().Err(r.Err).Str("check", string(check)).Str("bucket_id", cfg.BucketID).Msg("consistency check did not finish")
		case r.Total > 0:
			status = "findings"
			log.Warn().Str("check", string(check)).Str("bucket_id", cfg.BucketID).Int("findings", r.Total).Msg("consistency check found discrepancies")
		default:
			log.Info().Str("check", string(check)).Str("bucket_id", cfg.BucketID).Int64("scanned", r.Scanned).Msg("consistency check passed")
		}
		runsTotal.WithLabelValues(string(check), status).Inc()
		runDuration.WithLabelValues(string(check)).Observe(r.Duration.Seconds())

		reports = append(reports, r)
	}
	return reports, nil
}

// CheckBucketSizes compares, per bucket, the ledger, the recomputed sum of row
// sizes and the backend's byte total, and the row count against the backend's
// file count.
func (c *Checker) CheckBucketSizes(ctx context.Context, bucketFilter string) ([]*Report, error) {
	recipients := func(n bucket.Notifications) []string { return n.BucketSize.Recipients }
	return c.run(ctx, CheckBucketSizes, bucketFilter, recipients, func(ctx context.Context, cfg bucket.Config, be types.Backend, r *Report) error {
		id := cfg.InternalID

		ledgerSize, err := c.ledger.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("read ledger: %w", err)
		}
		recomputed, err := c.ledger.Recompute(ctx, id)
		if err != nil {
			return fmt.Errorf("recompute bucket size: %w", err)
		}
		stored, err := be.SumOfFileSizes(ctx, id)
		if err != nil {
			return fmt.Errorf("sum stored file sizes: %w", err)
		}
		rows, err := c.db.CountFiles(ctx, id)
		if err != nil {
			return fmt.Errorf("count file rows: %w", err)
		}
		files, err := be.NumberOfFiles(ctx, id)
		if err != nil {
			return fmt.Errorf("count stored files: %w", err)
		}
		r.Scanned = rows

		if ledgerSize < 0 {
			r.add(Finding{Kind: KindNegativeLedger, Detail: fmt.Sprintf("ledger is %s", sizeOf(ledgerSize))})
		}
		if ledgerSize != recomputed {
			r.add(Finding{Kind: KindLedgerMismatch, Detail: fmt.Sprintf(
				"ledger %s differs from recomputed %s", sizeOf(ledgerSize), sizeOf(recomputed))})
		}
		if stored != recomputed {
			r.add(Finding{Kind: KindStorageSizeMismatch, Detail: fmt.Sprintf(
				"storage holds %s, metadata records %s", sizeOf(stored), sizeOf(recomputed))})
		}
		if files != rows {
			r.add(Finding{Kind: KindFileCountMismatch, Detail: fmt.Sprintf(
				"storage holds %d files, metadata has %d rows", files, rows)})
		}
		return nil
	})
}

// CheckFileAndMetadataIntegrity re-hashes the content and metadata of every row
// that carries a stored hash. Unreadable content is a finding, not a failure.
func (c *Checker) CheckFileAndMetadataIntegrity(ctx context.Context, bucketFilter string) ([]*Report, error) {
	recipients := func(n bucket.Notifications) []string { return n.Integrity.Recipients }
	return c.run(ctx, CheckIntegrity, bucketFilter, recipients, func(ctx context.Context, cfg bucket.Config, be types.Backend, r *Report) error {
		for f, err := range db.IterFiles(ctx, c.db, db.ListFilesParams{BucketID: cfg.InternalID}) {
			if err != nil {
				return fmt.Errorf("list files: %w", err)
			}
			r.Scanned++

			if f.MetadataHash != "" {
				if got := blob.MetadataHash(f.Metadata); got != f.MetadataHash {
					r.add(Finding{Kind: KindMetadataHashMismatch, FileID: f.ID, Detail: fmt.Sprintf(
						"recorded %s, computed %s", f.MetadataHash, got)})
				}
			}
			if f.FileHash == "" {
				continue
			}

			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
			got, err := hashContent(ctx, be, f)
			if err != nil {
				r.add(Finding{Kind: KindContentUnreadable, FileID: f.ID, Detail: err.Error()})
				continue
			}
			if got != f.FileHash {
				r.add(Finding{Kind: KindContentHashMismatch, FileID: f.ID, Detail: fmt.Sprintf(
					"recorded %s, computed %s", f.FileHash, got)})
			}
		}
		return nil
	})
}

func hashContent(ctx context.Context, be types.Backend, f *types.FileData) (string, error) {
	rc, err := be.GetBinaryContent(ctx, f.BucketID, f.ID)
	if errors.Is(err, backend.ErrFileNotFound) {
		return "", errors.New("content is missing from storage")
	}
	if err != nil {
		return "", err
	}
	defer rc.Close()
	return blob.HashReader(rc)
}

// FindOrphanFilesInStorage lists the backend's file ids and reports those with no
// metadata row. Candidates are confirmed against the store one by one so a row
// committed during the scan is not reported.
func (c *Checker) FindOrphanFilesInStorage(ctx context.Context, bucketFilter string) ([]*Report, error) {
	recipients := func(n bucket.Notifications) []string { return n.Reporting.Recipients }
	return c.run(ctx, CheckOrphans, bucketFilter, recipients, func(ctx context.Context, cfg bucket.Config, be types.Backend, r *Report) error {
		known := make(map[string]struct{})
		for f, err := range db.IterFiles(ctx, c.db, db.ListFilesParams{BucketID: cfg.InternalID}) {
			if err != nil {
				return fmt.Errorf("list files: %w", err)
			}
			known[f.ID] = struct{}{}
		}

		for id, err := range be.ListFiles(ctx, cfg.InternalID) {
			if err != nil {
				return fmt.Errorf("list stored files: %w", err)
			}
			r.Scanned++
			if _, ok := known[id]; ok {
				continue
			}

			row, err := c.db.GetFile(ctx, id)
			switch {
			case errors.Is(err, db.ErrFileNotFound):
				r.add(Finding{Kind: KindOrphanFile, FileID: id, Detail: "stored without a metadata row"})
			case err != nil:
				return fmt.Errorf("look up file %s: %w", id, err)
			case row.BucketID != cfg.InternalID:
				r.add(Finding{Kind: KindOrphanFile, FileID: id, Detail: fmt.Sprintf(
					"stored here but its row belongs to bucket %s", row.BucketID)})
			}
		}
		return nil
	})
}

// RunAll runs the three checks in turn.
func (c *Checker) RunAll(ctx context.Context, bucketFilter string) ([]*Report, error) {
	var all []*Report
	for _, check := range []func(context.Context, string) ([]*Report, error){
		c.CheckBucketSizes,
		c.CheckFileAndMetadataIntegrity,
		c.FindOrphanFilesInStorage,
	} {
		reports, err := check(ctx, bucketFilter)
		all = append(all, reports...)
		if err != nil {
			return all, err
		}
	}
	return all, nil
}
