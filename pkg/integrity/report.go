package integrity

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Check names one of the three consistency checks.
type Check string

const (
	CheckBucketSizes Check = "bucket-size"
	CheckIntegrity   Check = "integrity"
	CheckOrphans     Check = "orphans"
)

func (c Check) title() string {
	switch c {
	case CheckBucketSizes:
		return "Bucket size check"
	case CheckIntegrity:
		return "File and metadata integrity check"
	case CheckOrphans:
		return "Orphan file scan"
	default:
		return string(c)
	}
}

// Finding kinds.
const (
	KindLedgerMismatch       = "ledger-mismatch"
	KindNegativeLedger       = "negative-ledger"
	KindStorageSizeMismatch  = "storage-size-mismatch"
	KindFileCountMismatch    = "file-count-mismatch"
	KindContentHashMismatch  = "content-hash-mismatch"
	KindContentUnreadable    = "content-unreadable"
	KindMetadataHashMismatch = "metadata-hash-mismatch"
	KindOrphanFile           = "orphan-file"
)

// Finding is one discrepancy. FileID is empty for bucket-level findings.
type Finding struct {
	Kind   string
	FileID string
	Detail string
}

func (f Finding) String() string {
	if f.FileID == "" {
		return fmt.Sprintf("%s: %s", f.Kind, f.Detail)
	}
	return fmt.Sprintf("%s: file %s: %s", f.Kind, f.FileID, f.Detail)
}

// Report is the outcome of one check over one bucket. Findings past the cap are
// counted in Total but not kept.
type Report struct {
	Check      Check
	BucketID   string
	InternalID string
	// Recipients are the bucket's configured addressees for this check.
	Recipients []string

	StartedAt time.Time
	Duration  time.Duration
	Scanned   int64

	Findings []Finding
	Total    int
	// Err is set when the check could not finish for this bucket.
	Err error

	limit int
}

func newReport(check Check, bucketID, internalID string, limit int) *Report {
	return &Report{
		Check:      check,
		BucketID:   bucketID,
		InternalID: internalID,
		StartedAt:  time.Now(),
		limit:      limit,
	}
}

func (r *Report) add(f Finding) {
	r.Total++
	findingsTotal.WithLabelValues(string(r.Check), f.Kind).Inc()
	if r.limit <= 0 || len(r.Findings) < r.limit {
		r.Findings = append(r.Findings, f)
	}
}

// Clean reports whether the check finished without findings.
func (r *Report) Clean() bool {
	return r.Total == 0 && r.Err == nil
}

// Omitted is the number of findings counted but not listed.
func (r *Report) Omitted() int {
	return r.Total - len(r.Findings)
}

// Subject is a one-line summary usable as a mail subject.
func (r *Report) Subject() string {
	switch {
	case r.Err != nil:
		return fmt.Sprintf("blobgate: %s failed for bucket %s", strings.ToLower(r.Check.title()), r.BucketID)
	case r.Total == 0:
		return fmt.Sprintf("blobgate: %s passed for bucket %s", strings.ToLower(r.Check.title()), r.BucketID)
	default:
		return fmt.Sprintf("blobgate: %s found %d issue(s) in bucket %s", strings.ToLower(r.Check.title()), r.Total, r.BucketID)
	}
}

// Render writes the report as text.
func (r *Report) Render(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s for bucket %s (%s)\n", r.Check.title(), r.BucketID, r.InternalID)
	fmt.Fprintf(&b, "  started %s, took %s, scanned %s\n",
		r.StartedAt.UTC().Format(time.RFC3339), r.Duration.Round(time.Millisecond), humanize.Comma(r.Scanned))
	if r.Err != nil {
		fmt.Fprintf(&b, "  check did not finish: %v\n", r.Err)
	}
	switch r.Total {
	case 0:
		b.WriteString("  no findings\n")
	case 1:
		b.WriteString("  1 finding:\n")
	default:
		fmt.Fprintf(&b, "  %s findings:\n", humanize.Comma(int64(r.Total)))
	}
	for _, f := range r.Findings {
		fmt.Fprintf(&b, "  - %s\n", f)
	}
	if n := r.Omitted(); n > 0 {
		fmt.Fprintf(&b, "  ... and %s more not listed\n", humanize.Comma(int64(n)))
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// sizeOf formats n bytes as "300 B (300)". Negative values keep their sign.
func sizeOf(n int64) string {
	if n < 0 {
		return fmt.Sprintf("-%s (%d)", humanize.Bytes(uint64(-n)), n)
	}
	return fmt.Sprintf("%s (%d)", humanize.Bytes(uint64(n)), n)
}
