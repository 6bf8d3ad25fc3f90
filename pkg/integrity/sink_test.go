package integrity

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeeDigitalWorks/blobgate/pkg/notify"
)

func sampleReports() []*Report {
	clean := newReport(CheckOrphans, "a", bucketA, 10)
	clean.Recipients = []string{"ops@a"}

	dirty := newReport(CheckOrphans, "b", bucketB, 10)
	dirty.Recipients = []string{"ops@b"}
	dirty.add(Finding{Kind: KindOrphanFile, FileID: "f1", Detail: "stored without a metadata row"})

	failed := newReport(CheckIntegrity, "c", bucketB, 10)
	failed.Err = errors.New("backend unreachable")
	return []*Report{clean, dirty, failed}
}

func TestNewSink(t *testing.T) {
	t.Parallel()

	s, err := NewSink("", SinkOptions{})
	require.NoError(t, err)
	assert.IsType(t, &WriterSink{}, s)

	s, err = NewSink("FILE", SinkOptions{Path: "/tmp/r.txt"})
	require.NoError(t, err)
	assert.IsType(t, &FileSink{}, s)

	s, err = NewSink("email", SinkOptions{Mailer: &notify.Recorder{}})
	require.NoError(t, err)
	assert.IsType(t, &EmailSink{}, s)

	for name, tc := range map[string]struct {
		output string
		opts   SinkOptions
		want   string
	}{
		"file without path":    {output: "file", want: "needs a path"},
		"email without mailer": {output: "email", want: "needs a mailer"},
		"unknown":              {output: "slack", want: `unknown report output "slack"`},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewSink(tc.output, tc.opts)
			assert.ErrorContains(t, err, tc.want)
		})
	}
}

func TestWriterSink(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, (&WriterSink{W: &buf}).Deliver(context.Background(), sampleReports()))

	out := buf.String()
	assert.Contains(t, out, "Orphan file scan for bucket a ("+bucketA+")")
	assert.Contains(t, out, "no findings")
	assert.Contains(t, out, "1 finding:\n  - orphan-file: file f1: stored without a metadata row")
	assert.Contains(t, out, "check did not finish: backend unreachable")
}

func TestFileSink_Appends(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "report.txt")
	sink := &FileSink{Path: path}
	reports := sampleReports()[1:2]

	require.NoError(t, sink.Deliver(context.Background(), reports))
	require.NoError(t, sink.Deliver(context.Background(), reports))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "Orphan file scan for bucket b"))
}

func TestEmailSink(t *testing.T) {
	t.Parallel()

	t.Run("bucket recipients", func(t *testing.T) {
		rec := &notify.Recorder{}
		require.NoError(t, (&EmailSink{Mailer: rec}).Deliver(context.Background(), sampleReports()))

		msgs := rec.Messages()
		require.Len(t, msgs, 1, "clean reports and reports without recipients are not mailed")
		assert.Equal(t, []string{"ops@b"}, msgs[0].To)
		assert.Equal(t, "blobgate: orphan file scan found 1 issue(s) in bucket b", msgs[0].Subject)
		assert.Contains(t, msgs[0].Body, "orphan-file: file f1")
	})

	t.Run("override recipients", func(t *testing.T) {
		rec := &notify.Recorder{}
		sink := &EmailSink{Mailer: rec, To: []string{"oncall@example.com"}}
		require.NoError(t, sink.Deliver(context.Background(), sampleReports()))

		msgs := rec.Messages()
		require.Len(t, msgs, 2)
		assert.Equal(t, []string{"oncall@example.com"}, msgs[1].To)
		assert.Equal(t, "blobgate: file and metadata integrity check failed for bucket c", msgs[1].Subject)
	})
}
