package integrity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/LeeDigitalWorks/blobgate/pkg/notify"
)

// Output selects a report sink.
type Output string

const (
	OutputStdout Output = "stdout"
	OutputFile   Output = "file"
	OutputEmail  Output = "email"
)

// Sink delivers reports.
type Sink interface {
	Deliver(ctx context.Context, reports []*Report) error
}

// SinkOptions carries what the individual sinks need.
type SinkOptions struct {
	Stdout io.Writer
	Path   string
	Mailer notify.Mailer
	// To overrides the per-bucket recipients of email reports.
	To []string
}

// NewSink builds the sink named by output.
func NewSink(output string, opts SinkOptions) (Sink, error) {
	switch Output(strings.ToLower(strings.TrimSpace(output))) {
	case "", OutputStdout:
		w := opts.Stdout
		if w == nil {
			w = os.Stdout
		}
		return &WriterSink{W: w}, nil
	case OutputFile:
		if opts.Path == "" {
			return nil, errors.New("file output needs a path")
		}
		return &FileSink{Path: opts.Path}, nil
	case OutputEmail:
		if opts.Mailer == nil {
			return nil, errors.New("email output needs a mailer")
		}
		return &EmailSink{Mailer: opts.Mailer, To: opts.To}, nil
	default:
		return nil, fmt.Errorf("unknown report output %q (want stdout, file or email)", output)
	}
}

// WriterSink renders every report to W.
type WriterSink struct {
	mu sync.Mutex
	W  io.Writer
}

func (s *WriterSink) Deliver(_ context.Context, reports []*Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range reports {
		if err := r.Render(s.W); err != nil {
			return err
		}
	}
	return nil
}

// FileSink appends every report to the file at Path.
type FileSink struct {
	Path string
}

func (s *FileSink) Deliver(ctx context.Context, reports []*Report) (err error) {
	f, err := os.OpenFile(s.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open report file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return (&WriterSink{W: f}).Deliver(ctx, reports)
}

// EmailSink mails each report that has findings or failed, one message per
// report. Clean reports are not mailed. A report with no recipients is skipped.
type EmailSink struct {
	Mailer notify.Mailer
	To     []string
}

func (s *EmailSink) Deliver(ctx context.Context, reports []*Report) error {
	var errs []error
	for _, r := range reports {
		if r.Clean() {
			continue
		}
		to := s.To
		if len(to) == 0 {
			to = r.Recipients
		}
		if len(to) == 0 {
			continue
		}

		var body strings.Builder
		if err := r.Render(&body); err != nil {
			return err
		}
		msg := notify.Message{To: to, Subject: r.Subject(), Body: body.String()}
		if err := s.Mailer.Send(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("mail %s report of bucket %s: %w", r.Check, r.BucketID, err))
		}
	}
	return errors.Join(errs...)
}
