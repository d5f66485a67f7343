// Package notify announces finished runs on NATS.
//
// Each summary is published as JSON to the subject
//
//	<subject>.<corpus>.<status>
//
// so that subscribers can follow one corpus ("docgraph.runs.code.*") or only
// failures ("docgraph.runs.*.failed").
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docgraph/internal/logging"
	"github.com/fyrsmithlabs/docgraph/internal/runlog"
)

// DefaultSubject is the subject prefix used when none is configured.
const DefaultSubject = "docgraph.runs"

// Options configures a Publisher.
type Options struct {
	URL     string
	Subject string
	Timeout time.Duration
}

// Publisher publishes run summaries. A nil *Publisher is valid and
// publishes nothing.
type Publisher struct {
	nc      *nats.Conn
	subject string
	timeout time.Duration
	logger  *logging.Logger
}

// New connects to the NATS server at opts.URL. It returns nil, nil when no
// URL is configured.
func New(opts Options, logger *logging.Logger) (*Publisher, error) {
	if opts.URL == "" {
		return nil, nil
	}
	if opts.Subject == "" {
		opts.Subject = DefaultSubject
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	nc, err := nats.Connect(opts.URL,
		nats.Name("docgraph"),
		nats.Timeout(opts.Timeout),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", opts.URL, err)
	}
	return &Publisher{nc: nc, subject: opts.Subject, timeout: opts.Timeout, logger: logger.Named("notify")}, nil
}

// Subject returns the subject a summary is published on.
func (p *Publisher) Subject(s *runlog.Summary) string {
	corpus := s.Corpus
	if corpus == "" {
		corpus = "default"
	}
	status := s.Status
	if status == "" {
		status = "unknown"
	}
	return fmt.Sprintf("%s.%s.%s", p.subject, corpus, status)
}

// Publish sends s and waits for the server to acknowledge the flush.
func (p *Publisher) Publish(ctx context.Context, s *runlog.Summary) error {
	if p == nil {
		return nil
	}
	if s == nil {
		return errors.New("summary is nil")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	subject := p.Subject(s)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish run summary: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush run summary: %w", err)
	}
	p.logger.Debug(ctx, "run summary published", zap.String("subject", subject), zap.String("run_id", s.RunID))
	return nil
}

// Close drains and closes the connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.nc.Drain()
}
