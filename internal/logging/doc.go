// Package logging provides context-aware structured logging on top of zap.
//
// Every method takes a context.Context so that OpenTelemetry trace ids and
// pipeline correlation fields (run id, corpus, stage) are attached to each
// entry without threading them through call sites:
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, nil)
//	ctx = logging.WithRun(ctx, runID, "pages")
//	logger.Info(ctx, "ingest started", zap.Int("documents", n))
//
// Sensitive field names and value patterns are redacted by the encoder.
// Errors are never sampled. Logs go to stderr so command output on stdout
// stays machine readable.
//
// Tests use NewTestLogger, which records entries with zap's observer.
package logging
