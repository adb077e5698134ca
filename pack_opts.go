package ggpk

import "log/slog"

// Option configures a Pack.
type Option func(*Pack)

// WithLogger sets the logger for pack operations.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pack) {
		p.logger = logger
	}
}

// WithProgress sets a callback for scan, replace, import, extraction and
// check progress.
//
// Events are delivered from a separate goroutine through a bounded queue;
// when the callback falls behind, events are dropped rather than slowing
// the operation down.
func WithProgress(fn ProgressFunc) Option {
	return func(p *Pack) {
		p.progress = fn
	}
}

// WithVerify controls whether reads check content against the stored hash.
// Verification is enabled by default.
func WithVerify(verify bool) Option {
	return func(p *Pack) {
		p.verify = verify
	}
}

// ExtractOption configures ExtractDir.
type ExtractOption func(*extractConfig)

type extractConfig struct {
	overwrite bool
	workers   int
}

// ExtractWithOverwrite allows overwriting existing files.
// By default, existing files are skipped.
func ExtractWithOverwrite(overwrite bool) ExtractOption {
	return func(c *extractConfig) {
		c.overwrite = overwrite
	}
}

// ExtractWithWorkers sets the number of workers for parallel extraction.
// Values < 0 force serial processing. Zero uses GOMAXPROCS.
func ExtractWithWorkers(n int) ExtractOption {
	return func(c *extractConfig) {
		c.workers = n
	}
}

// ImportOption configures ImportDir and ImportZip.
type ImportOption func(*importConfig)

type importConfig struct {
	baseName bool
}

// ImportWithBaseName controls whether imported paths keep the source
// directory's own name as their first element, so importing ".../Art"
// replaces files under "Art/". It is enabled by default; disable it to
// treat the source directory as the pack root. ImportZip ignores this
// option.
func ImportWithBaseName(enabled bool) ImportOption {
	return func(c *importConfig) {
		c.baseName = enabled
	}
}
