// Package batch copies many files out of a pack at once.
package batch

import (
	"cmp"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/meigma/ggpk/internal/packtype"
	"github.com/meigma/ggpk/internal/record"
	"github.com/meigma/ggpk/internal/sizing"
)

const (
	// defaultMaxGap is the largest hole between two entries that is still
	// read through rather than split into two reads.
	defaultMaxGap = 4 << 10

	// defaultMaxGroupBytes caps the size of a single coalesced read.
	defaultMaxGroupBytes = 8 << 20

	// defaultReadAheadBytes caps the total size of buffered group data.
	defaultReadAheadBytes = 64 << 20
)

// Processor reads entries from a pack and hands verified content to a Sink.
//
// Entries are grouped into nearby ranges so each group costs one read;
// groups are processed concurrently.
type Processor struct {
	source         io.ReaderAt
	size           int64
	workers        int // 0 = GOMAXPROCS, <0 = serial
	verify         bool
	maxGap         int64
	maxGroupBytes  int64
	readAheadBytes int64
	progress       packtype.ProgressFunc
	logger         *slog.Logger
}

// log returns the logger, falling back to a discard logger if nil.
func (p *Processor) log() *slog.Logger {
	if p.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.logger
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithWorkers sets the number of groups processed concurrently.
// Values < 0 force serial processing. Zero uses GOMAXPROCS.
func WithWorkers(n int) ProcessorOption {
	return func(p *Processor) {
		p.workers = n
	}
}

// WithVerify controls whether content is checked against the stored hash.
// Verification is enabled by default.
func WithVerify(verify bool) ProcessorOption {
	return func(p *Processor) {
		p.verify = verify
	}
}

// WithGrouping sets the largest gap read through between entries and the
// largest single read.
func WithGrouping(maxGap, maxGroupBytes int64) ProcessorOption {
	return func(p *Processor) {
		p.maxGap = maxGap
		p.maxGroupBytes = maxGroupBytes
	}
}

// WithReadAheadBytes caps the total size of buffered group data.
func WithReadAheadBytes(limit int64) ProcessorOption {
	return func(p *Processor) {
		p.readAheadBytes = limit
	}
}

// WithProgress sets a callback invoked after each entry is committed.
// The callback may be called from multiple goroutines.
func WithProgress(fn packtype.ProgressFunc) ProcessorOption {
	return func(p *Processor) {
		p.progress = fn
	}
}

// WithProcessorLogger sets the logger for batch processing operations.
// If not set, logging is disabled.
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// NewProcessor creates a processor reading from a pack of the given size.
func NewProcessor(source io.ReaderAt, size int64, opts ...ProcessorOption) *Processor {
	p := &Processor{
		source:         source,
		size:           size,
		verify:         true,
		maxGap:         defaultMaxGap,
		maxGroupBytes:  defaultMaxGroupBytes,
		readAheadBytes: defaultReadAheadBytes,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process reads entries and writes them to sink.
//
// Entries are filtered through sink.ShouldProcess, sorted by offset and
// grouped. Processing stops on the first error or when ctx is done; groups
// already committed stay committed.
func (p *Processor) Process(ctx context.Context, entries []*Entry, sink Sink) (ProcessStats, error) {
	var stats ProcessStats
	if len(entries) == 0 {
		return stats, nil
	}

	toProcess := make([]*Entry, 0, len(entries))
	for _, entry := range entries {
		if !sink.ShouldProcess(entry) {
			stats.Skipped++
			continue
		}
		if !sizing.WithinBounds(entry.DataOffset, entry.DataLength, p.size) {
			return stats, fmt.Errorf("batch: %s: %w", entry.Path, packtype.ErrSizeOverflow)
		}
		toProcess = append(toProcess, entry)
	}
	if len(toProcess) == 0 {
		return stats, nil
	}

	slices.SortFunc(toProcess, func(a, b *Entry) int {
		return cmp.Compare(a.DataOffset, b.DataOffset)
	})
	groups := groupNearbyEntries(toProcess, p.maxGap, p.maxGroupBytes)
	p.log().Debug("batch processing", "entries", len(toProcess), "groups", len(groups))

	var (
		mu   sync.Mutex
		done atomic.Int64
	)
	total := len(toProcess)
	budget := semaphore.NewWeighted(max(p.readAheadBytes, p.maxGroupBytes))

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(p.workerCount(len(groups)))
	for _, group := range groups {
		if gctx.Err() != nil {
			break
		}
		weight := min(group.size(), max(p.readAheadBytes, p.maxGroupBytes))
		eg.Go(func() error {
			if err := budget.Acquire(gctx, weight); err != nil {
				return err
			}
			defer budget.Release(weight)

			gs, err := p.processGroup(group, sink, func(e *Entry) {
				n := done.Add(1)
				p.emit(packtype.ProgressEvent{
					Stage:      packtype.StageExtracting,
					Path:       e.Path,
					FilesDone:  int(n),
					FilesTotal: total,
				})
			})
			mu.Lock()
			stats.add(gs)
			mu.Unlock()
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return stats, err
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	return stats, nil
}

func (p *Processor) emit(ev packtype.ProgressEvent) {
	if p.progress != nil {
		p.progress(ev)
	}
}

// processGroup reads a group's range and writes each entry.
func (p *Processor) processGroup(group rangeGroup, sink Sink, committed func(*Entry)) (ProcessStats, error) {
	var stats ProcessStats
	data, err := p.readGroupData(group)
	if err != nil {
		return stats, err
	}
	for _, entry := range group.entries {
		start := entry.DataOffset - group.start
		content := data[start : start+entry.DataLength]
		if err := p.processEntry(entry, content, sink); err != nil {
			return stats, err
		}
		stats.Processed++
		stats.TotalBytes += entry.DataLength
		committed(entry)
	}
	return stats, nil
}

// readGroupData reads the byte range covered by a group.
func (p *Processor) readGroupData(group rangeGroup) ([]byte, error) {
	n, err := sizing.ToInt(group.size(), packtype.ErrSizeOverflow)
	if err != nil {
		return nil, fmt.Errorf("batch: %w", err)
	}
	data := make([]byte, n)
	if err := record.ReadFullAt(p.source, data, group.start); err != nil {
		return nil, fmt.Errorf("batch: %w", err)
	}
	return data, nil
}

// processEntry verifies and writes a single entry.
func (p *Processor) processEntry(entry *Entry, content []byte, sink Sink) error {
	if p.verify && record.Hash(sha256.Sum256(content)) != entry.Hash {
		return fmt.Errorf("batch: %s: %w", entry.Path, packtype.ErrHashMismatch)
	}

	w, err := sink.Writer(entry)
	if err != nil {
		return fmt.Errorf("batch: %s: %w", entry.Path, err)
	}
	if err := writeAll(w, content); err != nil {
		_ = w.Discard() //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("batch: %s: %w", entry.Path, err)
	}
	if err := w.Commit(); err != nil {
		return fmt.Errorf("batch: %s: commit: %w", entry.Path, err)
	}
	return nil
}

// workerCount determines how many groups run concurrently.
func (p *Processor) workerCount(groups int) int {
	if p.workers < 0 || groups < 2 {
		return 1
	}
	workers := p.workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return max(1, min(workers, groups))
}

func writeAll(w io.Writer, data []byte) error {
	for len(data) > 0 {
		n, err := w.Write(data)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		data = data[n:]
	}
	return nil
}
