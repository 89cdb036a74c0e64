package strata

import (
	"log/slog"
	"time"

	"github.com/okrasa/strata/blobstore"
	"github.com/okrasa/strata/model"
	"github.com/okrasa/strata/permit"
	"github.com/okrasa/strata/segment"
)

type options struct {
	logger           *Logger
	metricsCollector MetricsCollector
	controller       *permit.Controller
	blobStore        blobstore.Store
	compression      segment.Compression
	cacheCapacity    int64
	populationPolicy func(model.KeyRange) bool
	dirtyHighWater   int64
	flushCallback    func()
	gcGrace          time.Duration
}

// Option configures a Table at construction time.
type Option func(*options)

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := strata.NewJSONLogger(slog.LevelInfo)
//	tbl, _ := strata.New(schema, strata.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetrics configures a metrics collector for monitoring operations.
//
// Example with BasicMetricsCollector:
//
//	metrics := &strata.BasicMetricsCollector{}
//	tbl, _ := strata.New(schema, strata.WithMetrics(metrics))
//	// ... use tbl ...
//	stats := metrics.GetStats()
//	fmt.Printf("Applies: %d, Avg latency: %dns\n", stats.ApplyCount, stats.ApplyAvgNanos)
func WithMetrics(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithController attaches a permit controller bounding reader memory and
// pacing flush/compaction IO. Nil disables resource control.
func WithController(c *permit.Controller) Option {
	return func(o *options) {
		o.controller = c
	}
}

// WithBlobStore selects where segments are persisted. Defaults to an
// in-memory store; production tables use blobstore.NewLocalStore or one
// of the object-store backends.
func WithBlobStore(s blobstore.Store) Option {
	return func(o *options) {
		o.blobStore = s
	}
}

// WithCompression selects the segment block codec.
func WithCompression(c segment.Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithCacheCapacity bounds the row cache in bytes. Zero or negative
// means unbounded.
func WithCacheCapacity(capacity int64) Option {
	return func(o *options) {
		o.cacheCapacity = capacity
	}
}

// WithPopulationPolicy overrides the cache's population decision per
// read range. The default populates for every range except those
// unbounded on both ends.
func WithPopulationPolicy(policy func(model.KeyRange) bool) Option {
	return func(o *options) {
		o.populationPolicy = policy
	}
}

// WithDirtyHighWater sets the virtual-dirty threshold that triggers the
// flush callback. Zero disables the trigger.
func WithDirtyHighWater(bytes int64) Option {
	return func(o *options) {
		o.dirtyHighWater = bytes
	}
}

// WithFlushCallback registers the hook invoked when virtual dirty
// crosses the high-water mark. The callback runs on the applying
// goroutine and must not block; schedule the flush elsewhere.
func WithFlushCallback(fn func()) Option {
	return func(o *options) {
		o.flushCallback = fn
	}
}

// WithGCGrace overrides the schema's tombstone GC grace period for
// storage compaction.
func WithGCGrace(d time.Duration) Option {
	return func(o *options) {
		o.gcGrace = d
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
