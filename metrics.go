package strata

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    applyCounter   prometheus.Counter
//	    flushHistogram prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordApply(duration time.Duration, err error) {
//	    p.applyCounter.Inc()
//	    // ... record error state, duration, etc.
//	}
type MetricsCollector interface {
	// RecordApply is called after each write.
	// duration is the total time taken, err is nil if successful.
	RecordApply(duration time.Duration, err error)

	// RecordRead is called when a reader is closed.
	// partitions is the number of partitions emitted.
	RecordRead(partitions int, duration time.Duration, err error)

	// RecordFlush is called after each flush attempt.
	// partitions and bytes describe the written segment.
	RecordFlush(partitions int, bytes int64, duration time.Duration, err error)

	// RecordCompaction is called after each storage compaction.
	RecordCompaction(duration time.Duration, err error)

	// RecordInvalidation is called after each cache invalidation.
	RecordInvalidation(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordApply(time.Duration, error)             {}
func (NoopMetricsCollector) RecordRead(int, time.Duration, error)         {}
func (NoopMetricsCollector) RecordFlush(int, int64, time.Duration, error) {}
func (NoopMetricsCollector) RecordCompaction(time.Duration, error)        {}
func (NoopMetricsCollector) RecordInvalidation(time.Duration, error)      {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	ApplyCount        atomic.Int64
	ApplyErrors       atomic.Int64
	ApplyTotalNanos   atomic.Int64
	ReadCount         atomic.Int64
	ReadErrors        atomic.Int64
	ReadPartitions    atomic.Int64
	FlushCount        atomic.Int64
	FlushErrors       atomic.Int64
	FlushPartitions   atomic.Int64
	FlushBytes        atomic.Int64
	CompactionCount   atomic.Int64
	CompactionErrors  atomic.Int64
	InvalidationCount atomic.Int64
}

// RecordApply implements MetricsCollector.
func (b *BasicMetricsCollector) RecordApply(duration time.Duration, err error) {
	b.ApplyCount.Add(1)
	b.ApplyTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.ApplyErrors.Add(1)
	}
}

// RecordRead implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRead(partitions int, duration time.Duration, err error) {
	b.ReadCount.Add(1)
	b.ReadPartitions.Add(int64(partitions))
	if err != nil {
		b.ReadErrors.Add(1)
	}
}

// RecordFlush implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFlush(partitions int, bytes int64, duration time.Duration, err error) {
	b.FlushCount.Add(1)
	b.FlushPartitions.Add(int64(partitions))
	b.FlushBytes.Add(bytes)
	if err != nil {
		b.FlushErrors.Add(1)
	}
}

// RecordCompaction implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCompaction(duration time.Duration, err error) {
	b.CompactionCount.Add(1)
	if err != nil {
		b.CompactionErrors.Add(1)
	}
}

// RecordInvalidation implements MetricsCollector.
func (b *BasicMetricsCollector) RecordInvalidation(time.Duration, error) {
	b.InvalidationCount.Add(1)
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		ApplyCount:        b.ApplyCount.Load(),
		ApplyErrors:       b.ApplyErrors.Load(),
		ApplyAvgNanos:     b.getAvgApplyNanos(),
		ReadCount:         b.ReadCount.Load(),
		ReadErrors:        b.ReadErrors.Load(),
		ReadPartitions:    b.ReadPartitions.Load(),
		FlushCount:        b.FlushCount.Load(),
		FlushErrors:       b.FlushErrors.Load(),
		FlushPartitions:   b.FlushPartitions.Load(),
		FlushBytes:        b.FlushBytes.Load(),
		CompactionCount:   b.CompactionCount.Load(),
		CompactionErrors:  b.CompactionErrors.Load(),
		InvalidationCount: b.InvalidationCount.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgApplyNanos() int64 {
	count := b.ApplyCount.Load()
	if count == 0 {
		return 0
	}
	return b.ApplyTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	ApplyCount        int64
	ApplyErrors       int64
	ApplyAvgNanos     int64
	ReadCount         int64
	ReadErrors        int64
	ReadPartitions    int64
	FlushCount        int64
	FlushErrors       int64
	FlushPartitions   int64
	FlushBytes        int64
	CompactionCount   int64
	CompactionErrors  int64
	InvalidationCount int64
}
