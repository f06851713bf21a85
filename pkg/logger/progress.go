package logger

import (
	"fmt"
	"sync"
	"time"
)

// ProgressTracker counts finished work items of a batch and logs at an interval.
// It is safe for concurrent use by invoice workers.
type ProgressTracker struct {
	logger      Logger
	operation   string
	total       int64
	succeeded   int64
	failed      int64
	startTime   time.Time
	lastLogTime time.Time
	logInterval time.Duration
	now         func() time.Time
	mutex       sync.Mutex
}

// ProgressConfig configures progress tracking behavior
type ProgressConfig struct {
	Operation   string        `json:"operation"`
	Total       int64         `json:"total"`
	LogInterval time.Duration `json:"log_interval"`
	Logger      Logger        `json:"-"`
}

// NewProgressTracker creates a new progress tracker
func NewProgressTracker(config ProgressConfig) *ProgressTracker {
	if config.LogInterval == 0 {
		config.LogInterval = 5 * time.Second
	}

	start := time.Now()
	tracker := &ProgressTracker{
		logger:      OrNop(config.Logger).WithComponent("progress"),
		operation:   config.Operation,
		total:       config.Total,
		startTime:   start,
		lastLogTime: start,
		logInterval: config.LogInterval,
		now:         time.Now,
	}

	tracker.logger.WithFields(Fields{
		"operation": config.Operation,
		"total":     config.Total,
	}).Info("Starting operation")

	return tracker
}

// Done records one finished item.
func (p *ProgressTracker) Done(ok bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if ok {
		p.succeeded++
	} else {
		p.failed++
	}

	now := p.now()
	if now.Sub(p.lastLogTime) >= p.logInterval {
		p.logProgress(now)
		p.lastLogTime = now
	}
}

// Complete logs final statistics and returns them.
func (p *ProgressTracker) Complete() ProgressStats {
	stats := p.GetStats()
	p.logger.WithFields(Fields{
		"operation": stats.Operation,
		"total":     stats.Total,
		"succeeded": stats.Succeeded,
		"failed":    stats.Failed,
		"duration":  stats.Duration.String(),
		"rate":      fmt.Sprintf("%.2f/sec", stats.Rate),
	}).Info("Operation completed")
	return stats
}

// GetStats returns current progress statistics
func (p *ProgressTracker) GetStats() ProgressStats {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.statsLocked(p.now())
}

func (p *ProgressTracker) statsLocked(now time.Time) ProgressStats {
	current := p.succeeded + p.failed
	duration := now.Sub(p.startTime)

	var rate float64
	if duration.Seconds() > 0 {
		rate = float64(current) / duration.Seconds()
	}

	var percentage float64
	if p.total > 0 {
		percentage = float64(current) / float64(p.total) * 100
	}

	var eta time.Duration
	if p.total > current && rate > 0 {
		eta = time.Duration(float64(p.total-current)/rate) * time.Second
	}

	return ProgressStats{
		Operation:  p.operation,
		Total:      p.total,
		Current:    current,
		Succeeded:  p.succeeded,
		Failed:     p.failed,
		Percentage: percentage,
		Duration:   duration,
		Rate:       rate,
		ETA:        eta,
	}
}

func (p *ProgressTracker) logProgress(now time.Time) {
	stats := p.statsLocked(now)
	fields := Fields{
		"operation": stats.Operation,
		"processed": stats.Current,
		"failed":    stats.Failed,
		"rate":      fmt.Sprintf("%.2f/sec", stats.Rate),
	}
	if stats.Total > 0 {
		fields["total"] = stats.Total
		fields["percentage"] = fmt.Sprintf("%.1f%%", stats.Percentage)
		if stats.ETA > 0 {
			fields["eta"] = stats.ETA.String()
		}
	}
	p.logger.WithFields(fields).Info("Progress update")
}

// ProgressStats contains progress statistics
type ProgressStats struct {
	Operation  string        `json:"operation"`
	Total      int64         `json:"total"`
	Current    int64         `json:"current"`
	Succeeded  int64         `json:"succeeded"`
	Failed     int64         `json:"failed"`
	Percentage float64       `json:"percentage"`
	Duration   time.Duration `json:"duration"`
	Rate       float64       `json:"rate"`
	ETA        time.Duration `json:"eta,omitempty"`
}

// String returns a human-readable representation of the progress
func (ps ProgressStats) String() string {
	if ps.Total > 0 {
		return fmt.Sprintf("%s: %d/%d (%.1f%%, %d failed) at %.2f/sec",
			ps.Operation, ps.Current, ps.Total, ps.Percentage, ps.Failed, ps.Rate)
	}
	return fmt.Sprintf("%s: %d processed (%d failed) at %.2f/sec, elapsed: %v",
		ps.Operation, ps.Current, ps.Failed, ps.Rate, ps.Duration)
}

// TimedStep runs fn and logs its duration under the given step name.
func TimedStep(log Logger, step string, fn func() error) error {
	start := time.Now()
	err := fn()
	fields := Fields{"step": step, "duration": time.Since(start).String()}
	if err != nil {
		OrNop(log).WithError(err).WithFields(fields).Error("Step failed")
		return err
	}
	OrNop(log).WithFields(fields).Debug("Step completed")
	return nil
}
