// Package monitor re-verifies propagated documentation on a cron schedule
// and reports drift.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"chdocs/internal/verify"
)

// Checker verifies models by name; nil names means every model.
type Checker interface {
	Verify(ctx context.Context, names []string) ([]*verify.Report, error)
}

// Status is the outcome of one drift check.
type Status struct {
	CheckedAt time.Time        `json:"checked_at"`
	Reports   []*verify.Report `json:"reports,omitempty"`
	Drifted   []string         `json:"drifted,omitempty"` // relations with any non-consistent verdict
	Err       string           `json:"error,omitempty"`
}

// Healthy reports whether the check ran and found no drift.
func (s *Status) Healthy() bool {
	return s.Err == "" && len(s.Drifted) == 0
}

// Monitor runs drift checks on a cron schedule. Overlapping runs are skipped.
type Monitor struct {
	cron     *cron.Cron
	checker  Checker
	schedule string
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu   sync.RWMutex
	last *Status
}

// New creates a Monitor for a standard five-field cron expression (descriptors
// such as "@every 5m" are accepted too). timeout bounds each check.
func New(checker Checker, schedule string, timeout time.Duration, logger *slog.Logger) (*Monitor, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid drift schedule %q: %w", schedule, err)
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Monitor{
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		checker:  checker,
		schedule: schedule,
		timeout:  timeout,
		logger:   logger.With("component", "drift_monitor"),
		now:      time.Now,
	}, nil
}

// Start schedules the check and starts the cron scheduler.
func (m *Monitor) Start() error {
	if _, err := m.cron.AddFunc(m.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		m.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("schedule drift check: %w", err)
	}
	m.cron.Start()
	m.logger.Info("drift monitor started", "schedule", m.schedule)
	return nil
}

// Stop stops the scheduler and waits for a running check to finish.
func (m *Monitor) Stop() {
	<-m.cron.Stop().Done()
	m.logger.Info("drift monitor stopped")
}

// RunOnce verifies every model now and records the status.
func (m *Monitor) RunOnce(ctx context.Context) *Status {
	st := &Status{CheckedAt: m.now().UTC()}
	reports, err := m.checker.Verify(ctx, nil)
	if err != nil {
		st.Err = err.Error()
		m.logger.Error("drift check failed", "error", err)
	} else {
		st.Reports = reports
		for _, r := range reports {
			if r.Consistent() {
				continue
			}
			st.Drifted = append(st.Drifted, r.Relation)
			if !r.Comment.Consistent() {
				m.logger.Warn("relation comment drift", "relation", r.Relation,
					"status", string(r.Comment.Status), "verdict", r.Comment.String())
			}
			for _, col := range r.Columns.Inconsistent() {
				v := r.Columns[col]
				m.logger.Warn("column comment drift", "relation", r.Relation, "column", col,
					"status", string(v.Status), "verdict", v.String())
			}
		}
		m.logger.Info("drift check finished", "relations", len(reports), "drifted", len(st.Drifted))
	}

	m.mu.Lock()
	m.last = st
	m.mu.Unlock()
	return st
}

// Last returns the most recent status, or nil before the first check.
func (m *Monitor) Last() *Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}
