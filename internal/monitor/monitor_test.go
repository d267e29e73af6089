package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chdocs/internal/domain"
	"chdocs/internal/verify"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type checkerFunc func(ctx context.Context, names []string) ([]*verify.Report, error)

func (f checkerFunc) Verify(ctx context.Context, names []string) ([]*verify.Report, error) {
	return f(ctx, names)
}

func consistent(rel string) *verify.Report {
	return &verify.Report{
		Relation: rel,
		Comment:  domain.Verdict{Status: domain.VerdictConsistent, Value: "YYY table"},
		Columns:  domain.ColumnVerdicts{"first_name": {Status: domain.VerdictConsistent, Value: "XXX first description"}},
	}
}

func TestNew_InvalidSchedule(t *testing.T) {
	_, err := New(checkerFunc(nil), "every tuesday", time.Second, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid drift schedule")
}

func TestRunOnce(t *testing.T) {
	drifted := consistent("analytics.view_comment")
	drifted.Columns["first_name"] = domain.Verdict{Status: domain.VerdictMismatched}

	tests := []struct {
		name        string
		reports     []*verify.Report
		err         error
		wantHealthy bool
		wantDrifted []string
		wantErr     string
	}{
		{name: "all_consistent", reports: []*verify.Report{consistent("analytics.table_comment")}, wantHealthy: true},
		{
			name:        "column_drift",
			reports:     []*verify.Report{consistent("analytics.table_comment"), drifted},
			wantDrifted: []string{"analytics.view_comment"},
		},
		{
			name: "indeterminate_counts_as_drift",
			reports: []*verify.Report{{
				Relation: "analytics.t",
				Comment:  domain.Verdict{Status: domain.VerdictIndeterminate},
			}},
			wantDrifted: []string{"analytics.t"},
		},
		{name: "checker_error", err: errors.New("resolve topology: unknown cluster"), wantErr: "unknown cluster"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(checkerFunc(func(context.Context, []string) ([]*verify.Report, error) {
				return tt.reports, tt.err
			}), "@every 1h", time.Second, discardLogger())
			require.NoError(t, err)
			m.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
			assert.Nil(t, m.Last())

			st := m.RunOnce(context.Background())
			assert.Equal(t, tt.wantHealthy, st.Healthy())
			assert.Equal(t, tt.wantDrifted, st.Drifted)
			if tt.wantErr != "" {
				assert.Contains(t, st.Err, tt.wantErr)
			}
			assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), st.CheckedAt)
			assert.Same(t, st, m.Last())
		})
	}
}

func TestStartStop(t *testing.T) {
	var calls atomic.Int32
	m, err := New(checkerFunc(func(context.Context, []string) ([]*verify.Report, error) {
		calls.Add(1)
		return []*verify.Report{consistent("analytics.table_comment")}, nil
	}), "@every 1s", time.Second, discardLogger())
	require.NoError(t, err)

	require.NoError(t, m.Start())
	require.Eventually(t, func() bool { return calls.Load() > 0 }, 5*time.Second, 50*time.Millisecond)
	m.Stop()

	require.NotNil(t, m.Last())
	assert.True(t, m.Last().Healthy())
}
