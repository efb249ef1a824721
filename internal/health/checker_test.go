package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/lookout/internal/logger"
)

type mockChecker struct {
	name  string
	err   error
	delay time.Duration
}

func (m *mockChecker) Name() string {
	return m.name
}

func (m *mockChecker) Check(ctx context.Context) error {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.err
}

func TestManager(t *testing.T) {
	log := logger.NewNullLogger()

	t.Run("Register and RunChecks", func(t *testing.T) {
		manager := NewManager(log)
		manager.Register(&mockChecker{name: "checker1"})
		manager.Register(&mockChecker{name: "checker2", err: errors.New("checker2 failed")})
		manager.Register(&mockChecker{name: "checker3", err: Degraded("slow")})

		results := manager.RunChecks(context.Background())
		require.Len(t, results, 3)

		assert.Equal(t, StatusOK, results["checker1"].Status)
		assert.Empty(t, results["checker1"].Message)

		assert.Equal(t, StatusDown, results["checker2"].Status)
		assert.Contains(t, results["checker2"].Message, "checker2 failed")

		assert.Equal(t, StatusDegraded, results["checker3"].Status)
		assert.Equal(t, "slow", results["checker3"].Message)
	})

	t.Run("GetResults returns copies", func(t *testing.T) {
		manager := NewManager(log)
		manager.Register(&mockChecker{name: "test"})
		manager.RunChecks(context.Background())

		results := manager.GetResults()
		require.Contains(t, results, "test")
		results["test"].Status = StatusDown

		assert.Equal(t, StatusOK, manager.GetResults()["test"].Status)
	})

	t.Run("Timeout", func(t *testing.T) {
		manager := NewManager(log)
		manager.timeout = 20 * time.Millisecond
		manager.Register(&mockChecker{name: "slow", delay: time.Second})

		results := manager.RunChecks(context.Background())
		assert.Equal(t, StatusDown, results["slow"].Status)
		assert.Equal(t, "Health check timed out", results["slow"].Message)
	})
}

func TestGetOverallStatus(t *testing.T) {
	tests := []struct {
		name     string
		errs     []error
		expected Status
	}{
		{"no checks", nil, StatusDown},
		{"all ok", []error{nil, nil}, StatusOK},
		{"one degraded", []error{nil, Degraded("x")}, StatusDegraded},
		{"down wins", []error{Degraded("x"), errors.New("boom")}, StatusDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := NewManager(logger.NewNullLogger())
			for i, err := range tt.errs {
				manager.Register(&mockChecker{name: string(rune('a' + i)), err: err})
			}
			manager.RunChecks(context.Background())
			assert.Equal(t, tt.expected, manager.GetOverallStatus())
		})
	}
}

func TestStartPeriodicChecks(t *testing.T) {
	manager := NewManager(logger.NewNullLogger())
	manager.Register(&mockChecker{name: "periodic"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		manager.StartPeriodicChecks(ctx, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(manager.GetResults()) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("periodic checks did not stop")
	}
}
