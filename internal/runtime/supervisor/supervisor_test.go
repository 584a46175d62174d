package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	errspkg "github.com/drblury/eventrelay/internal/runtime/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fixed(w Worker) Factory {
	return func(context.Context) (Worker, error) { return w, nil }
}

func runAsync(ctx context.Context, s interface{ Run(context.Context) error }) <-chan error {
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not return")
		return nil
	}
}

func TestNewValidation(t *testing.T) {
	_, err := New("w", nil, Options{})
	assert.ErrorIs(t, err, errspkg.ErrWorkerFactoryRequired)
	_, err = New("", fixed(WorkerFunc(func(context.Context) error { return nil })), Options{})
	assert.Error(t, err)
}

func TestRestartsAfterFailures(t *testing.T) {
	var runs atomic.Int32
	worker := WorkerFunc(func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	})
	s, err := New("forwarder", fixed(worker), Options{Cooldown: time.Millisecond})
	require.NoError(t, err)

	require.NoError(t, s.Run(context.Background()))
	st := s.Status()
	assert.Equal(t, "forwarder", st.Name)
	assert.Equal(t, StateStopped, st.State)
	assert.Equal(t, 3, st.Attempts)
	assert.Equal(t, 2, st.Failures)
	assert.EqualError(t, st.LastError, "transient")
}

func TestFreshWorkerPerAttempt(t *testing.T) {
	var built atomic.Int32
	factory := func(context.Context) (Worker, error) {
		n := built.Add(1)
		return WorkerFunc(func(context.Context) error {
			if n < 2 {
				return errors.New("boom")
			}
			return nil
		}), nil
	}
	s, err := New("w", factory, Options{Cooldown: time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, int32(2), built.Load())
}

func TestFactoryErrorIsFatal(t *testing.T) {
	cause := errors.New("bad config")
	s, err := New("w", func(context.Context) (Worker, error) { return nil, cause }, Options{Cooldown: time.Millisecond})
	require.NoError(t, err)

	err = s.Run(context.Background())
	assert.ErrorIs(t, err, errspkg.ErrFatalStartup)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 1, s.Status().Attempts)
}

func TestPanicIsRecoveredAndRestarted(t *testing.T) {
	var runs atomic.Int32
	worker := WorkerFunc(func(context.Context) error {
		if runs.Add(1) == 1 {
			panic("nil map")
		}
		return nil
	})
	s, err := New("w", fixed(worker), Options{Cooldown: time.Millisecond})
	require.NoError(t, err)

	require.NoError(t, s.Run(context.Background()))
	st := s.Status()
	assert.Equal(t, 1, st.Failures)
	assert.ErrorIs(t, st.LastError, errspkg.ErrWorkerPanic)
	assert.ErrorContains(t, st.LastError, "nil map")
}

func TestCancelDuringCooldown(t *testing.T) {
	failed := make(chan struct{}, 1)
	worker := WorkerFunc(func(context.Context) error {
		select {
		case failed <- struct{}{}:
		default:
		}
		return errors.New("down")
	})
	s, err := New("w", fixed(worker), Options{Cooldown: time.Hour})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, s)
	<-failed
	assert.Eventually(t, func() bool { return s.Status().State == StateCoolingDown }, time.Second, time.Millisecond)

	cancel()
	assert.NoError(t, wait(t, done))
	assert.Equal(t, StateStopped, s.Status().State)
	assert.Equal(t, 1, s.Status().Attempts)
}

func TestCancelWhileRunningIsClean(t *testing.T) {
	started := make(chan struct{})
	worker := WorkerFunc(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	s, err := New("w", fixed(worker), Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, s)
	<-started
	assert.Equal(t, StateRunning, s.Status().State)
	cancel()
	assert.NoError(t, wait(t, done))
	assert.Zero(t, s.Status().Failures)
}

func TestWaitsForReadiness(t *testing.T) {
	var runs atomic.Int32
	signal := NewStartedSignal()
	s, err := New("w", fixed(WorkerFunc(func(context.Context) error {
		runs.Add(1)
		return nil
	})), Options{Readiness: signal})
	require.NoError(t, err)

	done := runAsync(context.Background(), s)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, runs.Load())
	assert.Equal(t, StateWaiting, s.Status().State)

	signal.Fire()
	signal.Fire()
	assert.NoError(t, wait(t, done))
	assert.Equal(t, int32(1), runs.Load())
	assert.True(t, signal.Fired())
}

func TestCancelBeforeReadiness(t *testing.T) {
	var built atomic.Int32
	s, err := New("w", func(context.Context) (Worker, error) {
		built.Add(1)
		return nil, errors.New("unreachable")
	}, Options{Readiness: NewStartedSignal()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, s.Run(ctx))
	assert.Zero(t, built.Load())
	assert.Zero(t, s.Status().Attempts)
}

func TestBackOffStopGivesUp(t *testing.T) {
	cause := errors.New("always")
	s, err := New("w", fixed(WorkerFunc(func(context.Context) error { return cause })), Options{
		BackOff: backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2),
	})
	require.NoError(t, err)

	err = s.Run(context.Background())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 3, s.Status().Attempts)
}

func TestExponentialBackOff(t *testing.T) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.MaxInterval = 4 * time.Millisecond
	b.MaxElapsedTime = 0

	var runs atomic.Int32
	s, err := New("w", fixed(WorkerFunc(func(context.Context) error {
		if runs.Add(1) < 4 {
			return errors.New("again")
		}
		return nil
	})), Options{BackOff: b})
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, 3, s.Status().Failures)
}

func TestRestartMetric(t *testing.T) {
	reg := prometheus.NewRegistry()
	var runs atomic.Int32
	s, err := New("metered", fixed(WorkerFunc(func(context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("x")
		}
		return nil
	})), Options{Cooldown: time.Millisecond, EnableMetrics: true, Registerer: reg})
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background()))

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "eventrelay_supervisor_restarts_total", families[0].GetName())
	assert.Equal(t, 2.0, families[0].GetMetric()[0].GetCounter().GetValue())
}
