package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("*/15 * * * *"))
	assert.NoError(t, Validate("@hourly"))
	assert.NoError(t, Validate(Every(90*time.Second)))
	assert.Error(t, Validate("every minute"))
	assert.Error(t, Validate("61 * * * *"))
}

func TestAddRejectsDuplicatesAndBadSpecs(t *testing.T) {
	s := New(time.UTC, zaptest.NewLogger(t))
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.Add("rss", "0 * * * *", noop))
	assert.Error(t, s.Add("rss", "0 * * * *", noop))
	assert.Error(t, s.Add("dates", "whenever", noop))
	assert.Equal(t, []string{"rss"}, s.Jobs())
}

func TestRemove(t *testing.T) {
	s := New(time.UTC, zaptest.NewLogger(t))
	noop := func(context.Context) error { return nil }
	require.NoError(t, s.Add("rss:news", "0 * * * *", noop))
	require.NoError(t, s.Add("dates:announce", "* * * * *", noop))

	assert.True(t, s.Remove("rss:news"))
	assert.False(t, s.Remove("rss:news"))
	assert.Equal(t, []string{"dates:announce"}, s.Jobs())
	assert.Len(t, s.cron.Entries(), 1)
	assert.ErrorIs(t, s.RunNow(context.Background(), "rss:news"), ErrUnknownJob)

	// имя снова свободно
	assert.NoError(t, s.Add("rss:news", "0 * * * *", noop))
}

func TestRunNow(t *testing.T) {
	s := New(time.UTC, nil)
	var calls atomic.Int32
	boom := errors.New("boom")
	require.NoError(t, s.Add("ok", "@hourly", func(context.Context) error { calls.Add(1); return nil }))
	require.NoError(t, s.Add("fail", "@hourly", func(context.Context) error { return boom }))

	ctx := context.Background()
	require.NoError(t, s.RunNow(ctx, "ok"))
	assert.Equal(t, int32(1), calls.Load())
	assert.ErrorIs(t, s.RunNow(ctx, "fail"), boom)
	assert.ErrorIs(t, s.RunNow(ctx, "missing"), ErrUnknownJob)
}

func TestTickSkippedWhileRunning(t *testing.T) {
	s := New(time.UTC, zaptest.NewLogger(t))
	var calls atomic.Int32
	require.NoError(t, s.Add("slow", "@hourly", func(context.Context) error { calls.Add(1); return nil }))

	e := s.jobs["slow"]
	e.mu.Lock()
	s.tick(e)
	e.mu.Unlock()
	assert.Equal(t, int32(0), calls.Load())

	s.tick(e)
	assert.Equal(t, int32(1), calls.Load())
}

func TestScheduledTicksAndStop(t *testing.T) {
	s := New(time.UTC, zaptest.NewLogger(t))
	ticked := make(chan struct{}, 4)
	var sawCancel atomic.Bool
	require.NoError(t, s.Add("fast", Every(time.Second), func(ctx context.Context) error {
		select {
		case ticked <- struct{}{}:
		default:
		}
		if ctx.Err() != nil {
			sawCancel.Store(true)
		}
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	select {
	case <-ticked:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not tick")
	}

	s.Stop()
	assert.False(t, sawCancel.Load())
}

func TestStopWithoutStart(t *testing.T) {
	s := New(nil, nil)
	s.Stop()
}
