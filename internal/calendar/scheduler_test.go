package calendar

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_RegisterValidation(t *testing.T) {
	s := NewScheduler()

	noop := func(context.Context) error { return nil }
	assert.Error(t, s.Register(Job{Interval: time.Minute, Run: noop}))
	assert.Error(t, s.Register(Job{ID: "a", Interval: time.Minute}))
	assert.Error(t, s.Register(Job{ID: "a", Interval: time.Millisecond, Run: noop}))
	assert.NoError(t, s.Register(Job{ID: "a", Interval: time.Minute, Run: noop}))
}

func TestScheduler_RunOnStartAndStatus(t *testing.T) {
	s := NewScheduler()
	ran := make(chan struct{}, 1)

	require.NoError(t, s.Register(Job{
		ID:         "sweep",
		Name:       "Sweep",
		Interval:   time.Hour,
		RunOnStart: true,
		Run: func(ctx context.Context) error {
			ran <- struct{}{}
			return errors.New("2 feeds failed")
		},
	}))
	s.Start()
	defer s.Stop()

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not run on start")
	}

	require.Eventually(t, func() bool {
		st := s.Status()
		return len(st) == 1 && st[0].LastRunAt != nil && !st[0].Running
	}, 5*time.Second, 10*time.Millisecond)

	st := s.Status()[0]
	assert.Equal(t, "sweep", st.ID)
	assert.Equal(t, "Sweep", st.Name)
	assert.Equal(t, "1h0m0s", st.Interval)
	assert.Equal(t, "2 feeds failed", st.LastError)
	assert.NotEmpty(t, st.LastDuration)
	require.NotNil(t, st.NextRunAt)
	assert.True(t, st.NextRunAt.After(time.Now()))
}

func TestScheduler_TriggerSkipsWhileRunning(t *testing.T) {
	s := NewScheduler()
	var runs atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{}, 4)

	require.NoError(t, s.Register(Job{
		ID:       "slow",
		Interval: time.Hour,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			started <- struct{}{}
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil
		},
	}))
	s.Start()

	require.NoError(t, s.Trigger("slow"))
	<-started
	require.NoError(t, s.Trigger("slow"))

	require.Eventually(t, func() bool {
		return s.Status()[0].Running
	}, time.Second, 10*time.Millisecond)
	close(release)
	s.Stop()

	assert.Equal(t, int32(1), runs.Load())
}

func TestScheduler_TriggerUnknown(t *testing.T) {
	s := NewScheduler()
	err := s.Trigger("nope")
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestScheduler_StopCancelsRunningJob(t *testing.T) {
	s := NewScheduler()
	cancelled := make(chan struct{})

	require.NoError(t, s.Register(Job{
		ID:         "blocking",
		Interval:   time.Hour,
		RunOnStart: true,
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			close(cancelled)
			return ctx.Err()
		},
	}))
	s.Start()

	require.Eventually(t, func() bool { return s.Status()[0].Running }, 5*time.Second, 10*time.Millisecond)
	s.Stop()

	select {
	case <-cancelled:
	default:
		t.Fatal("Stop returned before the job observed cancellation")
	}
}

func TestScheduler_Unregister(t *testing.T) {
	s := NewScheduler()
	require.NoError(t, s.Register(Job{ID: "a", Interval: time.Minute, Run: func(context.Context) error { return nil }}))
	require.NoError(t, s.Register(Job{ID: "b", Interval: time.Minute, Run: func(context.Context) error { return nil }}))

	s.Unregister("a")
	st := s.Status()
	require.Len(t, st, 1)
	assert.Equal(t, "b", st[0].ID)
}

func TestSweepJob_ReportsFailures(t *testing.T) {
	fx := newSyncFixture(t, nil)
	fx.addFeed(t, "org-1", "unit-1", "https://example.com/missing.ics")

	job := SweepJob(fx.service, 15*time.Minute)
	assert.Equal(t, "sync-calendar-feeds", job.ID)
	assert.True(t, job.RunOnStart)

	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 feeds failed")
}
