package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

type fakeChecker struct {
	calls   atomic.Int32
	changed bool
	err     error
	block   chan struct{}
	entered chan struct{}
	once    sync.Once
}

func (f *fakeChecker) CheckForUpdates(ctx context.Context) (bool, error) {
	f.calls.Add(1)
	if f.entered != nil {
		f.once.Do(func() { close(f.entered) })
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return f.changed, f.err
}

func TestPollNow_RecordsOutcome(t *testing.T) {
	checker := &fakeChecker{changed: true}
	p := NewService(checker, arbor.NewLogger(), time.Second)

	changed, err := p.PollNow(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)

	status := p.Status()
	assert.NotNil(t, status.LastRun)
	assert.NotNil(t, status.LastChanged)
	assert.Empty(t, status.LastError)
	assert.False(t, status.Running)

	checker.err = errors.New("backend down")
	checker.changed = false
	_, err = p.PollNow(context.Background())
	assert.Error(t, err)
	assert.Equal(t, "backend down", p.Status().LastError)
}

func TestPollNow_DoesNotOverlap(t *testing.T) {
	checker := &fakeChecker{block: make(chan struct{}), entered: make(chan struct{})}
	p := NewService(checker, arbor.NewLogger(), time.Second)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = p.PollNow(context.Background())
	}()
	<-checker.entered

	_, err := p.PollNow(context.Background())
	assert.ErrorIs(t, err, ErrPollInFlight)
	assert.True(t, p.Status().IsPolling)

	close(checker.block)
	<-done
	assert.Equal(t, int32(1), checker.calls.Load())
}

func TestStartStop(t *testing.T) {
	checker := &fakeChecker{}
	p := NewService(checker, arbor.NewLogger(), time.Second)

	require.NoError(t, p.Start("@every 1s"))
	assert.True(t, p.IsRunning())
	assert.Error(t, p.Start("@every 1s"), "double start")

	status := p.Status()
	assert.Equal(t, "@every 1s", status.Schedule)
	assert.NotNil(t, status.NextRun)

	assert.Eventually(t, func() bool {
		return checker.calls.Load() > 0
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, p.Stop())
	assert.False(t, p.IsRunning())
	require.NoError(t, p.Stop())
}

func TestStart_InvalidSchedule(t *testing.T) {
	p := NewService(&fakeChecker{}, arbor.NewLogger(), time.Second)
	assert.Error(t, p.Start("not a schedule"))
	assert.False(t, p.IsRunning())
}
