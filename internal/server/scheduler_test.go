package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"OAuthGuard/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"
)

type fakeLifecycle struct {
	mu      sync.Mutex
	started bool
	stopped bool
	buffers []int
	err     error
}

func (f *fakeLifecycle) ScheduleExpiringRefreshCheck(_ context.Context, bufferMinutes int) (map[int64]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buffers = append(f.buffers, bufferMinutes)
	if f.err != nil {
		return nil, f.err
	}
	return map[int64]struct{}{1: {}}, nil
}

func (f *fakeLifecycle) Start(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
}

func (f *fakeLifecycle) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeLifecycle) checks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buffers)
}

func TestRefreshScheduler_Defaults(t *testing.T) {
	s := newRefreshScheduler(nil, &fakeLifecycle{}, log.DefaultLogger)
	assert.Equal(t, DefaultCheckSpec, s.spec)
	assert.Equal(t, 30, s.bufferMinutes)

	s = newRefreshScheduler(&conf.Lifecycle{CheckSpec: "*/1 * * * * *", Buffer: durationpb.New(time.Hour)}, &fakeLifecycle{}, log.DefaultLogger)
	assert.Equal(t, "*/1 * * * * *", s.spec)
	assert.Equal(t, 60, s.bufferMinutes)
}

func TestRefreshScheduler_RunsChecks(t *testing.T) {
	lc := &fakeLifecycle{}
	s := newRefreshScheduler(&conf.Lifecycle{CheckSpec: "*/1 * * * * *"}, lc, log.DefaultLogger)

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return lc.checks() > 0 }, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, s.Stop(context.Background()))
	assert.True(t, lc.started)
	assert.True(t, lc.stopped)
	assert.Equal(t, 30, lc.buffers[0])
}

func TestRefreshScheduler_InvalidSpec(t *testing.T) {
	lc := &fakeLifecycle{}
	s := newRefreshScheduler(&conf.Lifecycle{CheckSpec: "not a cron"}, lc, log.DefaultLogger)

	assert.Error(t, s.Start(context.Background()))
	assert.False(t, lc.started)
}

func TestRefreshScheduler_CheckFailureLogged(t *testing.T) {
	lc := &fakeLifecycle{err: errors.New("db down")}
	s := newRefreshScheduler(nil, lc, log.DefaultLogger)

	s.runCheck()
	assert.Equal(t, 1, lc.checks())
}
