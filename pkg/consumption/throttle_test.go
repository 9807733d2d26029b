package consumption

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestThrottle(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	th := &throttle{
		interval: time.Hour,
		now:      func() time.Time { return now },
	}

	calls := 0
	fn := func() { calls++ }

	assert.True(t, th.do(false, fn))
	assert.False(t, th.do(false, fn), "second call inside interval should be dropped")
	assert.Equal(t, 1, calls)
	assert.Equal(t, now, th.lastCall())

	assert.True(t, th.do(true, fn), "force ignores the interval")
	assert.Equal(t, 2, calls)

	now = now.Add(59 * time.Minute)
	assert.False(t, th.do(false, fn))

	now = now.Add(time.Minute)
	assert.True(t, th.do(false, fn))
	assert.Equal(t, 3, calls)
}

func TestThrottleConcurrent(t *testing.T) {
	th := &throttle{
		interval: time.Hour,
		now:      time.Now,
	}

	started := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		th.do(false, func() {
			close(started)
			<-release
		})
	}()
	<-started

	// even forced calls don't run while another call is in flight
	assert.False(t, th.do(true, func() { t.Error("should not run") }))
	close(release)
	wg.Wait()
}
