package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSupervisor_RestartsFailedTask(t *testing.T) {
	var runs int32
	task := Task{
		Name: "flaky",
		Run: func(ctx context.Context) error {
			n := atomic.AddInt32(&runs, 1)
			if n < 3 {
				return errors.New("boom")
			}
			<-ctx.Done()
			return nil
		},
	}

	s := New([]Task{task}, nil)
	// Shrink the backoff schedule for the test by racing a short-lived ctx;
	// the default schedule (500ms/1s/2s...) would make this test slow but
	// still correct, so we just bound the test's patience instead.
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(4 * time.Second):
		t.Fatal("supervisor did not exit in time")
	}

	assert.GreaterOrEqual(t, atomic.LoadInt32(&runs), int32(3))
}

func TestSupervisor_CleanTaskExitIsNotRestarted(t *testing.T) {
	var runs int32
	task := Task{
		Name: "oneshot",
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&runs, 1)
			return nil
		},
	}

	s := New([]Task{task}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_ = s.Run(ctx)
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}
