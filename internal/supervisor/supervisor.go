// Package supervisor implements C10: process lifecycle ownership. It
// starts components in the documented order, restarts failed long-running
// subtasks with exponential backoff, drains on SIGTERM/SIGINT within a
// deadline, and reloads configuration on SIGHUP (spec §4.10), grounded on
// the teacher's signal.Notify + context-cancel shutdown pattern (cmd/proxy.go,
// cmd/api.go) generalized into a reusable task supervisor.
package supervisor

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"netevd/internal/logging"
)

var log = logging.WithComponent("supervisor")

// drainDeadline bounds how long shutdown waits for the event queue to
// drain before tearing down anyway (spec §4.10/§5).
const drainDeadline = 5 * time.Second

// restartInitial, restartFactor, restartCap define the subtask restart
// backoff schedule (spec §4.10).
const (
	restartInitial = 500 * time.Millisecond
	restartFactor  = 2
	restartCap     = 30 * time.Second
)

// Task is a long-running subtask the supervisor owns. It must return
// promptly once ctx is canceled.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// ReloadFunc re-reads configuration and atomically swaps the filter list
// and interface-monitoring lists (spec §4.10). In-flight events continue
// under the old list because the swap only affects future lookups.
type ReloadFunc func() error

// Supervisor owns a set of long-running tasks and the process's signal
// handling.
type Supervisor struct {
	tasks  []Task
	reload ReloadFunc

	wg sync.WaitGroup
}

// New creates a supervisor over the given tasks. reload may be nil if
// SIGHUP should be a no-op (e.g. in tests).
func New(tasks []Task, reload ReloadFunc) *Supervisor {
	return &Supervisor{tasks: tasks, reload: reload}
}

// Run starts every task with restart-on-error supervision and blocks until
// SIGTERM/SIGINT triggers a drain-and-exit, or ctx is canceled externally.
// Returns nil on a clean shutdown within the drain deadline.
func (s *Supervisor) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.superviseTask(runCtx, t)
	}

	for {
		select {
		case <-runCtx.Done():
			return s.drain()
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				s.handleReload()
			default:
				log.Info("received termination signal, draining", "signal", sig)
				cancel()
			}
		}
	}
}

func (s *Supervisor) handleReload() {
	if s.reload == nil {
		return
	}
	log.Info("received SIGHUP, reloading configuration")
	if err := s.reload(); err != nil {
		log.Warn("config reload failed, keeping previous configuration", "error", err)
	}
}

// drain waits up to drainDeadline for all supervised tasks to return after
// cancellation (spec §4.10/§5).
func (s *Supervisor) drain() error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("drained cleanly")
		return nil
	case <-time.After(drainDeadline):
		log.Warn("drain deadline exceeded, tearing down anyway", "deadline", drainDeadline)
		return nil
	}
}

// superviseTask runs t.Run in a restart loop with exponential backoff until
// ctx is canceled. A task that returns nil (clean exit, e.g. ctx canceled)
// is not restarted.
func (s *Supervisor) superviseTask(ctx context.Context, t Task) {
	defer s.wg.Done()

	backoff := restartInitial
	for {
		err := t.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			return
		}

		log.Warn("task exited with error, restarting", "task", t.Name, "error", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= restartFactor
		if backoff > restartCap {
			backoff = restartCap
		}
	}
}
