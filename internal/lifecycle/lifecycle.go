// Package lifecycle implements the Lifecycle Worker (spec §4.7):
// periodic inactivity/orphan sweeps, snapshotting to the durable store,
// reverse sync, and a daily integrity pass, all running independently of
// any client request. Grounded on the asynq Server/Scheduler wiring in
// quqxiaoli-collaborative-blackboard's internal/worker package, adapted
// from that repo's logrus logging to this repo's slog convention.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TaskInactivitySweep = "lifecycle:inactivity_sweep"
	TaskSnapshot        = "lifecycle:snapshot"
	TaskReverseSync     = "lifecycle:reverse_sync"
	TaskIntegrityPass   = "lifecycle:integrity_pass"
)

// DefaultOrphanTimeout is spec §4.7's fixed 24h grace period for a
// client:* record with no roomId — unlike InactiveTimeout and its
// relatives, it has no environment variable of its own.
const DefaultOrphanTimeout = 24 * time.Hour

// Config carries the timeout knobs from spec §6's environment variables.
type Config struct {
	InactiveTimeout         time.Duration
	MinVideoTimeoutHours    float64
	VideoDurationMultiplier float64

	// OrphanTimeout is how long a client:* record with no roomId is kept
	// around before the inactivity sweep drops it (§4.7) — distinct from
	// the unconditional drop applied to a record whose roomId references
	// a room that no longer exists at all.
	OrphanTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		InactiveTimeout:         300 * time.Second,
		MinVideoTimeoutHours:    2,
		VideoDurationMultiplier: 5,
		OrphanTimeout:           DefaultOrphanTimeout,
	}
}

// Worker owns the asynq Scheduler (enqueues periodic jobs on a cron) and
// the asynq Server (processes them), matching the source's "its own
// scheduler" note in spec §5.
type Worker struct {
	redisOpt  asynq.RedisClientOpt
	scheduler *asynq.Scheduler
	server    *asynq.Server
	mux       *asynq.ServeMux
	logger    *slog.Logger
}

func New(redisOpt asynq.RedisClientOpt, logger *slog.Logger) *Worker {
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Logger: slogAdapter{logger},
	})

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 4,
		Queues: map[string]int{
			"lifecycle": 1,
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.ErrorContext(ctx, "lifecycle: task failed", "type", task.Type(), "error", err)
		}),
		Logger: slogAdapter{logger},
	})

	return &Worker{
		redisOpt:  redisOpt,
		scheduler: scheduler,
		server:    server,
		mux:       asynq.NewServeMux(),
		logger:    logger,
	}
}

// Register schedules the four fixed-interval jobs of §4.7 and wires
// their handlers. Must be called before Start.
func (w *Worker) Register(handlers *Handlers) error {
	w.mux.HandleFunc(TaskInactivitySweep, handlers.HandleInactivitySweep)
	w.mux.HandleFunc(TaskSnapshot, handlers.HandleSnapshot)
	w.mux.HandleFunc(TaskReverseSync, handlers.HandleReverseSync)
	w.mux.HandleFunc(TaskIntegrityPass, handlers.HandleIntegrityPass)

	entries := []struct {
		cronSpec string
		taskType string
	}{
		{"*/10 * * * *", TaskInactivitySweep},
		{"*/10 * * * *", TaskSnapshot},
		{"0 * * * *", TaskReverseSync},
		{"0 3 * * *", TaskIntegrityPass},
	}

	for _, e := range entries {
		task := asynq.NewTask(e.taskType, nil, asynq.Queue("lifecycle"), asynq.MaxRetry(3))
		if _, err := w.scheduler.Register(e.cronSpec, task); err != nil {
			return err
		}
	}
	return nil
}

// Start runs the scheduler and server in the background. It does not
// block; call Shutdown to stop both.
func (w *Worker) Start() error {
	if err := w.scheduler.Start(); err != nil {
		return err
	}
	go func() {
		if err := w.server.Run(w.mux); err != nil {
			w.logger.Error("lifecycle: server stopped with error", "error", err)
		}
	}()
	return nil
}

func (w *Worker) Shutdown() {
	w.scheduler.Shutdown()
	w.server.Shutdown()
}

// slogAdapter satisfies asynq's internal logger interface against
// log/slog, so the worker's own diagnostics flow through the same
// structured logger as the rest of the process instead of asynq's
// default stdlib-log writer.
type slogAdapter struct{ logger *slog.Logger }

func (a slogAdapter) Debug(args ...any) { a.logger.Debug(fmt.Sprint(args...)) }
func (a slogAdapter) Info(args ...any)  { a.logger.Info(fmt.Sprint(args...)) }
func (a slogAdapter) Warn(args ...any)  { a.logger.Warn(fmt.Sprint(args...)) }
func (a slogAdapter) Error(args ...any) { a.logger.Error(fmt.Sprint(args...)) }
func (a slogAdapter) Fatal(args ...any) { a.logger.Error(fmt.Sprint(args...)) }
