package core

import (
	"log/slog"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
)

const sweeperStopTimeout = 5 * time.Second

// Sweeper runs CoreService.Sweep on a fixed delay for the lifetime of the process.
// A panicking sweep is recovered and an overlapping tick is skipped, so one bad
// iteration never ends the loop.
type Sweeper struct {
	service  *CoreService
	interval time.Duration

	mu   sync.Mutex
	cron *rcron.Cron
}

func NewSweeper(service *CoreService, interval time.Duration) *Sweeper {
	return &Sweeper{
		service:  service,
		interval: interval,
	}
}

func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return
	}

	logger := cronLogger{}
	s.cron = rcron.New(
		rcron.WithLogger(logger),
		rcron.WithChain(rcron.Recover(logger), rcron.SkipIfStillRunning(logger)),
	)
	s.cron.Schedule(rcron.Every(s.interval), rcron.FuncJob(func() {
		s.service.Sweep()
	}))
	s.cron.Start()
	slog.Info("liveness sweeper started", "interval", s.interval, "timeout", s.service.config.Liveness.Timeout)
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}

	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(sweeperStopTimeout):
		slog.Warn("liveness sweeper stop timed out waiting for running sweep")
	}
	slog.Info("liveness sweeper stopped")
}

// cronLogger forwards cron's own logging to slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("sweeper: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("sweeper: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
