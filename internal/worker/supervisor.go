package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/bingal/rss-reader/internal/logbuf"
	"github.com/bingal/rss-reader/internal/metrics"
)

// State is the supervisor's view of the worker lifecycle.
type State string

const (
	StateStopped    State = "stopped"    // not started, or deliberately stopped
	StateStarting   State = "starting"   // spawned, waiting for the port handshake
	StateRunning    State = "running"    // handshake complete, port known
	StateCrashed    State = "crashed"    // process lost, restart pending
	StateRestarting State = "restarting" // restart policy engaged
	StateFailed     State = "failed"     // restart ceiling reached, manual intervention required
)

const (
	// DefaultHandshakeTimeout bounds the wait for the PORT announcement.
	DefaultHandshakeTimeout = 10 * time.Second

	// DefaultHealthInterval is the liveness probe period.
	DefaultHealthInterval = 5 * time.Second

	// DefaultRestartGrace is the pause before relaunching after a crash,
	// so the old port and any locks have time to be released.
	DefaultRestartGrace = 500 * time.Millisecond

	// DefaultRestartLimit is the restart ceiling per failure episode.
	DefaultRestartLimit = 5

	defaultLogLines = 1000
)

// Config tunes the supervisor. Zero values take the defaults above.
type Config struct {
	// Binary is an explicit worker binary path. When empty the binary is
	// resolved via ResolveBinary on every launch.
	Binary string

	HandshakeTimeout time.Duration
	HealthInterval   time.Duration
	RestartGrace     time.Duration
	RestartLimit     int
	LogLines         int
}

// Supervisor owns the worker process lifecycle: launch, port handshake,
// liveness monitoring and bounded-retry restarts. All shared state is
// guarded by one mutex; no I/O happens while it is held.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger
	ring   *logbuf.Ring

	// launchMu serializes whole launch attempts: a second launch waits for
	// the in-flight one (handshake included) to finish. Never held together
	// with mu, and never taken by Stop, so a stop aborts an in-flight
	// handshake via the state check instead of queueing behind it.
	launchMu sync.Mutex

	mu       sync.Mutex
	state    State
	proc     *process
	port     uint16
	hasPort  bool
	binary   string // resolved path of the last successful spawn
	restarts int
	healthy  bool // current episode reached confirmed health
	lastExit int
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates a supervisor. The worker is not started until Start.
func New(cfg Config) *Supervisor {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = DefaultHealthInterval
	}
	if cfg.RestartGrace <= 0 {
		cfg.RestartGrace = DefaultRestartGrace
	}
	if cfg.RestartLimit <= 0 {
		cfg.RestartLimit = DefaultRestartLimit
	}
	if cfg.LogLines <= 0 {
		cfg.LogLines = defaultLogLines
	}
	return &Supervisor{
		cfg:    cfg,
		logger: slog.With("component", "worker"),
		ring:   logbuf.New(cfg.LogLines),
		state:  StateStopped,
	}
}

// Start launches the worker and begins background health monitoring.
// It blocks until the handshake completes or fails. The monitor keeps
// running even when the initial launch fails, so a later Restart can
// recover without re-starting the supervisor.
func (s *Supervisor) Start(ctx context.Context) (uint16, error) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return 0, errors.New("supervisor already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.monitor(ctx)
	return s.launch()
}

// Shutdown stops the health monitor, then kills and reaps the worker.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	s.Stop()
}

// Stop deliberately tears down the worker: state is cleared to NotReady
// first, then the process is killed and waited for. Teardown is always a
// hard kill, and no orphan survives it. The health monitor treats the
// resulting no-handle state as "nothing to do".
func (s *Supervisor) Stop() {
	s.mu.Lock()
	proc := s.proc
	s.proc = nil
	s.port, s.hasPort = 0, false
	s.healthy = false
	s.state = StateStopped
	s.mu.Unlock()

	if proc != nil {
		s.logger.Info("stopping worker", "pid", proc.pid())
		proc.killAndReap()
		metrics.WorkerUp.Set(0)
	}
}

// Restart is the manual restart path: it tears down any current worker,
// resets the episode's restart budget, and launches fresh. This is also
// the only way out of the failed state short of restarting the daemon.
func (s *Supervisor) Restart() (uint16, error) {
	s.Stop()
	s.mu.Lock()
	s.restarts = 0
	s.mu.Unlock()
	return s.launch()
}

// Port returns the worker's announced port. It fails with ErrNotReady
// whenever no handshake has completed since the last process loss.
func (s *Supervisor) Port() (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasPort {
		return 0, ErrNotReady
	}
	return s.port, nil
}

// Status is a snapshot of the supervisor for the control API.
type Status struct {
	State        State  `json:"state"`
	Port         uint16 `json:"port,omitempty"`
	PID          int    `json:"pid,omitempty"`
	Restarts     int    `json:"restarts"`
	Uptime       string `json:"uptime,omitempty"`
	LastExitCode int    `json:"last_exit_code,omitempty"`
}

// Status returns the current supervisor snapshot.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:        s.state,
		Restarts:     s.restarts,
		LastExitCode: s.lastExit,
	}
	if s.hasPort {
		st.Port = s.port
	}
	if s.proc != nil {
		st.PID = s.proc.pid()
		if s.state == StateRunning {
			st.Uptime = time.Since(s.proc.startedAt).Truncate(time.Second).String()
		}
	}
	return st
}

// Logs returns the last n forwarded worker output lines.
func (s *Supervisor) Logs(n int) []string {
	return s.ring.Last(n)
}

// launch resolves the worker binary, spawns it with --port=0 and waits
// for the port handshake. On success the new handle and port are
// installed atomically; any previously owned handle is killed, never
// leaked. On handshake timeout the spawned process is killed and reaped
// before the error is returned. Attempts are strictly sequential: the
// launch mutex is held from resolution through handshake completion.
func (s *Supervisor) launch() (uint16, error) {
	s.launchMu.Lock()
	defer s.launchMu.Unlock()

	path := s.cfg.Binary
	if path == "" {
		var err error
		path, err = ResolveBinary()
		if err != nil {
			s.setState(StateStopped)
			return 0, err
		}
	}

	s.setState(StateStarting)

	cmd := newWorkerCommand(path)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.setState(StateStopped)
		return 0, fmt.Errorf("%w: stdout pipe: %v", ErrSpawnFailure, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.setState(StateStopped)
		return 0, fmt.Errorf("%w: stderr pipe: %v", ErrSpawnFailure, err)
	}

	started := time.Now()
	if err := cmd.Start(); err != nil {
		s.setState(StateStopped)
		return 0, fmt.Errorf("%w: %s: %v", ErrSpawnFailure, path, err)
	}

	proc := newProcess(cmd)
	go proc.reap()

	s.logger.Info("worker spawned", "path", path, "pid", proc.pid())

	// Single-use completion signal from the handshake scanner.
	portCh := make(chan uint16, 1)
	go s.forwardOutput(stdout, "stdout", func(p uint16) { portCh <- p })
	go s.forwardOutput(stderr, "stderr", nil)

	timer := time.NewTimer(s.cfg.HandshakeTimeout)
	defer timer.Stop()

	// Only the announcement or the deadline ends the wait. A worker that
	// exits without announcing still fails with HandshakeTimeout, and only
	// after the full deadline has elapsed.
	select {
	case port := <-portCh:
		s.mu.Lock()
		if s.state != StateStarting {
			// Stopped (or shut down) while the handshake was in flight.
			s.mu.Unlock()
			proc.killAndReap()
			return 0, errors.New("worker stopped during startup")
		}
		old := s.proc
		s.proc = proc
		s.port, s.hasPort = port, true
		s.healthy = true
		s.binary = path
		s.state = StateRunning
		s.mu.Unlock()

		if old != nil {
			old.killAndReap()
		}
		metrics.WorkerUp.Set(1)
		metrics.HandshakeDuration.Observe(time.Since(started).Seconds())
		s.logger.Info("worker ready", "port", port, "pid", proc.pid())
		return port, nil

	case <-timer.C:
		proc.killAndReap()
		s.mu.Lock()
		if s.state == StateStarting {
			// Leave a deliberate Stop in place if one raced the handshake.
			s.state = StateCrashed
		}
		s.mu.Unlock()
		s.logger.Warn("worker handshake timed out", "path", path,
			"timeout", s.cfg.HandshakeTimeout)
		return 0, ErrHandshakeTimeout
	}
}

// monitor is the background health loop: every tick it probes the owned
// handle without blocking and engages the restart policy on loss.
func (s *Supervisor) monitor(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkOnce()
		}
	}
}

// checkOnce runs one health tick. Outcomes: alive or no handle while
// stopped — nothing to do; process lost — clear the port, settle the
// episode's restart budget, engage the restart policy. A still-crashed
// state from an earlier failed attempt also re-engages the policy.
func (s *Supervisor) checkOnce() {
	s.mu.Lock()
	proc := s.proc
	state := s.state
	s.mu.Unlock()

	switch state {
	case StateRunning:
		if proc == nil || proc.alive() {
			return
		}
		// The port is cleared before the monitor moves on, so no reader
		// can observe a stale port after the crash.
		s.mu.Lock()
		if s.proc != proc || s.state != StateRunning {
			s.mu.Unlock()
			return
		}
		s.proc = nil
		s.port, s.hasPort = 0, false
		s.lastExit = proc.exitCode
		if s.healthy {
			// This episode reached confirmed health: the crash starts a
			// fresh one with a full restart budget.
			s.restarts = 0
			s.healthy = false
		}
		s.state = StateCrashed
		s.mu.Unlock()

		metrics.WorkerUp.Set(0)
		s.logger.Warn("worker exited unexpectedly",
			"pid", proc.pid(), "exit_code", proc.exitCode)

	case StateCrashed:
		// Fall through to another restart attempt.

	default:
		return
	}

	if _, err := s.restart(); err != nil {
		s.logger.Error("worker restart failed", "error", err)
	}
}

// restart is the bounded-retry policy. It increments the episode's
// counter, refusing with ErrRestartLimit once the ceiling is reached,
// otherwise reaps any stale handle, waits out the grace period and
// launches again. Failures are returned for logging, never panicked.
func (s *Supervisor) restart() (uint16, error) {
	s.mu.Lock()
	if s.restarts >= s.cfg.RestartLimit {
		stale := s.proc
		s.proc = nil
		s.port, s.hasPort = 0, false
		s.state = StateFailed
		s.mu.Unlock()

		if stale != nil {
			stale.killAndReap()
		}
		s.logger.Error("worker restart limit reached, giving up",
			"limit", s.cfg.RestartLimit)
		return 0, ErrRestartLimit
	}
	s.restarts++
	attempt := s.restarts
	stale := s.proc
	s.proc = nil
	s.port, s.hasPort = 0, false
	s.state = StateRestarting
	s.mu.Unlock()

	if stale != nil {
		stale.killAndReap()
	}
	metrics.WorkerRestarts.Inc()
	s.logger.Info("restarting worker", "attempt", attempt, "limit", s.cfg.RestartLimit)

	// Grace period before relaunching, so the old port and any locks the
	// worker held have been released.
	time.Sleep(s.cfg.RestartGrace)

	s.mu.Lock()
	if s.state != StateRestarting {
		// Stopped (or manually restarted) during the grace period.
		s.mu.Unlock()
		return 0, errors.New("restart aborted: worker stopped")
	}
	s.mu.Unlock()

	return s.launch()
}

// newWorkerCommand builds the worker invocation. --port=0 tells the
// worker to bind an ephemeral port and announce it on stdout. The worker
// runs in its own process group so teardown can kill the whole tree.
func newWorkerCommand(path string) *exec.Cmd {
	cmd := exec.Command(path, "--port=0")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}
