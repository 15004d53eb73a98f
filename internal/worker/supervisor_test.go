package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// writeScript drops an executable shell script standing in for the
// worker binary. The --port=0 argument the supervisor passes is ignored.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-worker")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestStartAnnouncesPort(t *testing.T) {
	script := writeScript(t, `
echo "booting up"
echo "PORT:43210"
echo "serving"
sleep 60
`)
	s := New(Config{
		Binary:           script,
		HandshakeTimeout: 5 * time.Second,
		HealthInterval:   time.Hour,
	})
	t.Cleanup(s.Shutdown)

	port, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if port != 43210 {
		t.Errorf("port = %d, want 43210", port)
	}

	got, err := s.Port()
	if err != nil || got != 43210 {
		t.Errorf("Port() = (%d, %v), want (43210, nil)", got, err)
	}

	st := s.Status()
	if st.State != StateRunning {
		t.Errorf("state = %s, want %s", st.State, StateRunning)
	}
	if st.PID <= 0 {
		t.Errorf("expected a live PID, got %d", st.PID)
	}

	// Diagnostic lines land in the log buffer; the handshake line does not.
	waitFor(t, 2*time.Second, func() bool { return len(s.Logs(10)) >= 2 }, "forwarded output")
	for _, line := range s.Logs(10) {
		if line == "[stdout] PORT:43210" {
			t.Errorf("handshake line leaked into logs: %v", s.Logs(10))
		}
	}
}

func TestStartTwiceFails(t *testing.T) {
	script := writeScript(t, "echo PORT:43211\nsleep 60\n")
	s := New(Config{Binary: script, HealthInterval: time.Hour})
	t.Cleanup(s.Shutdown)

	if _, err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := s.Start(context.Background()); err == nil {
		t.Fatal("second Start should fail")
	}
}

func TestPortBeforeStart(t *testing.T) {
	s := New(Config{Binary: "unused"})
	if _, err := s.Port(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestSpawnFailure(t *testing.T) {
	s := New(Config{Binary: filepath.Join(t.TempDir(), "does-not-exist")})
	t.Cleanup(s.Shutdown)

	if _, err := s.Start(context.Background()); !errors.Is(err, ErrSpawnFailure) {
		t.Fatalf("expected ErrSpawnFailure, got %v", err)
	}
	if st := s.Status(); st.State != StateStopped {
		t.Errorf("state after spawn failure = %s, want %s", st.State, StateStopped)
	}
}

func TestHandshakeTimeout(t *testing.T) {
	script := writeScript(t, "echo starting\nsleep 60\n")
	s := New(Config{
		Binary:           script,
		HandshakeTimeout: 300 * time.Millisecond,
		HealthInterval:   time.Hour,
	})
	t.Cleanup(s.Shutdown)

	_, err := s.Start(context.Background())
	if !errors.Is(err, ErrHandshakeTimeout) {
		t.Fatalf("expected ErrHandshakeTimeout, got %v", err)
	}
	// The spawned process must be gone by the time Start returns.
	if st := s.Status(); st.PID != 0 {
		t.Errorf("expected no owned process, got PID %d", st.PID)
	}
	if _, err := s.Port(); !errors.Is(err, ErrNotReady) {
		t.Errorf("expected ErrNotReady after timeout, got %v", err)
	}
}

func TestImmediateExitWaitsFullTimeout(t *testing.T) {
	script := writeScript(t, "exit 1\n")
	timeout := 500 * time.Millisecond
	s := New(Config{
		Binary:           script,
		HandshakeTimeout: timeout,
		HealthInterval:   time.Hour,
	})
	t.Cleanup(s.Shutdown)

	started := time.Now()
	_, err := s.Start(context.Background())
	elapsed := time.Since(started)

	if !errors.Is(err, ErrHandshakeTimeout) {
		t.Fatalf("expected ErrHandshakeTimeout, got %v", err)
	}
	if elapsed < timeout {
		t.Errorf("Start returned after %v; an early exit must still wait the full %v", elapsed, timeout)
	}
}

func TestStopKillsProcess(t *testing.T) {
	script := writeScript(t, "echo PORT:43212\nsleep 60\n")
	s := New(Config{Binary: script, HealthInterval: time.Hour})

	if _, err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	pid := s.Status().PID
	if pid <= 0 {
		t.Fatal("no PID after start")
	}

	s.Shutdown()

	if err := unix.Kill(pid, 0); err == nil {
		t.Errorf("process %d still alive after Stop", pid)
	}
	if _, err := s.Port(); !errors.Is(err, ErrNotReady) {
		t.Errorf("expected ErrNotReady after Stop, got %v", err)
	}
	if st := s.Status(); st.State != StateStopped {
		t.Errorf("state = %s, want %s", st.State, StateStopped)
	}
}

func TestCrashTriggersRestart(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "crashed-once")
	script := writeScript(t, fmt.Sprintf(`
if [ -f %q ]; then
  echo "PORT:43214"
  sleep 60
else
  touch %q
  echo "PORT:43213"
  exit 0
fi
`, marker, marker))

	s := New(Config{
		Binary:           script,
		HandshakeTimeout: 5 * time.Second,
		HealthInterval:   50 * time.Millisecond,
		RestartGrace:     10 * time.Millisecond,
	})
	t.Cleanup(s.Shutdown)

	port, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if port != 43213 {
		t.Fatalf("first port = %d, want 43213", port)
	}

	// The first instance exits right after announcing; the monitor must
	// notice, clear the port and bring up a replacement.
	waitFor(t, 10*time.Second, func() bool {
		p, err := s.Port()
		return err == nil && p == 43214
	}, "replacement worker")

	st := s.Status()
	if st.State != StateRunning {
		t.Errorf("state = %s, want %s", st.State, StateRunning)
	}
	// The crashed instance had reached confirmed health, so its episode's
	// budget was retired: this restart is attempt 1 of a fresh episode.
	if st.Restarts != 1 {
		t.Errorf("restarts = %d, want 1", st.Restarts)
	}
}

func TestRestartLimitReached(t *testing.T) {
	script := writeScript(t, "exit 0\n")
	s := New(Config{
		Binary:           script,
		HandshakeTimeout: 150 * time.Millisecond,
		HealthInterval:   30 * time.Millisecond,
		RestartGrace:     10 * time.Millisecond,
		RestartLimit:     5,
	})
	t.Cleanup(s.Shutdown)

	if _, err := s.Start(context.Background()); !errors.Is(err, ErrHandshakeTimeout) {
		t.Fatalf("expected ErrHandshakeTimeout, got %v", err)
	}

	waitFor(t, 30*time.Second, func() bool {
		return s.Status().State == StateFailed
	}, "failed state")

	st := s.Status()
	if st.Restarts != 5 {
		t.Errorf("restarts = %d, want 5", st.Restarts)
	}
	if _, err := s.Port(); !errors.Is(err, ErrNotReady) {
		t.Errorf("expected ErrNotReady in failed state, got %v", err)
	}

	// Failed is terminal for the monitor: the counter must not move again.
	time.Sleep(200 * time.Millisecond)
	if got := s.Status().Restarts; got != 5 {
		t.Errorf("restarts moved to %d after failed state", got)
	}
}

func TestManualRestartRecoversFromFailed(t *testing.T) {
	mode := filepath.Join(t.TempDir(), "mode")
	script := writeScript(t, fmt.Sprintf(`
if [ "$(cat %q 2>/dev/null)" = "ok" ]; then
  echo "PORT:43215"
  sleep 60
else
  exit 0
fi
`, mode))

	s := New(Config{
		Binary:           script,
		HandshakeTimeout: 150 * time.Millisecond,
		HealthInterval:   30 * time.Millisecond,
		RestartGrace:     10 * time.Millisecond,
		RestartLimit:     2,
	})
	t.Cleanup(s.Shutdown)

	s.Start(context.Background())
	waitFor(t, 30*time.Second, func() bool {
		return s.Status().State == StateFailed
	}, "failed state")

	// Fix the worker, then restart explicitly.
	if err := os.WriteFile(mode, []byte("ok"), 0644); err != nil {
		t.Fatal(err)
	}
	port, err := s.Restart()
	if err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if port != 43215 {
		t.Errorf("port = %d, want 43215", port)
	}

	st := s.Status()
	if st.State != StateRunning {
		t.Errorf("state = %s, want %s", st.State, StateRunning)
	}
	if st.Restarts != 0 {
		t.Errorf("manual restart should reset the counter, got %d", st.Restarts)
	}
}

func TestRestartWaitsForInFlightLaunch(t *testing.T) {
	// First run never announces and hangs until the handshake deadline
	// kills it; the second run comes up cleanly.
	marker := filepath.Join(t.TempDir(), "first-run")
	script := writeScript(t, fmt.Sprintf(`
if [ -f %q ]; then
  echo "PORT:43217"
  sleep 60
else
  touch %q
  sleep 60
fi
`, marker, marker))

	s := New(Config{
		Binary:           script,
		HandshakeTimeout: 2 * time.Second,
		HealthInterval:   time.Hour,
		RestartGrace:     10 * time.Millisecond,
	})
	t.Cleanup(s.Shutdown)

	startErr := make(chan error, 1)
	go func() {
		_, err := s.Start(context.Background())
		startErr <- err
	}()

	// Wait until the first launch is blocked in its handshake, then restart
	// from another goroutine. The restart must queue behind the in-flight
	// attempt, not race it with a second concurrent spawn.
	waitFor(t, 2*time.Second, func() bool { return s.Status().State == StateStarting },
		"first launch in flight")

	port, err := s.Restart()
	if err != nil {
		t.Fatalf("Restart during in-flight launch: %v", err)
	}
	if port != 43217 {
		t.Errorf("port = %d, want 43217", port)
	}

	if err := <-startErr; !errors.Is(err, ErrHandshakeTimeout) {
		t.Errorf("aborted first launch returned %v, want ErrHandshakeTimeout", err)
	}

	st := s.Status()
	if st.State != StateRunning {
		t.Errorf("state = %s, want %s", st.State, StateRunning)
	}
	if st.Restarts != 0 {
		t.Errorf("manual restart should reset the counter, got %d", st.Restarts)
	}
}

func TestCheckOnceResetsBudgetAfterHealthyCrash(t *testing.T) {
	script := writeScript(t, "echo PORT:43216\nsleep 60\n")
	s := New(Config{
		Binary:           script,
		HandshakeTimeout: 5 * time.Second,
		RestartGrace:     10 * time.Millisecond,
	})
	t.Cleanup(s.Shutdown)

	// Fabricate a worker that handshook and then died, mid-episode.
	dead := spawnDead(t)
	s.mu.Lock()
	s.proc = dead
	s.port, s.hasPort = 43200, true
	s.state = StateRunning
	s.healthy = true
	s.restarts = 3
	s.mu.Unlock()

	s.checkOnce()

	st := s.Status()
	if st.State != StateRunning {
		t.Fatalf("state = %s, want %s", st.State, StateRunning)
	}
	if st.Restarts != 1 {
		t.Errorf("restarts = %d, want 1 (fresh episode after confirmed health)", st.Restarts)
	}
}

// spawnDead runs a trivial command to completion and returns its
// already-exited process handle.
func spawnDead(t *testing.T) *process {
	t.Helper()
	cmd := newWorkerCommand("/bin/true")
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	p := newProcess(cmd)
	go p.reap()
	<-p.exited
	return p
}
