package worker

import (
	"os/exec"
	"time"

	"golang.org/x/sys/unix"
)

// process is the exclusive handle to one spawned worker instance.
// At most one is owned by the supervisor at a time.
type process struct {
	cmd       *exec.Cmd
	startedAt time.Time

	// exited is closed by the reaper goroutine after cmd.Wait returns.
	exited   chan struct{}
	exitCode int
	exitErr  error
}

func newProcess(cmd *exec.Cmd) *process {
	return &process{
		cmd:       cmd,
		startedAt: time.Now(),
		exited:    make(chan struct{}),
	}
}

// reap waits for the process to exit and records the outcome.
// Must be called exactly once, in its own goroutine.
func (p *process) reap() {
	err := p.cmd.Wait()
	if err != nil {
		p.exitErr = err
		if exitErr, ok := err.(*exec.ExitError); ok {
			p.exitCode = exitErr.ExitCode()
		}
	}
	close(p.exited)
}

func (p *process) pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// alive is a non-blocking liveness probe: first the reaper's exit
// notification, then a signal-0 check against the PID.
func (p *process) alive() bool {
	select {
	case <-p.exited:
		return false
	default:
	}
	pid := p.pid()
	if pid <= 0 {
		return false
	}
	return unix.Kill(pid, 0) == nil
}

// kill sends SIGKILL to the worker's process group. Teardown is always a
// hard kill; the worker gets no graceful-shutdown signal.
func (p *process) kill() {
	pid := p.pid()
	if pid <= 0 {
		return
	}
	// Negative PID targets the process group so child processes die too.
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil {
		_ = p.cmd.Process.Kill()
	}
}

// killAndReap kills the process and blocks until the reaper has
// collected it, guaranteeing no zombie or orphan survives.
func (p *process) killAndReap() {
	p.kill()
	<-p.exited
}
