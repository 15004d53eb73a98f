package worker

import "errors"

// ErrNotReady is returned by Port when no handshake has completed since
// the last process loss. Callers should treat it as transient and retry.
var ErrNotReady = errors.New("backend not ready")

// ErrHandshakeTimeout is returned when the worker spawned but did not
// announce a valid port within the handshake deadline, or exited without
// ever announcing one.
var ErrHandshakeTimeout = errors.New("timed out waiting for worker port announcement")

// ErrSpawnFailure wraps binary-resolution and process-spawn failures.
var ErrSpawnFailure = errors.New("worker could not be spawned")

// ErrRestartLimit is returned once the restart ceiling for the current
// failure episode is reached. No further automatic restarts happen until
// Restart is called explicitly or the daemon itself restarts.
var ErrRestartLimit = errors.New("worker restart limit reached")
