// Package daemon manages the lifecycle of the local wallet daemon.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fgeck/masternode-setup/internal/services/wallet"
	"github.com/rs/zerolog"
)

// DefaultShutdownTimeout bounds Shutdown when it runs on a detached context.
const DefaultShutdownTimeout = 2 * time.Minute

// State is the lifecycle state of the daemon.
type State int

// Lifecycle states.
const (
	StateNotStarted State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not started"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Manager owns one local daemon process. It is not safe for concurrent use.
type Manager struct {
	wallet wallet.Service
	grace  time.Duration
	logger zerolog.Logger

	state   State
	proc    wallet.Process
	exited  chan struct{}
	exitErr error
}

// New creates a manager that starts the daemon through w and requires it
// to survive grace before it counts as running.
func New(logger zerolog.Logger, w wallet.Service, grace time.Duration) *Manager {
	return &Manager{
		wallet: w,
		grace:  grace,
		logger: logger,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	return m.state
}

// Start launches the daemon and waits out the grace period. A process that
// exits inside the window yields *StartError.
func (m *Manager) Start(ctx context.Context) error {
	if m.state != StateNotStarted {
		return fmt.Errorf("daemon already %s", m.state)
	}
	m.state = StateStarting

	proc, err := m.wallet.StartDaemon(ctx)
	if err != nil {
		m.state = StateFailed
		return &StartError{Err: err}
	}

	m.proc = proc
	m.exited = make(chan struct{})
	go func() {
		m.exitErr = proc.Wait()
		close(m.exited)
	}()

	m.logger.Info().
		Int("pid", proc.Pid()).
		Dur("grace", m.grace).
		Msg("local daemon launched, waiting for it to settle")

	timer := time.NewTimer(m.grace)
	defer timer.Stop()

	select {
	case <-m.exited:
		m.state = StateFailed
		if m.exitErr == nil {
			return &StartError{Err: errors.New("process exited during startup")}
		}
		return &StartError{Err: fmt.Errorf("process exited during startup: %w", m.exitErr)}
	case <-ctx.Done():
		_ = m.proc.Kill()
		<-m.exited
		m.state = StateStopped
		return ctx.Err()
	case <-timer.C:
	}

	m.state = StateRunning
	m.logger.Info().Int("pid", proc.Pid()).Msg("local daemon running")
	return nil
}

// Stop sends the stop request. Callers must still Wait for the exit.
func (m *Manager) Stop(ctx context.Context) error {
	if m.state != StateRunning {
		return nil
	}
	m.state = StateStopping

	m.logger.Info().Msg("stopping local daemon")
	if err := m.wallet.StopDaemon(ctx); err != nil {
		return &StopError{Err: err}
	}
	return nil
}

// Wait blocks until the process has exited. If ctx ends first the process
// is killed.
func (m *Manager) Wait(ctx context.Context) error {
	if m.proc == nil {
		return nil
	}

	select {
	case <-m.exited:
	case <-ctx.Done():
		m.logger.Warn().Msg("timed out waiting for local daemon, killing it")
		_ = m.proc.Kill()
		<-m.exited
		m.state = StateStopped
		return ctx.Err()
	}

	if m.state != StateFailed {
		m.state = StateStopped
	}
	m.logger.Debug().Err(m.exitErr).Msg("local daemon exited")
	return nil
}

// Shutdown stops the daemon and always waits for it. When the stop request
// fails the process is killed so it cannot outlive the run; the StopError is
// still returned.
func (m *Manager) Shutdown(ctx context.Context) error {
	stopErr := m.Stop(ctx)
	if stopErr != nil && m.proc != nil {
		m.logger.Warn().Err(stopErr).Msg("stop request failed, killing local daemon")
		_ = m.proc.Kill()
	}

	waitErr := m.Wait(ctx)
	if stopErr != nil {
		return stopErr
	}
	return waitErr
}
