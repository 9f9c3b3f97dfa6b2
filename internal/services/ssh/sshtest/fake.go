// Package sshtest provides an in-memory ssh.Service for orchestrator tests.
package sshtest

import (
	"context"
	"sync"

	"github.com/fgeck/masternode-setup/internal/models"
	"github.com/fgeck/masternode-setup/internal/services/ssh"
)

// Handler answers one remote command.
type Handler func(command string) (string, error)

// Channel records commands and uploads.
type Channel struct {
	Handler Handler

	mu       sync.Mutex
	commands []string
	uploads  map[string][]byte
	closes   int
}

// Execute records command and answers through Handler; without a Handler
// every command succeeds with empty output.
func (c *Channel) Execute(_ context.Context, command string) (string, error) {
	c.mu.Lock()
	c.commands = append(c.commands, command)
	handler := c.Handler
	c.mu.Unlock()

	if handler == nil {
		return "", nil
	}
	return handler(command)
}

// Upload records contents under path.
func (c *Channel) Upload(_ context.Context, path string, contents []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.uploads == nil {
		c.uploads = make(map[string][]byte)
	}
	c.uploads[path] = append([]byte(nil), contents...)
	return nil
}

// Close counts closes.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

// Commands returns the executed commands in order.
func (c *Channel) Commands() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.commands...)
}

// Count returns how often command was executed.
func (c *Channel) Count(command string) int {
	n := 0
	for _, cmd := range c.Commands() {
		if cmd == command {
			n++
		}
	}
	return n
}

// Uploaded returns the contents uploaded to path.
func (c *Channel) Uploaded(path string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.uploads[path]
	return b, ok
}

// Closes returns how often Close was called.
func (c *Channel) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// Service hands out Channel on every Open.
type Service struct {
	Channel *Channel
	OpenErr error

	mu    sync.Mutex
	opens int
}

// Open returns the shared channel or OpenErr.
func (s *Service) Open(context.Context, models.SSHConfig) (ssh.Channel, error) {
	s.mu.Lock()
	s.opens++
	s.mu.Unlock()

	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	return s.Channel, nil
}

// TestConnection reports success unless OpenErr is set.
func (s *Service) TestConnection(ctx context.Context, cfg models.SSHConfig) (*models.SSHResult, error) {
	if _, err := s.Open(ctx, cfg); err != nil {
		return &models.SSHResult{Error: err}, nil
	}
	return &models.SSHResult{CommandRun: true, Output: "OK\n"}, nil
}

// Opens returns how many sessions were opened.
func (s *Service) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

// Exit builds the error a command exiting with status produces.
func Exit(command string, status int) error {
	return &ssh.CommandError{Command: command, ExitStatus: status}
}
