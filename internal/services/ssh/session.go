package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"

	"github.com/fgeck/masternode-setup/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

var errSessionClosed = errors.New("ssh session is closed")

// Session is a live connection to one host. Commands run one at a time,
// each on its own SSH channel.
type Session struct {
	client   SSHClient
	fs       RemoteFS
	transfer string
	host     string
	logger   zerolog.Logger
	closed   bool
}

type runResult struct {
	status int
	err    error
}

// Execute runs command to completion and returns its stdout followed by its
// stderr. A non-zero exit status is reported as *CommandError.
func (s *Session) Execute(ctx context.Context, command string) (string, error) {
	if s.closed {
		return "", errSessionClosed
	}

	s.logger.Debug().Str("host", s.host).Str("command", command).Msg("executing remote command")

	session, err := s.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	defer func() { _ = session.Close() }()

	var stdout, stderr bytes.Buffer
	done := make(chan runResult, 1)

	go func() {
		status, err := session.Run(command, &stdout, &stderr)
		done <- runResult{status: status, err: err}
	}()

	var res runResult
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		<-done
		return "", ctx.Err()
	case res = <-done:
	}

	output := stdout.String() + stderr.String()

	if res.err != nil {
		return output, fmt.Errorf("running %q: %w", command, res.err)
	}
	if res.status != 0 {
		return output, &CommandError{Command: command, ExitStatus: res.status, Output: output}
	}

	return output, nil
}

// Upload writes contents to the absolute remotePath, replacing any existing
// file. The parent directory is created when missing.
func (s *Session) Upload(ctx context.Context, remotePath string, contents []byte) error {
	if s.closed {
		return errSessionClosed
	}

	if s.fs == nil {
		fs, err := s.client.OpenFS(s.transfer)
		if err != nil {
			return err
		}
		s.fs = fs
	}

	dir := path.Dir(remotePath)
	if err := s.fs.Mkdir(dir); err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	if err := s.fs.WriteFile(ctx, remotePath, contents); err != nil {
		return fmt.Errorf("failed to write %s: %w", remotePath, err)
	}

	s.logger.Debug().
		Str("host", s.host).
		Str("path", remotePath).
		Int("bytes", len(contents)).
		Msg("file uploaded")

	return nil
}

// Close releases the connection. Calling it again is a no-op.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var fsErr error
	if s.fs != nil {
		fsErr = s.fs.Close()
	}

	s.logger.Debug().Str("host", s.host).Msg("closing SSH session")

	return errors.Join(fsErr, s.client.Close())
}

// WithSession opens a session, passes it to fn and closes it on every exit
// path. A close failure is only reported when fn succeeded.
func WithSession(ctx context.Context, svc Service, cfg models.SSHConfig, fn func(Channel) error) (err error) {
	ch, err := svc.Open(ctx, cfg)
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := ch.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close session: %w", closeErr)
		}
	}()

	return fn(ch)
}
