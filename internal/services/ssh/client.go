package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	scp "github.com/bramvdbogaerde/go-scp"
	"github.com/fgeck/masternode-setup/internal/models"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// SSHClient wraps ssh.Client for mocking.
type SSHClient interface {
	NewSession() (SSHSession, error)
	OpenFS(transfer string) (RemoteFS, error)
	Close() error
}

// SSHSession wraps ssh.Session for mocking. Run reports the remote exit
// status separately from transport errors.
type SSHSession interface {
	Run(cmd string, stdout, stderr io.Writer) (int, error)
	Signal(sig ssh.Signal) error
	Close() error
}

// RemoteFS is the file side of a connection. Mkdir returns an error
// wrapping os.ErrExist when the directory is already there.
type RemoteFS interface {
	Mkdir(path string) error
	WriteFile(ctx context.Context, path string, contents []byte) error
	Close() error
}

// ClientFactory creates SSH clients.
type ClientFactory interface {
	NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error)
}

// DefaultClientFactory is the default SSH client factory.
type DefaultClientFactory struct{}

// NewClient creates a new SSH client.
func (f *DefaultClientFactory) NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
	client, err := ssh.Dial(network, addr, config)
	if err != nil {
		return nil, err
	}
	return &defaultSSHClient{client: client}, nil
}

type defaultSSHClient struct {
	client *ssh.Client
}

func (c *defaultSSHClient) NewSession() (SSHSession, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, err
	}
	return &defaultSSHSession{session: session}, nil
}

func (c *defaultSSHClient) OpenFS(transfer string) (RemoteFS, error) {
	if transfer == models.TransferSCP {
		return &scpFS{client: c}, nil
	}

	client, err := sftp.NewClient(c.client)
	if err != nil {
		return nil, fmt.Errorf("failed to start sftp subsystem: %w", err)
	}
	return &sftpFS{client: client}, nil
}

func (c *defaultSSHClient) Close() error {
	return c.client.Close()
}

type defaultSSHSession struct {
	session *ssh.Session
}

func (s *defaultSSHSession) Run(cmd string, stdout, stderr io.Writer) (int, error) {
	s.session.Stdout = stdout
	s.session.Stderr = stderr

	err := s.session.Run(cmd)
	if err == nil {
		return 0, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), nil
	}
	return -1, err
}

func (s *defaultSSHSession) Signal(sig ssh.Signal) error {
	return s.session.Signal(sig)
}

func (s *defaultSSHSession) Close() error {
	return s.session.Close()
}

type sftpFS struct {
	client *sftp.Client
}

func (f *sftpFS) Mkdir(path string) error {
	err := f.client.Mkdir(path)
	if err == nil {
		return nil
	}
	// sftp servers report a generic failure for existing directories.
	if info, statErr := f.client.Stat(path); statErr == nil && info.IsDir() {
		return fmt.Errorf("%s: %w", path, os.ErrExist)
	}
	return err
}

func (f *sftpFS) WriteFile(_ context.Context, path string, contents []byte) error {
	file, err := f.client.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return err
	}

	if _, err := file.Write(contents); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func (f *sftpFS) Close() error {
	return f.client.Close()
}

// scpFS uploads with the scp protocol for hosts without an sftp subsystem.
type scpFS struct {
	client *defaultSSHClient
}

func (f *scpFS) run(cmd string) (int, error) {
	session, err := f.client.NewSession()
	if err != nil {
		return -1, err
	}
	defer func() { _ = session.Close() }()

	var out bytes.Buffer
	return session.Run(cmd, &out, &out)
}

func (f *scpFS) Mkdir(path string) error {
	status, err := f.run("mkdir " + Quote(path))
	if err != nil {
		return err
	}
	if status == 0 {
		return nil
	}
	if status, err := f.run("test -d " + Quote(path)); err == nil && status == 0 {
		return fmt.Errorf("%s: %w", path, os.ErrExist)
	}
	return fmt.Errorf("mkdir %s exited with status %d", path, status)
}

func (f *scpFS) WriteFile(ctx context.Context, path string, contents []byte) error {
	client, err := scp.NewClientBySSH(f.client.client)
	if err != nil {
		return fmt.Errorf("failed to create scp client: %w", err)
	}
	// client.Close would close the shared ssh connection.
	return client.CopyFile(ctx, bytes.NewReader(contents), path, "0644")
}

func (f *scpFS) Close() error {
	return nil
}
