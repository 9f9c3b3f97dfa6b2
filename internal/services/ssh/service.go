// Package ssh provides the remote command channel to the VPS.
package ssh

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/fgeck/masternode-setup/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// Service defines the interface for SSH operations.
type Service interface {
	Open(ctx context.Context, cfg models.SSHConfig) (Channel, error)
	TestConnection(ctx context.Context, cfg models.SSHConfig) (*models.SSHResult, error)
}

// Channel is one open session to the VPS.
type Channel interface {
	Execute(ctx context.Context, command string) (string, error)
	Upload(ctx context.Context, path string, contents []byte) error
	Close() error
}

// Impl implements the SSH Service interface.
type Impl struct {
	clientFactory ClientFactory
	logger        zerolog.Logger
}

// New creates a new SSH service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		clientFactory: &DefaultClientFactory{},
		logger:        logger,
	}
}

// NewWithClientFactory creates a new SSH service with a custom client factory (for testing).
func NewWithClientFactory(logger zerolog.Logger, factory ClientFactory) *Impl {
	return &Impl{
		clientFactory: factory,
		logger:        logger,
	}
}

func (s *Impl) buildConfig(cfg models.SSHConfig) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod

	key := cfg.PrivateKey
	if len(key) == 0 && cfg.KeyPath != "" {
		var err error
		key, err = os.ReadFile(cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key from %s: %w", cfg.KeyPath, err)
		}
	}
	if len(key) > 0 {
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}

	if cfg.Password != "" {
		password := cfg.Password
		auth = append(auth,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	if len(auth) == 0 {
		return nil, fmt.Errorf("no password or private key provided")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // fresh VPS, host key unknown
		Timeout:         timeout,
	}, nil
}

func (s *Impl) dial(ctx context.Context, cfg models.SSHConfig) (SSHClient, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	sshConfig, err := s.buildConfig(cfg)
	if err != nil {
		return nil, &ConnectionError{Addr: addr, Err: err}
	}

	type dialResult struct {
		client SSHClient
		err    error
	}
	clientChan := make(chan dialResult, 1)

	go func() {
		client, err := s.clientFactory.NewClient("tcp", addr, sshConfig)
		clientChan <- dialResult{client, err}
	}()

	select {
	case <-ctx.Done():
		// Release a connection that completes after we gave up on it.
		go func() {
			if res := <-clientChan; res.client != nil {
				_ = res.client.Close()
			}
		}()
		return nil, ctx.Err()
	case res := <-clientChan:
		if res.err != nil {
			return nil, &ConnectionError{Addr: addr, Err: res.err}
		}
		return res.client, nil
	}
}

// Open connects and authenticates to the VPS. The returned channel must be
// closed by the caller; see WithSession.
func (s *Impl) Open(ctx context.Context, cfg models.SSHConfig) (Channel, error) {
	s.logger.Debug().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("user", cfg.Username).
		Msg("opening SSH session")

	client, err := s.dial(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &Session{
		client:   client,
		transfer: cfg.Transfer,
		host:     cfg.Host,
		logger:   s.logger,
	}, nil
}

// TestConnection verifies SSH connectivity by running a harmless command.
func (s *Impl) TestConnection(ctx context.Context, cfg models.SSHConfig) (*models.SSHResult, error) {
	result := &models.SSHResult{}

	s.logger.Debug().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Msg("testing SSH connection")

	err := WithSession(ctx, s, cfg, func(ch Channel) error {
		output, err := ch.Execute(ctx, "echo OK")
		result.Output = output
		result.CommandRun = true
		if err != nil {
			return fmt.Errorf("test command failed: %w", err)
		}
		return nil
	})
	result.Error = err

	return result, nil
}
