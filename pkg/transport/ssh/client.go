package ssh

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// Client implements Transport over a single SSH connection.
type Client struct {
	config *Config

	client      *ssh.Client
	connMu      sync.RWMutex
	isConnected bool
	connectedAt time.Time
	lastUsedAt  time.Time

	executor     *executor
	fileTransfer *fileTransfer
}

// NewClient creates a new SSH transport client.
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Client{config: config}
	c.executor = &executor{client: c, config: config}
	c.fileTransfer = &fileTransfer{client: c, config: config}
	return c, nil
}

// Connect establishes the SSH connection to the remote instance.
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.isConnected && c.client != nil {
		// Already connected, verify the connection is still alive
		if err := c.healthCheckInternal(); err == nil {
			return nil
		}
		log.Warn().Str("host", c.config.Host).Msg("existing connection is dead, reconnecting")
		_ = c.client.Close()
	}

	clientConfig, err := c.config.BuildSSHClientConfig()
	if err != nil {
		// A config that cannot even be built (bad key, bad known_hosts)
		// will never succeed on retry.
		return &TransportError{
			Op:          "connect",
			Err:         err,
			IsAuthError: true,
			ExitCode:    -1,
		}
	}

	address := c.config.Address()
	log.Debug().Str("address", address).Msg("establishing SSH connection")

	connChan := make(chan *ssh.Client, 1)
	errChan := make(chan error, 1)

	go func() {
		client, err := ssh.Dial("tcp", address, clientConfig)
		if err != nil {
			errChan <- err
			return
		}
		connChan <- client
	}()

	select {
	case <-ctx.Done():
		return &TransportError{
			Op:          "connect",
			Err:         ctx.Err(),
			IsTemporary: true,
			IsTimeout:   true,
			ExitCode:    -1,
		}
	case err := <-errChan:
		return classifyDialError(err)
	case client := <-connChan:
		c.client = client
		c.isConnected = true
		c.connectedAt = time.Now()
		c.lastUsedAt = time.Now()

		log.Info().Str("address", address).Msg("SSH connection established")
		return nil
	}
}

// classifyDialError splits dial failures into transient (timeout, refused,
// banner trouble) and fatal (authentication, host key) classes.
func classifyDialError(err error) error {
	msg := err.Error()
	authRelated := containsAny(msg,
		"unable to authenticate",
		"no supported methods remain",
		"host key mismatch",
		"key is unknown",
		"knownhosts:")

	return &TransportError{
		Op:          "connect",
		Err:         err,
		IsTemporary: !authRelated,
		IsAuthError: authRelated,
		ExitCode:    -1,
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Disconnect closes the SSH connection and releases all resources.
func (c *Client) Disconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if !c.isConnected || c.client == nil {
		return nil
	}

	log.Debug().Str("host", c.config.Host).Msg("closing SSH connection")

	err := c.client.Close()
	c.client = nil
	c.isConnected = false

	if err != nil {
		return &TransportError{Op: "disconnect", Err: err, ExitCode: -1}
	}

	return nil
}

// IsConnected returns true if the transport has an active connection.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.isConnected
}

// HealthCheck verifies the connection is still alive and responsive.
func (c *Client) HealthCheck(ctx context.Context) error {
	c.connMu.RLock()
	defer c.connMu.RUnlock()

	if !c.isConnected || c.client == nil {
		return &TransportError{
			Op:       "healthcheck",
			Err:      fmt.Errorf("not connected"),
			ExitCode: -1,
		}
	}

	return c.healthCheckInternal()
}

// healthCheckInternal performs the actual health check (lock held).
func (c *Client) healthCheckInternal() error {
	session, err := c.client.NewSession()
	if err != nil {
		return &TransportError{
			Op:          "healthcheck",
			Err:         err,
			IsTemporary: true,
			ExitCode:    -1,
		}
	}
	defer session.Close()

	if err := session.Run("true"); err != nil {
		return &TransportError{
			Op:          "healthcheck",
			Err:         err,
			IsTemporary: true,
			ExitCode:    -1,
		}
	}

	return nil
}

// getClient returns the underlying SSH client (used by executor and file
// transfer).
func (c *Client) getClient() (*ssh.Client, error) {
	c.connMu.RLock()
	defer c.connMu.RUnlock()

	if !c.isConnected || c.client == nil {
		return nil, &TransportError{
			Op:       "get-client",
			Err:      fmt.Errorf("not connected"),
			ExitCode: -1,
		}
	}

	c.lastUsedAt = time.Now()
	return c.client, nil
}
