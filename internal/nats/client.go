// Package nats connects to the NATS server that backs the persistent outbox.
package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/campus-assistant/internal/config"
	"github.com/capitalize-ai/campus-assistant/pkg/logger"
)

const (
	defaultConnectTimeout = 5 * time.Second
	defaultDrainTimeout   = 10 * time.Second
)

// ErrNotConnected is returned by Healthy while the connection is down.
var ErrNotConnected = errors.New("nats: not connected")

// Config holds NATS connection configuration.
type Config struct {
	URL string
	// Role names the connection on the server, e.g. "campus-chat".
	Role           string
	CAFile         string
	CertFile       string
	KeyFile        string
	Token          string
	ConnectTimeout time.Duration
	// DrainTimeout bounds Close. In-flight outbox acks are flushed within it.
	DrainTimeout time.Duration
}

// ConfigFrom builds the connection settings of role from cfg.
func ConfigFrom(cfg *config.Config, role string) Config {
	return Config{
		URL:          cfg.NATSURL,
		Role:         role,
		CAFile:       cfg.NATSCAFile,
		CertFile:     cfg.NATSCertFile,
		KeyFile:      cfg.NATSKeyFile,
		Token:        cfg.NATSToken,
		DrainTimeout: cfg.NATSDrainTimeout,
	}
}

func (c Config) withDefaults() Config {
	if c.Role == "" {
		c.Role = "campus-assistant"
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = defaultDrainTimeout
	}
	return c
}

func (c Config) validate() error {
	if c.URL == "" {
		return errors.New("nats: URL is required")
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return errors.New("nats: client certificate and key must be set together")
	}
	return nil
}

// Client wraps NATS connection and JetStream context.
type Client struct {
	conn         *nats.Conn
	js           jetstream.JetStream
	closed       chan struct{}
	drainTimeout time.Duration
	logger       *logger.Logger
}

// Connect dials the server. Reconnects are unbounded; publishes made while
// disconnected are buffered.
func Connect(ctx context.Context, cfg Config, log *logger.Logger) (*Client, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log = logger.OrNop(log).Named("nats").With(zap.String("role", cfg.Role))

	c := &Client{
		closed:       make(chan struct{}),
		drainTimeout: cfg.DrainTimeout,
		logger:       log,
	}

	timeout := cfg.ConnectTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}

	opts := []nats.Option{
		nats.Name(cfg.Role),
		nats.Timeout(timeout),
		nats.DrainTimeout(cfg.DrainTimeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.ReconnectBufSize(8 * 1024 * 1024),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error("NATS error", zap.Error(err))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			close(c.closed)
		}),
	}
	if cfg.CAFile != "" {
		opts = append(opts, nats.RootCAs(cfg.CAFile))
	}
	if cfg.CertFile != "" {
		opts = append(opts, nats.ClientCert(cfg.CertFile, cfg.KeyFile))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	c.conn = nc
	c.js = js

	log.Info("connected to NATS", zap.String("url", nc.ConnectedUrl()))
	return c, nil
}

// JetStream returns the JetStream context.
func (c *Client) JetStream() jetstream.JetStream {
	return c.js
}

// Healthy reports whether the connection is up. It fits readiness checks.
func (c *Client) Healthy() error {
	if c.conn == nil || !c.conn.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Close drains the connection and waits until it is closed or the drain
// timeout passes.
func (c *Client) Close() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Drain(); err != nil {
		c.logger.Warn("NATS drain failed", zap.Error(err))
		c.conn.Close()
	}
	select {
	case <-c.closed:
	case <-time.After(c.drainTimeout + time.Second):
		c.logger.Warn("NATS drain timed out")
		c.conn.Close()
	}
}
