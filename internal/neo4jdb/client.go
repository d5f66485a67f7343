// Package neo4jdb owns the Neo4j driver lifecycle.
package neo4jdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docgraph/internal/logging"
)

// ErrMissingCredentials is returned when the URI or password is not configured.
var ErrMissingCredentials = errors.New("neo4j credentials missing")

// Config configures the driver.
type Config struct {
	URI            string
	User           string
	Password       string
	Database       string
	MaxPoolSize    int
	ConnectTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.User == "" {
		c.User = "neo4j"
	}
	if c.MaxPoolSize <= 0 {
		c.MaxPoolSize = 10
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
}

// Client wraps a driver bound to one database.
type Client struct {
	Driver   neo4j.DriverWithContext
	Database string
	log      *logging.Logger
}

// New creates the driver and verifies connectivity. An unreachable server
// is returned as an error so callers can abort before writing anything.
func New(ctx context.Context, cfg Config, log *logging.Logger) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("neo4jdb: logger required")
	}
	if cfg.URI == "" || cfg.Password == "" {
		return nil, fmt.Errorf("%w: uri and password are required", ErrMissingCredentials)
	}
	cfg.applyDefaults()

	auth := neo4j.BasicAuth(cfg.User, cfg.Password, "")
	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth, func(c *neo4j.Config) {
		c.MaxConnectionPoolSize = cfg.MaxPoolSize
		c.SocketConnectTimeout = cfg.ConnectTimeout
	})
	if err != nil {
		return nil, fmt.Errorf("neo4jdb: init driver: %w", err)
	}

	vctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4jdb: verify connectivity: %w", err)
	}

	log.Info(ctx, "neo4j connection established",
		zap.String("uri", cfg.URI),
		zap.String("database", cfg.Database),
	)
	return &Client{
		Driver:   driver,
		Database: cfg.Database,
		log:      log.Named("neo4j"),
	}, nil
}

// Write runs cypher in its own auto-commit transaction and returns every
// record as a map.
func (c *Client) Write(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	return c.run(ctx, neo4j.AccessModeWrite, cypher, params)
}

// Read runs a read-only query.
func (c *Client) Read(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	return c.run(ctx, neo4j.AccessModeRead, cypher, params)
}

func (c *Client) run(ctx context.Context, mode neo4j.AccessMode, cypher string, params map[string]any) ([]map[string]any, error) {
	if c == nil || c.Driver == nil {
		return nil, fmt.Errorf("neo4jdb: client closed")
	}
	session := c.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: c.Database,
	})
	defer session.Close(ctx)

	res, err := session.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	records, err := res.Collect(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]any, 0, len(records))
	for _, r := range records {
		rows = append(rows, r.AsMap())
	}
	return rows, nil
}

// Close closes the driver. It is safe to call more than once.
func (c *Client) Close(ctx context.Context) error {
	if c == nil || c.Driver == nil {
		return nil
	}
	err := c.Driver.Close(ctx)
	c.Driver = nil
	return err
}
