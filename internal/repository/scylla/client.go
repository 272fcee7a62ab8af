package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"attendance-service/internal/config"
	"attendance-service/internal/util"
)

// casRetries bounds optimistic read-then-conditional-write loops.
const casRetries = 8

type Client struct {
	Session *gocql.Session
	config  *config.ScyllaConfig
}

func newCluster(cfg *config.Config, keyspace string) *gocql.ClusterConfig {
	sc := cfg.Scylla

	cluster := gocql.NewCluster(sc.Nodes...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.MaxRoutingKeyInfo = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
		NumRetries: 3,
	}

	if sc.CAPath != "" {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 sc.CAPath,
			CertPath:               sc.CertPath,
			KeyPath:                sc.KeyPath,
			EnableHostVerification: !cfg.IsDevelopment(),
		}
	}

	if sc.Username != "" && sc.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: sc.Username,
			Password: sc.Password,
		}
	}
	return cluster
}

// NewClient connects to the configured keyspace, creating it and the tables
// first when SCYLLA_AUTO_MIGRATE is set.
func NewClient(ctx context.Context, cfg *config.Config) (*Client, error) {
	sc := cfg.Scylla

	if sc.AutoMigrate {
		if err := migrate(ctx, cfg); err != nil {
			return nil, err
		}
	}

	session, err := newCluster(cfg, sc.Keyspace).CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	util.Info("ScyllaDB client initialized",
		zap.Strings("nodes", sc.Nodes),
		zap.String("keyspace", sc.Keyspace),
		zap.Bool("auto_migrate", sc.AutoMigrate))

	return &Client{Session: session, config: &sc}, nil
}

func migrate(ctx context.Context, cfg *config.Config) error {
	session, err := newCluster(cfg, "").CreateSession()
	if err != nil {
		return fmt.Errorf("failed to create scylla bootstrap session: %w", err)
	}
	defer session.Close()

	for _, stmt := range schemaStatements(cfg.Scylla.Keyspace, cfg.IsDevelopment()) {
		if err := session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	util.Info("ScyllaDB schema applied", zap.String("keyspace", cfg.Scylla.Keyspace))
	return nil
}

func (c *Client) Close() {
	if c.Session != nil {
		c.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (c *Client) Query(ctx context.Context, stmt string, values ...interface{}) *gocql.Query {
	return c.Session.Query(stmt, values...).WithContext(ctx)
}

// Applied runs a lightweight transaction and reports whether it applied.
func (c *Client) Applied(ctx context.Context, stmt string, values ...interface{}) (bool, error) {
	return c.Query(ctx, stmt, values...).MapScanCAS(make(map[string]interface{}))
}

func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var clusterName string
	err := c.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

// ScanWithRetry retries transient read failures; gocql.ErrNotFound is returned immediately.
func (c *Client) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		err := query.Scan(dest...)
		if err == nil || err == gocql.ErrNotFound {
			return err
		}
		lastErr = err
		if i < 2 {
			time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
		}
	}
	return lastErr
}
