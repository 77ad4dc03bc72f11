package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/scrapecore/internal/logging"
	"github.com/jonesrussell/scrapecore/internal/metrics"
	"github.com/jonesrussell/scrapecore/internal/retryutil"
)

// ErrNoHealthyEndpoint is returned when every candidate endpoint fails its
// health check.
var ErrNoHealthyEndpoint = errors.New("no healthy remote cache endpoint available")

// RemoteConfig configures the pooled remote KV client.
type RemoteConfig struct {
	// Endpoints lists candidate Redis addresses in priority order. The
	// client fails over to the next endpoint when the current one's
	// periodic health check fails.
	Endpoints []string
	Password  string
	DB        int

	HealthCheckInterval time.Duration
	DialTimeout         time.Duration
}

// DefaultRemoteConfig returns sane pooling/health-check defaults.
func DefaultRemoteConfig(endpoints ...string) RemoteConfig {
	return RemoteConfig{
		Endpoints:           endpoints,
		HealthCheckInterval: 10 * time.Second,
		DialTimeout:         5 * time.Second,
	}
}

// RemoteClient is a pooled go-redis client with health-checked failover
// across candidate endpoints.
type RemoteClient struct {
	cfg    RemoteConfig
	log    logging.Logger
	m      *metrics.Metrics
	client *redis.Client

	activeIdx int
	stopCh    chan struct{}
}

// NewRemoteClient connects to the first healthy endpoint in cfg.Endpoints
// and starts the background health-check monitor. m may be nil, in which
// case connection/error counters are not recorded.
func NewRemoteClient(cfg RemoteConfig, log logging.Logger, m *metrics.Metrics) (*RemoteClient, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("at least one remote cache endpoint is required")
	}
	if cfg.HealthCheckInterval == 0 {
		cfg.HealthCheckInterval = 10 * time.Second
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if log == nil {
		log = logging.NewNop()
	}

	rc := &RemoteClient{cfg: cfg, log: log, m: m, stopCh: make(chan struct{})}

	for idx, addr := range cfg.Endpoints {
		client := newRedisClient(addr, cfg)
		ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
		err := client.Ping(ctx).Err()
		cancel()
		if err == nil {
			rc.client = client
			rc.activeIdx = idx
			rc.recordConnOpened()
			go rc.monitorHealth()
			return rc, nil
		}
		_ = client.Close()
		log.Warn("remote cache endpoint unhealthy at startup", logging.String("address", addr), logging.Error(err))
	}

	return nil, ErrNoHealthyEndpoint
}

func newRedisClient(addr string, cfg RemoteConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// monitorHealth periodically pings the active client and fails over to the
// next candidate endpoint when the ping fails.
func (rc *RemoteClient) monitorHealth() {
	ticker := time.NewTicker(rc.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rc.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), rc.cfg.DialTimeout)
			err := rc.client.Ping(ctx).Err()
			cancel()
			if err == nil {
				continue
			}

			rc.log.Warn("remote cache health check failed, attempting failover", logging.Error(err))
			rc.failover()
		}
	}
}

func (rc *RemoteClient) failover() {
	n := len(rc.cfg.Endpoints)
	for attempt := 1; attempt <= n; attempt++ {
		nextIdx := (rc.activeIdx + attempt) % n
		addr := rc.cfg.Endpoints[nextIdx]
		candidate := newRedisClient(addr, rc.cfg)

		ctx, cancel := context.WithTimeout(context.Background(), rc.cfg.DialTimeout)
		err := candidate.Ping(ctx).Err()
		cancel()
		if err == nil {
			old := rc.client
			rc.client = candidate
			rc.activeIdx = nextIdx
			_ = old.Close()
			rc.recordConnClosed()
			rc.recordConnOpened()
			rc.log.Info("remote cache failed over", logging.String("address", addr))
			return
		}
		_ = candidate.Close()
	}
	rc.recordError("failover")
	rc.log.Error("remote cache failover exhausted all endpoints")
}

func (rc *RemoteClient) recordConnOpened() {
	if rc.m != nil {
		rc.m.RemoteConnOpened.Inc()
	}
}

func (rc *RemoteClient) recordConnClosed() {
	if rc.m != nil {
		rc.m.RemoteConnClosed.Inc()
	}
}

func (rc *RemoteClient) recordError(op string) {
	if rc.m != nil {
		rc.m.RemoteErrors.WithLabelValues(op).Inc()
	}
}

// Get fetches the raw bytes stored under key. Misses return redis.Nil.
func (rc *RemoteClient) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := rc.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			rc.recordError("get")
		}
		return nil, err
	}
	return val, nil
}

// Set stores data under key with ttl, retrying once with backoff on
// transient errors before giving up (the manager treats a final error as a
// cache-unavailable condition, not a request failure).
func (rc *RemoteClient) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	cfg := retryutil.Config{
		MaxAttempts:  2,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     500 * time.Millisecond,
		Multiplier:   2,
		IsRetryable:  retryutil.DefaultIsRetryable,
	}
	err := retryutil.Retry(ctx, cfg, func() error {
		return rc.client.Set(ctx, key, data, ttl).Err()
	})
	if err != nil {
		rc.recordError("set")
	}
	return err
}

// Delete removes key.
func (rc *RemoteClient) Delete(ctx context.Context, key string) error {
	if err := rc.client.Del(ctx, key).Err(); err != nil {
		rc.recordError("delete")
		return err
	}
	return nil
}

// DeletePrefix scans for and removes every key with the given prefix,
// using SCAN rather than KEYS to avoid blocking the server on large keyspaces.
func (rc *RemoteClient) DeletePrefix(ctx context.Context, prefix string) error {
	var cursor uint64
	pattern := prefix + "*"

	for {
		keys, nextCursor, err := rc.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			rc.recordError("delete_prefix")
			return fmt.Errorf("scan failed: %w", err)
		}
		if len(keys) > 0 {
			if err := rc.client.Del(ctx, keys...).Err(); err != nil {
				rc.recordError("delete_prefix")
				return fmt.Errorf("delete scanned keys failed: %w", err)
			}
		}
		cursor = nextCursor
		if cursor == 0 {
			return nil
		}
	}
}

// PoolStats reports the underlying connection pool's current stats, also
// updating the pool-available gauge.
func (rc *RemoteClient) PoolStats() *redis.PoolStats {
	stats := rc.client.PoolStats()
	if rc.m != nil {
		rc.m.RemotePoolAvail.Set(float64(stats.IdleConns))
	}
	return stats
}

// Close stops the health monitor and closes the active connection.
func (rc *RemoteClient) Close() error {
	close(rc.stopCh)
	rc.recordConnClosed()
	return rc.client.Close()
}
