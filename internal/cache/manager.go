package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/jonesrussell/scrapecore/internal/logging"
	"github.com/jonesrussell/scrapecore/internal/metrics"
)

const (
	compressedPrefix   = "gzip:"
	uncompressedPrefix = "raw:"
)

// ManagerConfig configures the two-tier Manager.
type ManagerConfig struct {
	KeyPrefix             string
	DefaultTTL            time.Duration
	LocalTTL              time.Duration
	LocalMaxSizeBytes     int
	CompressionThreshold  int
	HitRatioRefreshPeriod time.Duration
}

// DefaultManagerConfig mirrors the documented defaults: 1h remote TTL, 5m
// local TTL, 100MB local cache, compress values over 1KB.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		KeyPrefix:             "scrapecore:cache:",
		DefaultTTL:            time.Hour,
		LocalTTL:              5 * time.Minute,
		LocalMaxSizeBytes:     100 * 1024 * 1024,
		CompressionThreshold:  1024,
		HitRatioRefreshPeriod: 30 * time.Second,
	}
}

// Manager is the multi-tier cache: an in-process LocalCache fronting a
// RemoteClient, with JSON serialization, above-threshold gzip compression,
// key namespacing, and hit-ratio observability.
type Manager struct {
	cfg    ManagerConfig
	local  *LocalCache
	remote *RemoteClient
	log    logging.Logger
	m      *metrics.Metrics

	ratioMu sync.Mutex
	hits    map[string]int64
	misses  map[string]int64
	stopCh  chan struct{}
}

// NewManager wires a LocalCache and RemoteClient into a two-tier Manager
// and starts the periodic hit-ratio recomputation.
func NewManager(cfg ManagerConfig, remote *RemoteClient, log logging.Logger, m *metrics.Metrics) *Manager {
	if cfg.LocalMaxSizeBytes == 0 {
		cfg = DefaultManagerConfig()
	}
	if log == nil {
		log = logging.NewNop()
	}

	mgr := &Manager{
		cfg:    cfg,
		local:  NewLocalCache(cfg.LocalMaxSizeBytes),
		remote: remote,
		log:    log,
		m:      m,
		hits:   map[string]int64{"local": 0, "remote": 0},
		misses: map[string]int64{"local": 0, "remote": 0},
		stopCh: make(chan struct{}),
	}
	if m != nil {
		go mgr.runHitRatioLoop()
	}
	return mgr
}

func (mgr *Manager) key(prefix, key string) string {
	if prefix == "" {
		return mgr.cfg.KeyPrefix + key
	}
	return mgr.cfg.KeyPrefix + prefix + ":" + key
}

// Get attempts the local tier first, then the remote tier (populating the
// local tier on a remote hit), per the read-through policy.
func (mgr *Manager) Get(ctx context.Context, prefix, key string, dest any) (bool, error) {
	fullKey := mgr.key(prefix, key)

	if data, ok := mgr.local.Get(fullKey); ok {
		mgr.recordHit("local", prefix)
		return true, unmarshalValue(data, dest)
	}
	mgr.recordMiss("local", prefix)

	if mgr.remote == nil {
		return false, nil
	}

	start := time.Now()
	raw, err := mgr.remote.Get(ctx, fullKey)
	mgr.observeLatency("remote", "get", start)
	if err != nil {
		mgr.recordMiss("remote", prefix)
		return false, nil //nolint:nilerr
	}
	mgr.recordHit("remote", prefix)

	mgr.local.Set(fullKey, raw, mgr.cfg.LocalTTL)
	return true, unmarshalValue(raw, dest)
}

// Set writes through both tiers. A remote write failure is logged but does
// not fail the call: the local tier still serves subsequent reads.
func (mgr *Manager) Set(ctx context.Context, prefix, key string, value any, ttl time.Duration) error {
	if ttl == 0 {
		ttl = mgr.cfg.DefaultTTL
	}
	fullKey := mgr.key(prefix, key)

	raw, err := marshalValue(value, mgr.cfg.CompressionThreshold)
	if err != nil {
		return fmt.Errorf("serialize cache value: %w", err)
	}

	localTTL := ttl
	if localTTL > mgr.cfg.LocalTTL {
		localTTL = mgr.cfg.LocalTTL
	}
	mgr.local.Set(fullKey, raw, localTTL)

	if mgr.remote == nil {
		return nil
	}

	start := time.Now()
	err = mgr.remote.Set(ctx, fullKey, raw, ttl)
	mgr.observeLatency("remote", "set", start)
	if err != nil {
		mgr.log.Warn("remote cache set failed, value only cached locally",
			logging.String("key", fullKey), logging.Error(err))
	}
	return nil
}

// Delete removes key from both tiers.
func (mgr *Manager) Delete(ctx context.Context, prefix, key string) error {
	fullKey := mgr.key(prefix, key)
	mgr.local.Delete(fullKey)
	if mgr.remote == nil {
		return nil
	}
	return mgr.remote.Delete(ctx, fullKey)
}

// InvalidatePrefix removes every key under prefix from both tiers.
func (mgr *Manager) InvalidatePrefix(ctx context.Context, prefix string) error {
	fullPrefix := mgr.cfg.KeyPrefix + prefix + ":"
	mgr.local.DeletePrefix(fullPrefix)
	if mgr.remote == nil {
		return nil
	}
	return mgr.remote.DeletePrefix(ctx, fullPrefix)
}

func (mgr *Manager) recordHit(tier, prefix string) {
	mgr.ratioMu.Lock()
	mgr.hits[tier]++
	mgr.ratioMu.Unlock()
	if mgr.m != nil {
		mgr.m.CacheHitsTotal.WithLabelValues(tier, prefix).Inc()
	}
}

func (mgr *Manager) recordMiss(tier, prefix string) {
	mgr.ratioMu.Lock()
	mgr.misses[tier]++
	mgr.ratioMu.Unlock()
	if mgr.m != nil {
		mgr.m.CacheMissesTotal.WithLabelValues(tier, prefix).Inc()
	}
}

func (mgr *Manager) observeLatency(tier, op string, start time.Time) {
	if mgr.m != nil {
		mgr.m.CacheTierLatency.WithLabelValues(tier, op).Observe(time.Since(start).Seconds())
	}
}

func (mgr *Manager) runHitRatioLoop() {
	period := mgr.cfg.HitRatioRefreshPeriod
	if period == 0 {
		period = 30 * time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-mgr.stopCh:
			return
		case <-ticker.C:
			mgr.ratioMu.Lock()
			snapshot := make(map[string][2]int64, len(mgr.hits))
			for _, tier := range []string{"local", "remote"} {
				snapshot[tier] = [2]int64{mgr.hits[tier], mgr.misses[tier]}
			}
			mgr.ratioMu.Unlock()

			for tier, counts := range snapshot {
				hits, misses := counts[0], counts[1]
				total := hits + misses
				if total == 0 {
					continue
				}
				ratio := float64(hits) / float64(total)
				mgr.m.CacheHitRatio.WithLabelValues(tier).Set(ratio)
			}
		}
	}
}

// Close stops the hit-ratio loop.
func (mgr *Manager) Close() {
	close(mgr.stopCh)
}

func marshalValue(value any, compressionThreshold int) ([]byte, error) {
	serialized, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}

	if len(serialized) <= compressionThreshold {
		return append([]byte(uncompressedPrefix), serialized...), nil
	}

	var buf bytes.Buffer
	buf.WriteString(compressedPrefix)
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(serialized); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unmarshalValue(raw []byte, dest any) error {
	switch {
	case bytes.HasPrefix(raw, []byte(compressedPrefix)):
		gz, err := gzip.NewReader(bytes.NewReader(raw[len(compressedPrefix):]))
		if err != nil {
			return fmt.Errorf("open gzip reader: %w", err)
		}
		defer gz.Close()

		var out bytes.Buffer
		if _, err := out.ReadFrom(gz); err != nil {
			return fmt.Errorf("decompress cache value: %w", err)
		}
		return json.Unmarshal(out.Bytes(), dest)
	case bytes.HasPrefix(raw, []byte(uncompressedPrefix)):
		return json.Unmarshal(raw[len(uncompressedPrefix):], dest)
	default:
		return errors.New("cache value missing compression tag prefix")
	}
}
