package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/scrapecore/internal/logging"
)

func newTestRemote(t *testing.T) *RemoteClient {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := NewRemoteClient(RemoteConfig{
		Endpoints:           []string{mr.Addr()},
		HealthCheckInterval: time.Hour,
		DialTimeout:         time.Second,
	}, logging.NewNop(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })
	return rc
}

type cachedValue struct {
	Text string `json:"text"`
}

func TestManagerSetGetRoundTrip(t *testing.T) {
	remote := newTestRemote(t)
	mgr := NewManager(DefaultManagerConfig(), remote, logging.NewNop(), nil)
	ctx := context.Background()

	require.NoError(t, mgr.Set(ctx, "pages", "key1", cachedValue{Text: "hello"}, time.Minute))

	var out cachedValue
	found, err := mgr.Get(ctx, "pages", "key1", &out)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "hello", out.Text)
}

func TestManagerGetFallsBackToRemoteAndRepopulatesLocal(t *testing.T) {
	remote := newTestRemote(t)
	mgr := NewManager(DefaultManagerConfig(), remote, logging.NewNop(), nil)
	ctx := context.Background()

	// Write directly through remote, bypassing the local tier.
	raw, err := marshalValue(cachedValue{Text: "remote-only"}, mgr.cfg.CompressionThreshold)
	require.NoError(t, err)
	require.NoError(t, remote.Set(ctx, mgr.key("pages", "key2"), raw, time.Minute))

	var out cachedValue
	found, err := mgr.Get(ctx, "pages", "key2", &out)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "remote-only", out.Text)

	// Second read should now be served from local without touching remote.
	_, localOK := mgr.local.Get(mgr.key("pages", "key2"))
	require.True(t, localOK)
}

func TestManagerCompressesLargeValues(t *testing.T) {
	remote := newTestRemote(t)
	cfg := DefaultManagerConfig()
	cfg.CompressionThreshold = 10
	mgr := NewManager(cfg, remote, logging.NewNop(), nil)
	ctx := context.Background()

	big := cachedValue{Text: strings.Repeat("x", 500)}
	require.NoError(t, mgr.Set(ctx, "pages", "key3", big, time.Minute))

	raw, ok := mgr.local.Get(mgr.key("pages", "key3"))
	require.True(t, ok)
	require.True(t, strings.HasPrefix(string(raw), compressedPrefix))

	var out cachedValue
	found, err := mgr.Get(ctx, "pages", "key3", &out)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, big.Text, out.Text)
}

func TestManagerInvalidatePrefix(t *testing.T) {
	remote := newTestRemote(t)
	mgr := NewManager(DefaultManagerConfig(), remote, logging.NewNop(), nil)
	ctx := context.Background()

	require.NoError(t, mgr.Set(ctx, "pages", "a", cachedValue{Text: "a"}, time.Minute))
	require.NoError(t, mgr.Set(ctx, "pages", "b", cachedValue{Text: "b"}, time.Minute))

	require.NoError(t, mgr.InvalidatePrefix(ctx, "pages"))

	var out cachedValue
	found, err := mgr.Get(ctx, "pages", "a", &out)
	require.NoError(t, err)
	require.False(t, found)
}
