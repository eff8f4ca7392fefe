package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/market-feed/internal/cache"
	"github.com/Rajchodisetti/market-feed/internal/registry"
)

const minimal = `
providers:
  - id: av
    kind: alphavantage
    capabilities: [equities-quotes]
    requests_per_minute: 5
`

func TestParseDefaults(t *testing.T) {
	c, err := Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, ":8090", c.Service.ListenAddr)
	assert.Equal(t, "json", c.Service.LogFormat)
	assert.Equal(t, 30000, c.Admission.MaxWaitMs)
	assert.Equal(t, 0.8, c.Admission.ApproachingRatio)
	assert.Equal(t, 1.25, c.Admission.SlowdownFactor)
	assert.Equal(t, "static", c.Discovery.Source)
	assert.Equal(t, 5, c.Prefetch.BatchSize)

	profiles, err := c.Profiles()
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	p := profiles[0]
	assert.Equal(t, registry.PriorityMedium, p.Priority)
	assert.Equal(t, 3, p.RetryAttempts)
	assert.Equal(t, time.Second, p.RetryDelay)
	assert.Equal(t, 10*time.Second, p.Timeout)
	assert.Equal(t, []registry.Capability{registry.CapEquitiesQuotes}, p.Capabilities)
}

func TestValidateCollectsErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no providers", `admission: {max_wait_ms: 1}`, "at least one provider"},
		{"bad priority", `providers: [{id: a, priority: urgent, capabilities: [x]}]`, "unknown priority"},
		{"no capabilities", `providers: [{id: a}]`, "no capabilities"},
		{"duplicate", `providers: [{id: a, capabilities: [x]}, {id: a, capabilities: [x]}]`, "defined twice"},
		{"bad ttl category", minimal + "cache: {ttls: {bonds: {live_seconds: 5}}}", `unknown category "bonds"`},
		{"bad source", minimal + "discovery: {source: etcd}", "discovery.source"},
		{"bad ratio", minimal + "admission: {approaching_ratio: 1.5}", "approaching_ratio"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadSampleConfig(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "configs", "feed.yaml"))
	require.NoError(t, err)

	profiles, err := c.Profiles()
	require.NoError(t, err)
	assert.Len(t, profiles, 4)
	_, err = registry.New(profiles)
	require.NoError(t, err)

	fc := c.FeedConfig()
	assert.True(t, fc.PrefetchEnabled)
	assert.Equal(t, 30*time.Second, fc.Admission.MaxWait)
	assert.Equal(t, 30*time.Second, fc.Cache.TTLs[cache.Crypto].Live)
	assert.Equal(t, 12*time.Second, fc.Prefetch.BatchDelay[cache.Stocks])
	assert.Equal(t, registry.CapForexQuotes, fc.Capabilities[cache.Commodities])
	assert.Contains(t, fc.Prefetch.Categories, cache.ETF)

	opts := c.AdapterOptions()
	require.Len(t, opts, 4)
	assert.Equal(t, "coingecko", opts[2].Kind)
	assert.True(t, opts[2].APIKeyOptional)
	assert.Equal(t, 5*time.Second, opts[2].Timeout)

	static := c.StaticCandidates()
	assert.Len(t, static["stocks"], 3)
	assert.True(t, static["stocks"][0].HasData())
	assert.False(t, static["stocks"][2].HasData())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
