package statsd

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientLine(t *testing.T) {
	c := &Client{prefix: "triton", tags: map[string]string{"env": "test", "service": "worker"}}

	tests := []struct {
		name  string
		got   string
		wantL string
	}{
		{
			name:  "count with tags",
			got:   c.line("jobs.completed", "1", "c", map[string]string{"kind": "derive-artifact"}),
			wantL: "triton.jobs.completed:1|c|#env:test,kind:derive-artifact,service:worker",
		},
		{
			name:  "local tag overrides global",
			got:   c.line("jobs.failed", "2", "c", map[string]string{" env ": " prod "}),
			wantL: "triton.jobs.failed:2|c|#env:prod,service:worker",
		},
		{
			name:  "name is normalised",
			got:   c.line(" step/duration..ms. ", "12.5", "ms", nil),
			wantL: "triton.step_duration.ms:12.5|ms|#env:test,service:worker",
		},
		{
			name:  "empty name drops the line",
			got:   c.line("  ", "1", "c", nil),
			wantL: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantL, tt.got)
		})
	}
}

func TestMetricNameWithoutPrefix(t *testing.T) {
	assert.Equal(t, "queue.depth", metricName("", "queue.depth"))
	assert.Equal(t, "a_b", metricName("", "a b"))
}

func TestCloneTagsDropsEmptyKeys(t *testing.T) {
	original := map[string]string{" kind ": " derive ", " ": "x"}
	cloned := cloneTags(original)
	assert.Equal(t, map[string]string{"kind": "derive"}, cloned)

	cloned["kind"] = "changed"
	assert.Equal(t, " derive ", original[" kind "])
}

func TestClientSendsDatagrams(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })

	client, err := NewClient(Config{Enabled: true, Address: pc.LocalAddr().String(), Prefix: ".triton."})
	require.NoError(t, err)
	require.True(t, client.Enabled())

	client.Timing("step.duration", 1500*time.Microsecond, map[string]string{"step": "extract"})

	require.NoError(t, pc.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 512)
	n, _, err := pc.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "triton.step.duration:1.5|ms|#step:extract", string(buf[:n]))

	require.NoError(t, client.Close())
	assert.False(t, client.Enabled())
	assert.NoError(t, client.Close())
	client.Count("after.close", 1, nil)
}

func TestNewClientDisabled(t *testing.T) {
	for _, cfg := range []Config{
		{Enabled: false, Address: "127.0.0.1:8125"},
		{Enabled: true, Address: "  "},
	} {
		client, err := NewClient(cfg)
		require.NoError(t, err)
		assert.False(t, client.Enabled())
		client.Gauge("noop", 1, nil)
	}
}

func TestNewClientDialError(t *testing.T) {
	_, err := NewClient(Config{Enabled: true, Address: "not-a-host-port"})
	require.Error(t, err)
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	c.Count("x", 1, nil)
	assert.False(t, c.Enabled())
	assert.NoError(t, c.Close())
}
