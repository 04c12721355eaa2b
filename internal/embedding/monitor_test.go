package embedding

import (
	"context"
	"testing"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_CheckWithoutActivePlugin(t *testing.T) {
	m := NewMonitor(NewRegistry(nil), "1m", nil)
	_, ok := m.Check(context.Background())
	assert.False(t, ok)
}

func TestMonitor_RecoveryTriggersCallback(t *testing.T) {
	ctx := context.Background()
	p := NewHashPlugin(8)
	r := NewRegistry(nil)
	require.NoError(t, r.Register(p))
	require.NoError(t, r.SetActive(ctx, HashPluginID))

	recovered := 0
	var observed []bool
	m := NewMonitor(r, "1m", func(context.Context) { recovered++ },
		WithHealthObserver(func(_ string, h models.PluginHealth) { observed = append(observed, h.Healthy) }))

	h, ok := m.Check(ctx)
	require.True(t, ok)
	assert.True(t, h.Healthy)
	assert.Equal(t, 0, recovered, "first probe is not a transition")

	p.SetReady(false)
	h, _ = m.Check(ctx)
	assert.False(t, h.Healthy)
	assert.NotEmpty(t, h.Resolution)
	assert.Equal(t, 0, recovered)

	p.SetReady(true)
	h, _ = m.Check(ctx)
	assert.True(t, h.Healthy)
	assert.Equal(t, 1, recovered)

	m.Check(ctx)
	assert.Equal(t, 1, recovered, "steady healthy state does not retrigger")
	assert.Equal(t, []bool{true, false, true, true}, observed)

	last, ok := m.Health(HashPluginID)
	require.True(t, ok)
	assert.True(t, last.Healthy)
}

func TestMonitor_PendingWorkTriggersCallbackWhileHealthy(t *testing.T) {
	ctx := context.Background()
	p := NewHashPlugin(8)
	r := NewRegistry(nil)
	require.NoError(t, r.Register(p))
	require.NoError(t, r.SetActive(ctx, HashPluginID))

	pending := true
	recovered := 0
	m := NewMonitor(r, "1m", func(context.Context) { recovered++; pending = false },
		WithPendingWork(func(context.Context) bool { return pending }))

	m.Check(ctx)
	assert.Equal(t, 1, recovered, "healthy probe with pending work retries")
	m.Check(ctx)
	assert.Equal(t, 1, recovered, "nothing pending, nothing to do")

	pending = true
	p.SetReady(false)
	m.Check(ctx)
	assert.Equal(t, 1, recovered, "unhealthy probe never retries")
}

func TestMonitor_SinceChangesOnTransitionOnly(t *testing.T) {
	ctx := context.Background()
	p := NewHashPlugin(8)
	first := p.HealthCheck(ctx)
	second := p.HealthCheck(ctx)
	assert.Equal(t, first.Since, second.Since)

	p.SetReady(false)
	third := p.HealthCheck(ctx)
	assert.False(t, third.Since.Before(first.Since))
	assert.False(t, third.Healthy)
}

func TestMonitor_StartStop(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil)
	require.NoError(t, r.Register(NewHashPlugin(8)))
	require.NoError(t, r.SetActive(ctx, HashPluginID))

	m := NewMonitor(r, "1h", nil)
	require.NoError(t, m.Start(ctx))
	_, ok := m.Health(HashPluginID)
	assert.True(t, ok, "Start runs an immediate probe")
	m.Stop()

	bad := NewMonitor(r, "not-a-duration", nil)
	assert.Error(t, bad.Start(ctx))
}
