package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/usersync/internal/cache"
	"github.com/roach88/usersync/internal/containment"
	"github.com/roach88/usersync/internal/optimistic"
	"github.com/roach88/usersync/internal/transition"
)

func TestRecorder_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)

	r.Hit()
	r.Hit()
	r.Miss()
	r.Eviction(cache.ReasonMemory)
	r.Broadcast(3)
	r.Delivered()
	r.SubscriberFailure()
	r.Optimistic(optimistic.RolledBack)
	r.Error(containment.KindRefresh)
	r.Transition(transition.Login)
	r.Refresh(false, 20*time.Millisecond)

	assert.Equal(t, 2.0, promtest.ToFloat64(r.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, promtest.ToFloat64(r.cacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, promtest.ToFloat64(r.cacheEvictions.WithLabelValues(string(cache.ReasonMemory))))
	assert.Equal(t, 1.0, promtest.ToFloat64(r.broadcasts))
	assert.Equal(t, 1.0, promtest.ToFloat64(r.deliveries))
	assert.Equal(t, 1.0, promtest.ToFloat64(r.subscriberErrors))
	assert.Equal(t, 1.0, promtest.ToFloat64(r.optimistic.WithLabelValues(string(optimistic.RolledBack))))
	assert.Equal(t, 1.0, promtest.ToFloat64(r.errors.WithLabelValues("refresh")))
	assert.Equal(t, 1.0, promtest.ToFloat64(r.transitions.WithLabelValues("login")))
	assert.Equal(t, 1.0, promtest.ToFloat64(r.refreshes.WithLabelValues("error")))
}

func TestRecorder_Gauges(t *testing.T) {
	r := NewRecorder(prometheus.NewRegistry())

	r.Breaker(true)
	assert.Equal(t, 1.0, promtest.ToFloat64(r.breakerOpen))
	r.Breaker(false)
	assert.Equal(t, 0.0, promtest.ToFloat64(r.breakerOpen))
	assert.Equal(t, 1.0, promtest.ToFloat64(r.breakerTrips))

	r.Recovery(true)
	r.Recovery(false)
	r.Recovery(true)
	assert.Equal(t, 1.0, promtest.ToFloat64(r.recoveryActive))
	assert.Equal(t, 2.0, promtest.ToFloat64(r.recoveryEntries))
}

func TestRecorder_RegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewRecorder(reg)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["usersync_broadcast_subscribers"])
	assert.True(t, names["usersync_refresh_duration_seconds"])

	// A second recorder on a fresh registry must not collide.
	assert.NotPanics(t, func() { NewRecorder(prometheus.NewRegistry()) })
}

func TestNoop_SatisfiesObserver(t *testing.T) {
	var o Observer = Noop{}
	assert.NotPanics(t, func() {
		o.Hit()
		o.Broadcast(1)
		o.Optimistic(optimistic.Begun)
		o.Error(containment.KindCritical)
		o.Refresh(true, time.Millisecond)
	})
}
