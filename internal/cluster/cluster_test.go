package cluster_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/chronos/internal/clock"
	"github.com/target/chronos/internal/cluster"
	"github.com/target/chronos/internal/signal"
	"github.com/target/chronos/internal/store/memstore"
)

func TestManager_Tick_ChecksInAndRecoversFailedPeer(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFixed(now)
	st := memstore.New(clk)
	sig := signal.NewLocal(nil)

	// A peer that checked in long enough ago to be considered failed.
	require.NoError(t, st.CheckIn(ctx, "peer-1", 15*time.Second, now.Add(-time.Hour)))

	m := cluster.New(cluster.Options{
		Store:    st,
		Clock:    clk,
		Signaler: sig,
		Config: cluster.Config{
			InstanceID:      "self",
			CheckInInterval: 10 * time.Millisecond,
			ToleranceSkew:   15 * time.Second,
		},
	})

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- m.Run(runCtx) }()

	// Give the manager's first jittered tick a moment, then stop it.
	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	failed, err := st.FindFailedInstances(ctx, now, 15*time.Second)
	require.NoError(t, err)
	assert.Empty(t, failed, "recovered peer's liveness row should have been removed")
}
