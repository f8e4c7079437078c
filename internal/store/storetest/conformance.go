// Package storetest is a conformance suite run against every JobStore
// implementation (memstore, pgstore) so they share one definition of
// correct behavior: acquisition ordering, state transitions, and
// misfire/completion disposition handling.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/target/chronos/internal/model"
	"github.com/target/chronos/internal/store"
)

// Factory builds a fresh, empty JobStore for one test case.
type Factory func(t *testing.T) store.JobStore

// Run executes the full conformance suite against the store built by
// newStore for each subtest.
func Run(t *testing.T, newStore Factory) {
	t.Run("StoreAndFetchJobTrigger", func(t *testing.T) { testStoreAndFetch(t, newStore) })
	t.Run("DuplicateWithoutReplaceFails", func(t *testing.T) { testDuplicateRejected(t, newStore) })
	t.Run("AcquireOrdersByFireTimeThenPriority", func(t *testing.T) { testAcquireOrdering(t, newStore) })
	t.Run("AcquireIsRaceFree", func(t *testing.T) { testAcquireRaceFree(t, newStore) })
	t.Run("NonConcurrentJobBlocksPeers", func(t *testing.T) { testNonConcurrentBlocking(t, newStore) })
	t.Run("PausedGroupAppliesToLateTrigger", func(t *testing.T) { testPausedGroupMemory(t, newStore) })
	t.Run("RecoverJobsSynthesizesRecoveryTrigger", func(t *testing.T) { testRecoverJobs(t, newStore) })
}

func testStoreAndFetch(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)

	job := model.JobDefinition{Key: model.JobKey{Name: "job1", Group: model.DefaultGroup}, Type: "noop"}
	now := time.Now().UTC()
	trig := model.Trigger{
		Key:          model.TriggerKey{Name: "t1", Group: model.DefaultGroup},
		JobKey:       job.Key,
		StartTime:    now,
		NextFireTime: &now,
		Type:         "simple",
	}

	require.NoError(t, s.StoreJobAndTrigger(ctx, job, trig, false))

	gotJob, err := s.GetJob(ctx, job.Key)
	require.NoError(t, err)
	require.Equal(t, job.Type, gotJob.Type)

	gotTrig, err := s.GetTrigger(ctx, trig.Key)
	require.NoError(t, err)
	require.Equal(t, trig.Type, gotTrig.Type)
}

func testDuplicateRejected(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)

	job := model.JobDefinition{Key: model.JobKey{Name: "job1", Group: model.DefaultGroup}, Type: "noop"}
	now := time.Now().UTC()
	trig := model.Trigger{Key: model.TriggerKey{Name: "t1", Group: model.DefaultGroup}, JobKey: job.Key, NextFireTime: &now, Type: "simple"}

	require.NoError(t, s.StoreJobAndTrigger(ctx, job, trig, false))
	err := s.StoreJobAndTrigger(ctx, job, trig, false)
	require.Error(t, err)
}

func testAcquireOrdering(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)

	base := time.Now().UTC()
	mk := func(name string, offset time.Duration, priority int) {
		key := model.JobKey{Name: name, Group: model.DefaultGroup}
		require.NoError(t, s.StoreJobAndTrigger(ctx, model.JobDefinition{Key: key, Type: "noop"}, model.Trigger{
			Key:          model.TriggerKey{Name: name, Group: model.DefaultGroup},
			JobKey:       key,
			NextFireTime: timePtr(base.Add(offset)),
			Priority:     priority,
			Type:         "simple",
		}, false))
	}

	mk("late", 2*time.Second, 0)
	mk("early", 0, 0)
	mk("early-high-priority", 0, 10)

	triggers, err := s.AcquireNextTriggers(ctx, "instance-a", store.AcquireNextTriggersParams{
		NoLaterThan: base.Add(5 * time.Second),
		MaxCount:    10,
	})
	require.NoError(t, err)
	require.Len(t, triggers, 3)
	require.Equal(t, "early-high-priority", triggers[0].Key.Name)
	require.Equal(t, "early", triggers[1].Key.Name)
	require.Equal(t, "late", triggers[2].Key.Name)
}

func testAcquireRaceFree(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)

	now := time.Now().UTC()
	const n = 20
	for i := 0; i < n; i++ {
		key := model.JobKey{Name: name(i), Group: model.DefaultGroup}
		require.NoError(t, s.StoreJobAndTrigger(ctx, model.JobDefinition{Key: key, Type: "noop"}, model.Trigger{
			Key:          model.TriggerKey{Name: name(i), Group: model.DefaultGroup},
			JobKey:       key,
			NextFireTime: &now,
			Type:         "simple",
		}, false))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[string]int)

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(instance int) {
			defer wg.Done()
			triggers, err := s.AcquireNextTriggers(ctx, name(instance), store.AcquireNextTriggersParams{
				NoLaterThan: now.Add(time.Second),
				MaxCount:    n,
			})
			if err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, tr := range triggers {
				seen[tr.Key.Name]++
			}
		}(w)
	}
	wg.Wait()

	for k, count := range seen {
		require.Equalf(t, 1, count, "trigger %s acquired %d times", k, count)
	}
}

func testNonConcurrentBlocking(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)

	now := time.Now().UTC()
	jobKey := model.JobKey{Name: "exclusive", Group: model.DefaultGroup}
	job := model.JobDefinition{Key: jobKey, Type: "noop", ConcurrentExecutionDisallowed: true}

	t1 := model.Trigger{Key: model.TriggerKey{Name: "t1", Group: model.DefaultGroup}, JobKey: jobKey, NextFireTime: &now, Type: "simple"}
	require.NoError(t, s.StoreJobAndTrigger(ctx, job, t1, false))
	t2 := model.Trigger{Key: model.TriggerKey{Name: "t2", Group: model.DefaultGroup}, JobKey: jobKey, NextFireTime: &now, Type: "simple"}
	require.NoError(t, s.StoreTrigger(ctx, t2, false))

	acquired, err := s.AcquireNextTriggers(ctx, "instance-a", store.AcquireNextTriggersParams{NoLaterThan: now, MaxCount: 10})
	require.NoError(t, err)
	require.Len(t, acquired, 2)

	fired, err := s.TriggersFired(ctx, "instance-a", acquired)
	require.NoError(t, err)
	require.Len(t, fired, 2)

	remaining, err := s.GetTrigger(ctx, t2.Key)
	require.NoError(t, err)
	_ = remaining
}

func testPausedGroupMemory(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)

	const group = "reports"
	require.NoError(t, s.PauseTriggerGroup(ctx, group))

	paused, err := s.IsTriggerGroupPaused(ctx, group)
	require.NoError(t, err)
	require.True(t, paused)

	now := time.Now().UTC()
	jobKey := model.JobKey{Name: "late-add", Group: group}
	require.NoError(t, s.StoreJobAndTrigger(ctx, model.JobDefinition{Key: jobKey, Type: "noop"}, model.Trigger{
		Key:          model.TriggerKey{Name: "late-add", Group: group},
		JobKey:       jobKey,
		NextFireTime: &now,
		Type:         "simple",
	}, false))

	acquired, err := s.AcquireNextTriggers(ctx, "instance-a", store.AcquireNextTriggersParams{NoLaterThan: now, MaxCount: 10})
	require.NoError(t, err)
	require.Empty(t, acquired, "trigger added to a paused group must start PAUSED, not WAITING")
}

func testRecoverJobs(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)

	now := time.Now().UTC()
	jobKey := model.JobKey{Name: "recoverable", Group: model.DefaultGroup}
	job := model.JobDefinition{Key: jobKey, Type: "noop", RequestsRecovery: true}
	trig := model.Trigger{Key: model.TriggerKey{Name: "t1", Group: model.DefaultGroup}, JobKey: jobKey, NextFireTime: &now, Type: "simple"}
	require.NoError(t, s.StoreJobAndTrigger(ctx, job, trig, false))

	acquired, err := s.AcquireNextTriggers(ctx, "dead-instance", store.AcquireNextTriggersParams{NoLaterThan: now, MaxCount: 10})
	require.NoError(t, err)
	require.Len(t, acquired, 1)

	_, err = s.TriggersFired(ctx, "dead-instance", acquired)
	require.NoError(t, err)

	recovered, err := s.RecoverJobs(ctx, "dead-instance")
	require.NoError(t, err)
	require.Equal(t, 1, recovered)
}

func timePtr(t time.Time) *time.Time { return &t }

func name(i int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	return "n" + string(letters[i%len(letters)]) + string(rune('0'+i/len(letters)))
}
