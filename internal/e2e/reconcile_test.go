//go:build e2e

package e2e

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/logwire/internal/engine"
	"github.com/dusk-indust/logwire/internal/metrics"
	"github.com/dusk-indust/logwire/internal/reconcile"
	"github.com/dusk-indust/logwire/internal/source"
	"github.com/dusk-indust/logwire/internal/status"
	"github.com/dusk-indust/logwire/internal/tracker"
	"github.com/dusk-indust/logwire/internal/validate"
	"github.com/dusk-indust/logwire/internal/watch"
)

type memSink struct {
	mu   sync.Mutex
	msgs []string
}

func (s *memSink) Append(_ context.Context, rec engine.Record) error {
	s.mu.Lock()
	s.msgs = append(s.msgs, rec.Message)
	s.mu.Unlock()
	return nil
}

func (s *memSink) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.msgs...)
}

type harness struct {
	mgr  *reconcile.Manager
	reg  *prometheus.Registry
	home string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{reg: prometheus.NewRegistry(), home: t.TempDir()}
	eng := engine.New(engine.WithConsole(&syncBuffer{}))
	h.mgr = reconcile.New(
		reconcile.WithEngine(eng),
		reconcile.WithLogHome(h.home),
		reconcile.WithMetrics(metrics.New(h.reg)),
	)
	t.Cleanup(func() { _ = h.mgr.Close() })
	return h
}

type syncBuffer struct {
	mu sync.Mutex
	b  []byte
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.b = append(s.b, p...)
	return len(p), nil
}

// TestScenario_OwnershipConflict registers two category configs that claim
// the same file. The second is rejected, and records for the first keep
// landing in its file.
func TestScenario_OwnershipConflict(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.mgr.Start(ctx))

	require.NoError(t, h.mgr.PutCategoryConfig(ctx, "A", source.CategoryConfig{Names: []string{"app.a"}, Level: "DEBUG", File: "shared.log"}))
	err := h.mgr.PutCategoryConfig(ctx, "B", source.CategoryConfig{Names: []string{"app.b"}, File: "shared.log"})

	var cerr *validate.ConflictError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "A", cerr.Conflicts[0].OwnerID)

	require.NoError(t, h.mgr.Log(ctx, engine.Record{Category: "app.a", Level: engine.LevelDebug, Message: "from a"}))
	require.NoError(t, h.mgr.Log(ctx, engine.Record{Category: "app.b", Level: engine.LevelWarn, Message: "from b"}))

	data, err := os.ReadFile(filepath.Join(h.home, "shared.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "from a")
	assert.NotContains(t, string(data), "from b")
	assert.Equal(t, 1, h.mgr.Reporter().Count(status.PhaseConflict))
}

// TestScenario_WatchedFragmentReloads edits a fragment file on disk and
// waits for the watcher-driven rebuild to pick the change up, then breaks
// the fragment and checks the last good configuration is restored with the
// dynamic sink still attached.
func TestScenario_WatchedFragmentReloads(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(t.TempDir(), "vendor.yml")
	require.NoError(t, os.WriteFile(path, []byte("loggers:\n  - name: vendor\n    level: ERROR\n"), 0o644))
	require.NoError(t, h.mgr.PutFragmentFile(ctx, "vendor", path))
	require.NoError(t, h.mgr.Start(ctx))

	sink := &memSink{}
	require.NoError(t, h.mgr.RegisterSink(tracker.Component{ID: "mem", Targets: tracker.Categories("vendor"), Appender: sink}))

	w, err := watch.New(func(ctx context.Context, _ []watch.Change) {
		h.mgr.NotifyConfigChanged(ctx)
	}, &watch.Options{Debounce: 20 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, w.Add(path))
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("loggers:\n  - name: vendor\n    level: DEBUG\n"), 0o644))
	require.Eventually(t, func() bool {
		return h.mgr.Live().EffectiveLevel("vendor") == engine.LevelDebug
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("loggers: {"), 0o644))
	require.Eventually(t, func() bool {
		return h.mgr.Reporter().Count(status.PhaseFallbackRestored) >= 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, engine.LevelDebug, h.mgr.Live().EffectiveLevel("vendor"))
	require.NoError(t, h.mgr.Log(ctx, engine.Record{Category: "vendor", Level: engine.LevelDebug, Message: "after fallback"}))
	assert.Contains(t, sink.messages(), "after fallback")
}

// TestScenario_ConcurrentChanges fires category changes from many
// goroutines. Rebuilds never overlap, changes are coalesced, and the final
// pipeline reflects every change.
func TestScenario_ConcurrentChanges(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.mgr.Start(ctx))

	const n = 32
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("c%02d", i)
			assert.NoError(t, h.mgr.PutCategoryConfig(ctx, id, source.CategoryConfig{Names: []string{id}, Level: "TRACE"}))
		}()
	}
	wg.Wait()
	h.mgr.RequestReload(ctx)

	for i := range n {
		assert.Equal(t, engine.LevelTrace, h.mgr.Live().EffectiveLevel(fmt.Sprintf("c%02d", i)))
	}
	assert.LessOrEqual(t, h.mgr.Coordinator().Rebuilds(), int64(n+2))
	assert.False(t, h.mgr.Coordinator().InFlight())

	success := counterValue(t, h.reg, "logwire_rebuild_total", "success")
	assert.Equal(t, float64(h.mgr.Coordinator().Rebuilds()), success)
}

// counterValue reads one labelled sample of a counter family.
func counterValue(t *testing.T, reg *prometheus.Registry, name, outcome string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "outcome" && l.GetValue() == outcome {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s{outcome=%q} not found", name, outcome)
	return 0
}
