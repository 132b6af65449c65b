package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/logwire/internal/engine"
)

type liveModel struct {
	mu sync.Mutex
	m  *engine.Model
}

func (l *liveModel) get() *engine.Model {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.m
}

func (l *liveModel) set(m *engine.Model) {
	l.mu.Lock()
	l.m = m
	l.mu.Unlock()
}

func parse(t *testing.T, loggers ...string) *engine.Model {
	t.Helper()
	doc := engine.Document{}
	for _, name := range loggers {
		doc.Loggers = append(doc.Loggers, engine.LoggerSpec{Name: name})
	}
	m, err := engine.Parse(doc)
	require.NoError(t, err)
	return m
}

type capture struct {
	mu   sync.Mutex
	msgs []string
}

func (c *capture) Append(_ context.Context, rec engine.Record) error {
	c.mu.Lock()
	c.msgs = append(c.msgs, rec.Message)
	c.mu.Unlock()
	return nil
}

func sinkIDs(lg *engine.Logger) []string {
	var ids []string
	for _, a := range lg.Attachments(engine.KindSink) {
		ids = append(ids, a.Name)
	}
	return ids
}

func TestParseTargets(t *testing.T) {
	assert.True(t, ParseTargets(nil).IsAll())
	assert.True(t, ParseTargets([]string{"a", "*"}).IsAll())

	tg := ParseTargets([]string{"b", "a", "b", ""})
	assert.False(t, tg.IsAll())
	assert.Equal(t, []string{"a", "b"}, tg.Names())
}

func TestOnRegistered_LazilyCreatesCategory(t *testing.T) {
	live := &liveModel{m: parse(t)}
	tr := New(engine.KindSink, live.get, nil)

	require.NoError(t, tr.OnRegistered(Component{ID: "s1", Targets: Categories("not.yet"), Appender: &capture{}}))

	lg, ok := live.get().Lookup("not.yet")
	require.True(t, ok)
	assert.Equal(t, []string{"s1"}, sinkIDs(lg))
	assert.Equal(t, []string{"not.yet"}, tr.CategoriesFor("s1"))
}

func TestOnRebuildComplete_ReattachIsIdempotent(t *testing.T) {
	live := &liveModel{m: parse(t, "a")}
	tr := New(engine.KindSink, live.get, nil)
	require.NoError(t, tr.OnRegistered(Component{ID: "s1", Targets: Categories("a"), Appender: &capture{}}))

	// Reattaching onto the same model must not duplicate the attachment.
	assert.Empty(t, tr.OnRebuildComplete(live.get()))
	assert.Empty(t, tr.OnRebuildComplete(live.get()))

	lg, _ := live.get().Lookup("a")
	assert.Equal(t, []string{"s1"}, sinkIDs(lg))
}

func TestOnRebuildComplete_SurvivesRebuild(t *testing.T) {
	live := &liveModel{m: parse(t, "a")}
	tr := New(engine.KindSink, live.get, nil)
	sink := &capture{}
	require.NoError(t, tr.OnRegistered(Component{ID: "s1", Targets: Categories("a"), Appender: sink}))

	next := parse(t, "a", "b")
	tr.OnRebuildStart(next)
	live.set(next)
	require.Empty(t, tr.OnRebuildComplete(next))

	require.NoError(t, next.Log(context.Background(), engine.Record{Category: "a", Level: engine.LevelError, Message: "after"}))
	assert.Equal(t, []string{"after"}, sink.msgs)
}

func TestWildcard_ReevaluatedOnEachRebuild(t *testing.T) {
	live := &liveModel{m: parse(t, "a")}
	tr := New(engine.KindSink, live.get, nil)
	require.NoError(t, tr.OnRegistered(Component{ID: "all", Targets: All(), Appender: &capture{}}))
	assert.Equal(t, []string{"ROOT", "a"}, tr.CategoriesFor("all"))

	next := parse(t, "a", "b.c")
	tr.OnRebuildStart(next)
	assert.Empty(t, tr.CategoriesFor("all"))
	live.set(next)
	require.Empty(t, tr.OnRebuildComplete(next))

	assert.Equal(t, []string{"ROOT", "a", "b.c"}, tr.CategoriesFor("all"))
}

func TestOnModified_MovesAttachment(t *testing.T) {
	live := &liveModel{m: parse(t, "a", "b")}
	tr := New(engine.KindFilter, live.get, nil)
	deny := engine.FilterFunc(func(engine.Record) engine.Decision { return engine.Deny })

	require.NoError(t, tr.OnRegistered(Component{ID: "f", Targets: Categories("a"), Filter: deny}))
	require.NoError(t, tr.OnModified(Component{ID: "f", Targets: Categories("b"), Filter: deny}))

	a, _ := live.get().Lookup("a")
	b, _ := live.get().Lookup("b")
	assert.Empty(t, a.Attachments(engine.KindFilter))
	assert.Len(t, b.Attachments(engine.KindFilter), 1)
	assert.Equal(t, []string{"b"}, tr.CategoriesFor("f"))
}

func TestOnUnregistered_AlreadyDetachedIsNoop(t *testing.T) {
	live := &liveModel{m: parse(t, "a")}
	tr := New(engine.KindSink, live.get, nil)
	require.NoError(t, tr.OnRegistered(Component{ID: "s1", Targets: Categories("a"), Appender: &capture{}}))

	// A rebuild that has not reattached yet leaves nothing to detach.
	next := parse(t, "a")
	tr.OnRebuildStart(next)
	live.set(next)

	assert.NotPanics(t, func() { tr.OnUnregistered("s1") })
	assert.NotPanics(t, func() { tr.OnUnregistered("never-registered") })
	assert.Zero(t, tr.Len())

	require.Empty(t, tr.OnRebuildComplete(next))
	lg, _ := next.Lookup("a")
	assert.Empty(t, sinkIDs(lg))
}

func TestOnRegistered_BeforeFirstInstall(t *testing.T) {
	live := &liveModel{}
	tr := New(engine.KindPreFilter, live.get, nil)
	accept := engine.FilterFunc(func(engine.Record) engine.Decision { return engine.Accept })

	require.NoError(t, tr.OnRegistered(Component{ID: "p", Targets: All(), Filter: accept}))
	assert.Empty(t, tr.CategoriesFor("p"))

	m := parse(t)
	live.set(m)
	require.Empty(t, tr.OnRebuildComplete(m))
	assert.Equal(t, []string{"ROOT"}, tr.CategoriesFor("p"))
}

func TestOnRegistered_RejectsIncompleteComponent(t *testing.T) {
	tr := New(engine.KindSink, func() *engine.Model { return nil }, nil)
	assert.Error(t, tr.OnRegistered(Component{Appender: &capture{}}))
	assert.Error(t, tr.OnRegistered(Component{ID: "s"}))

	ft := New(engine.KindFilter, func() *engine.Model { return nil }, nil)
	assert.Error(t, ft.OnRegistered(Component{ID: "f"}))
}

func TestOnRebuildComplete_IsolatesFailures(t *testing.T) {
	m := parse(t, "a")
	set := NewSet(func() *engine.Model { return m }, nil)

	require.NoError(t, set.Sinks.OnRegistered(Component{ID: "a-sink", Targets: Categories("a"), Appender: &capture{}}))
	require.NoError(t, set.Sinks.OnRegistered(Component{ID: "z-sink", Targets: Categories("a"), Appender: &capture{}}))
	// A component that slipped past registration checks fails on attach.
	set.Sinks.components["m-broken"] = &entry{
		comp:     Component{ID: "m-broken", Targets: Categories("a")},
		attached: make(map[string]bool),
	}

	next := parse(t, "a")
	set.OnRebuildStart(next)
	errs := set.OnRebuildComplete(next)
	require.Len(t, errs, 1)

	var rerr *ReattachError
	require.ErrorAs(t, errs[0], &rerr)
	assert.Equal(t, "m-broken", rerr.ID)
	assert.Equal(t, "a", rerr.Category)

	lg, _ := next.Lookup("a")
	assert.Equal(t, []string{"a-sink", "z-sink"}, sinkIDs(lg))
}

func TestReattachError_Unwrap(t *testing.T) {
	base := errors.New("boom")
	err := error(&ReattachError{Kind: engine.KindSink, ID: "s", Category: "a", Err: base})
	assert.ErrorIs(t, err, base)
	assert.Equal(t, `tracker: attach sink "s" to a: boom`, err.Error())
}

func TestSet_For(t *testing.T) {
	set := NewSet(func() *engine.Model { return nil }, nil)
	assert.Same(t, set.Sinks, set.For(engine.KindSink))
	assert.Same(t, set.Filters, set.For(engine.KindFilter))
	assert.Same(t, set.PreFilters, set.For(engine.KindPreFilter))
	assert.Len(t, set.All(), 3)
}
