package validate

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/logwire/internal/engine"
	"github.com/dusk-indust/logwire/internal/source"
)

func snapshotOf(t *testing.T, srcs ...source.Source) source.Snapshot {
	t.Helper()
	r := source.NewRegistry()
	for _, s := range srcs {
		require.NoError(t, r.Put(s))
	}
	return r.Snapshot()
}

func TestCheck_Valid(t *testing.T) {
	snap := snapshotOf(t,
		source.Global(source.GlobalConfig{Level: "INFO"}),
		source.Category("a", source.CategoryConfig{Names: []string{"x"}, Level: "WARN", File: "/log/a.log"}),
		source.Category("b", source.CategoryConfig{Names: []string{"y"}, Level: "DEFAULT"}),
		source.Category("c", source.CategoryConfig{Names: []string{"z"}, File: "console"}),
	)
	assert.Empty(t, Check(snap))
	assert.NoError(t, Validator{}.Err(snap))
}

func TestCheck_DuplicatePath(t *testing.T) {
	snap := snapshotOf(t,
		source.Category("a", source.CategoryConfig{Names: []string{"x"}, File: "/log/a.log"}),
		source.Category("b", source.CategoryConfig{Names: []string{"y"}, File: "/log/../log/a.log"}),
	)
	conflicts := Check(snap)
	require.Len(t, conflicts, 1)
	assert.Equal(t, Conflict{
		SourceID: "b",
		Field:    "file",
		Reason:   "output file /log/a.log is already in use",
		OwnerID:  "a",
	}, conflicts[0])
}

func TestCheck_RelativePathResolvedAgainstLogHome(t *testing.T) {
	home := t.TempDir()
	snap := snapshotOf(t,
		source.Global(source.GlobalConfig{File: filepath.Join(home, "logs", "app.log")}),
		source.Category("a", source.CategoryConfig{Names: []string{"x"}, File: "logs/app.log"}),
	)
	conflicts := Validator{LogHome: home}.Check(snap)
	require.Len(t, conflicts, 1)
	assert.Equal(t, source.GlobalID, conflicts[0].OwnerID)
}

func TestCheck_ConsoleIsShared(t *testing.T) {
	snap := snapshotOf(t,
		source.Global(source.GlobalConfig{}),
		source.Category("a", source.CategoryConfig{Names: []string{"x"}}),
		source.Category("b", source.CategoryConfig{Names: []string{"y"}, File: "console"}),
	)
	assert.Empty(t, Check(snap))
}

func TestCheck_DuplicateCategory(t *testing.T) {
	snap := snapshotOf(t,
		source.Category("A", source.CategoryConfig{Names: []string{"x"}, Level: "WARN"}),
		source.Category("B", source.CategoryConfig{Names: []string{"y", "x"}, Level: "INFO"}),
	)
	err := Validator{}.Err(snap)
	var cerr *ConflictError
	require.True(t, errors.As(err, &cerr))
	require.Len(t, cerr.Conflicts, 1)
	c := cerr.Conflicts[0]
	assert.Equal(t, "B", c.SourceID)
	assert.Equal(t, "names[1]", c.Field)
	assert.Equal(t, "A", c.OwnerID)
	assert.Contains(t, err.Error(), "owned by A")
}

func TestCheck_MalformedFields(t *testing.T) {
	snap := snapshotOf(t,
		source.Global(source.GlobalConfig{Level: "DEFAULT"}),
		source.Category("a", source.CategoryConfig{
			Names:    []string{""},
			Level:    "LOUD",
			Format:   "xml",
			Rotation: engine.Rotation{MaxSize: -1},
		}),
		source.Category("b", source.CategoryConfig{}),
	)
	fields := map[string]bool{}
	for _, c := range Check(snap) {
		fields[c.SourceID+"."+c.Field] = true
	}
	assert.Equal(t, map[string]bool{
		"global.level": true,
		"a.level":      true,
		"a.format":     true,
		"a.rotation":   true,
		"a.names[0]":   true,
		"b.names":      true,
	}, fields)
}

func TestCheckLevel(t *testing.T) {
	assert.NoError(t, CheckLevel(""))
	assert.NoError(t, CheckLevel("trace"))
	assert.NoError(t, CheckLevel(engine.InheritToken))
	assert.Error(t, CheckLevel("verbose"))
}

func TestResolvePath(t *testing.T) {
	got, err := ResolvePath("/var/app", "logs/x.log")
	require.NoError(t, err)
	assert.Equal(t, "/var/app/logs/x.log", got)

	got, err = ResolvePath("/var/app", "/abs/./x.log")
	require.NoError(t, err)
	assert.Equal(t, "/abs/x.log", got)

	_, err = ResolvePath("", "")
	assert.Error(t, err)
}
