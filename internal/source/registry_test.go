package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_PutReplacesSameID(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Put(Category("a", CategoryConfig{Names: []string{"x"}, Level: "WARN"})))
	require.NoError(t, r.Put(Category("a", CategoryConfig{Names: []string{"x"}, Level: "ERROR"})))

	assert.Equal(t, 1, r.Len())
	src, ok := r.Get(KindCategory, "a")
	require.True(t, ok)
	assert.Equal(t, "ERROR", src.Category.Level)
	assert.Equal(t, uint64(2), src.Version)
}

func TestRegistry_SnapshotOrder(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Put(FragmentSource("frag", Fragment{Raw: []byte("{}")})))
	require.NoError(t, r.Put(Category("b", CategoryConfig{Names: []string{"b"}})))
	require.NoError(t, r.Put(Global(GlobalConfig{Level: "INFO"})))
	require.NoError(t, r.Put(Category("a", CategoryConfig{Names: []string{"a"}})))
	// Replacing b keeps its original position ahead of a.
	require.NoError(t, r.Put(Category("b", CategoryConfig{Names: []string{"b"}, Level: "DEBUG"})))

	var keys []string
	for _, src := range r.Snapshot().All() {
		keys = append(keys, src.Key())
	}
	assert.Equal(t, []string{"global/global", "category/b", "category/a", "fragment/frag"}, keys)
}

func TestRegistry_SnapshotIsImmutable(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Put(Category("a", CategoryConfig{Names: []string{"a"}})))
	snap := r.Snapshot()

	require.NoError(t, r.Put(Category("b", CategoryConfig{Names: []string{"b"}})))
	assert.True(t, r.Remove(KindCategory, "a"))

	require.Len(t, snap.Categories(), 1)
	assert.Equal(t, "a", snap.Categories()[0].ID)
	assert.Greater(t, r.Generation(), snap.Generation())
}

func TestRegistry_RemoveMissing(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Remove(KindFragment, "nope"))
}

func TestRegistry_PutRejectsMalformed(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Put(Source{Kind: KindCategory, ID: "a"}))
	assert.Error(t, r.Put(Category("", CategoryConfig{})))
	assert.Error(t, r.Put(Source{Kind: KindGlobal, ID: "other", Global: &GlobalConfig{}}))
}

func TestSnapshot_WithDoesNotTouchRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Put(Category("a", CategoryConfig{Names: []string{"a"}})))
	snap := r.Snapshot()

	next := snap.With(Category("b", CategoryConfig{Names: []string{"b"}}))
	require.Len(t, next.Categories(), 2)
	assert.Equal(t, "b", next.Categories()[1].ID)
	assert.Equal(t, 1, r.Len())

	replaced := snap.With(Category("a", CategoryConfig{Names: []string{"z"}}))
	require.Len(t, replaced.Categories(), 1)
	assert.Equal(t, []string{"z"}, replaced.Categories()[0].Category.Names)
}

func TestRegistry_ConcurrentPutAndSnapshot(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			for j := 0; j < 50; j++ {
				_ = r.Put(Category(id, CategoryConfig{Names: []string{id}}))
				r.Remove(KindCategory, id)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = r.Snapshot()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, r.Len())
}

type staticProvider []byte

func (p staticProvider) Document(context.Context) ([]byte, error) { return p, nil }

func TestFragment_Document(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "frag.yml")
	require.NoError(t, os.WriteFile(path, []byte("from: file"), 0o644))

	got, err := Fragment{Path: path, Raw: []byte("ignored")}.Document(ctx)
	require.NoError(t, err)
	assert.Equal(t, "from: file", string(got))

	got, err = Fragment{Provider: staticProvider("from: provider")}.Document(ctx)
	require.NoError(t, err)
	assert.Equal(t, "from: provider", string(got))

	_, err = Fragment{Path: filepath.Join(t.TempDir(), "missing.yml")}.Document(ctx)
	assert.Error(t, err)
}
