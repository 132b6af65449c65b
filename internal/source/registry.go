package source

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is a concurrency-safe store of configuration sources keyed by
// kind and id. It performs no validation.
type Registry struct {
	mu         sync.RWMutex
	sources    map[string]Source
	nextSeq    uint64
	generation uint64
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]Source)}
}

// Put stores src, replacing any source with the same kind and id. A replaced
// source keeps its original registration position.
func (r *Registry) Put(src Source) error {
	if err := check(src); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := src.Key()
	if prev, ok := r.sources[key]; ok {
		src.seq = prev.seq
		src.Version = prev.Version + 1
	} else {
		r.nextSeq++
		src.seq = r.nextSeq
		src.Version = 1
	}
	r.sources[key] = src
	r.generation++
	return nil
}

// Remove deletes the source with the given kind and id. It reports whether a
// source was removed.
func (r *Registry) Remove(kind Kind, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := Source{Kind: kind, ID: id}.Key()
	if _, ok := r.sources[key]; !ok {
		return false
	}
	delete(r.sources, key)
	r.generation++
	return true
}

// Get returns the source with the given kind and id.
func (r *Registry) Get(kind Kind, id string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[Source{Kind: kind, ID: id}.Key()]
	return src, ok
}

// Len returns the number of stored sources.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources)
}

// Generation increases on every Put and Remove.
func (r *Registry) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

// Snapshot returns a consistent, ordered view of all sources. Only the copy
// happens under the lock; ordering happens after it is released.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	out := make([]Source, 0, len(r.sources))
	for _, src := range r.sources {
		out = append(out, src)
	}
	gen := r.generation
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].seq < out[j].seq
	})
	return Snapshot{sources: out, generation: gen}
}

func check(src Source) error {
	if src.ID == "" {
		return fmt.Errorf("source: %s source has no id", src.Kind)
	}
	var ok bool
	switch src.Kind {
	case KindGlobal:
		ok = src.Global != nil && src.ID == GlobalID
	case KindCategory:
		ok = src.Category != nil
	case KindFragment:
		ok = src.Fragment != nil
	}
	if !ok {
		return fmt.Errorf("source: malformed %s source %q", src.Kind, src.ID)
	}
	return nil
}

// Snapshot is an immutable ordered view of the registry used by one rebuild.
// Order: global, then categories, then fragments, each by registration order.
type Snapshot struct {
	sources    []Source
	generation uint64
}

// Generation is the registry generation the snapshot was taken at.
func (s Snapshot) Generation() uint64 { return s.generation }

// All returns a copy of every source in order.
func (s Snapshot) All() []Source {
	return append([]Source(nil), s.sources...)
}

// Global returns the global config, if one is registered.
func (s Snapshot) Global() (GlobalConfig, bool) {
	for _, src := range s.sources {
		if src.Kind == KindGlobal {
			return *src.Global, true
		}
	}
	return GlobalConfig{}, false
}

// Categories returns the category sources in order.
func (s Snapshot) Categories() []Source {
	return s.ofKind(KindCategory)
}

// Fragments returns the fragment sources in order.
func (s Snapshot) Fragments() []Source {
	return s.ofKind(KindFragment)
}

func (s Snapshot) ofKind(k Kind) []Source {
	var out []Source
	for _, src := range s.sources {
		if src.Kind == k {
			out = append(out, src)
		}
	}
	return out
}

// With returns a copy of the snapshot with src put into it as the registry
// would, without touching the registry. Used to pre-validate a prospective
// change.
func (s Snapshot) With(src Source) Snapshot {
	out := make([]Source, 0, len(s.sources)+1)
	replaced := false
	var maxSeq uint64
	for _, cur := range s.sources {
		if cur.seq > maxSeq {
			maxSeq = cur.seq
		}
		if cur.Kind == src.Kind && cur.ID == src.ID {
			src.seq = cur.seq
			src.Version = cur.Version + 1
			out = append(out, src)
			replaced = true
			continue
		}
		out = append(out, cur)
	}
	if !replaced {
		src.seq = maxSeq + 1
		src.Version = 1
		out = append(out, src)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].seq < out[j].seq
	})
	return Snapshot{sources: out, generation: s.generation}
}
