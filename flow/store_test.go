package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreSetGet(t *testing.T) {
	s := NewStore()

	_, ok := s.Get("topic")
	assert.False(t, ok)

	s.Set("topic", "product launch")
	v, ok := s.Get("topic")
	require.True(t, ok)
	assert.Equal(t, "product launch", v)

	// Rebinding a key replaces the value, last writer wins.
	s.Set("topic", "rebrand")
	v, _ = s.Get("topic")
	assert.Equal(t, "rebrand", v)
}

func TestStoreTypedGetters(t *testing.T) {
	s := NewStoreFrom(map[string]any{
		"name":     "marketflow",
		"count":    3,
		"count64":  int64(7),
		"ratio":    2.0,
		"frac":     2.5,
		"enabled":  true,
		"tags":     []string{"a", "b"},
		"decoded":  []any{"x", "y"},
		"mixed":    []any{"x", 1},
		"settings": map[string]any{"k": "v"},
	})

	tests := []struct {
		name  string
		check func(t *testing.T)
	}{
		{"string hit", func(t *testing.T) {
			v, ok := s.GetString("name")
			assert.True(t, ok)
			assert.Equal(t, "marketflow", v)
		}},
		{"string type mismatch", func(t *testing.T) {
			_, ok := s.GetString("count")
			assert.False(t, ok)
		}},
		{"int hit", func(t *testing.T) {
			v, ok := s.GetInt("count")
			assert.True(t, ok)
			assert.Equal(t, 3, v)
		}},
		{"int from int64", func(t *testing.T) {
			v, ok := s.GetInt("count64")
			assert.True(t, ok)
			assert.Equal(t, 7, v)
		}},
		{"int from whole float", func(t *testing.T) {
			v, ok := s.GetInt("ratio")
			assert.True(t, ok)
			assert.Equal(t, 2, v)
		}},
		{"int rejects fractional float", func(t *testing.T) {
			_, ok := s.GetInt("frac")
			assert.False(t, ok)
		}},
		{"bool hit", func(t *testing.T) {
			v, ok := s.GetBool("enabled")
			assert.True(t, ok)
			assert.True(t, v)
		}},
		{"string slice hit", func(t *testing.T) {
			v, ok := s.GetStringSlice("tags")
			assert.True(t, ok)
			assert.Equal(t, []string{"a", "b"}, v)
		}},
		{"string slice from []any", func(t *testing.T) {
			v, ok := s.GetStringSlice("decoded")
			assert.True(t, ok)
			assert.Equal(t, []string{"x", "y"}, v)
		}},
		{"string slice rejects mixed", func(t *testing.T) {
			_, ok := s.GetStringSlice("mixed")
			assert.False(t, ok)
		}},
		{"map hit", func(t *testing.T) {
			v, ok := s.GetMap("settings")
			assert.True(t, ok)
			assert.Equal(t, "v", v["k"])
		}},
		{"missing key", func(t *testing.T) {
			_, ok := s.GetInt("absent")
			assert.False(t, ok)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, tt.check)
	}
}

func TestStoreValuesSharedByReference(t *testing.T) {
	s := NewStore()
	s.Set("draft", map[string]any{"words": 100})

	draft, ok := s.GetMap("draft")
	require.True(t, ok)
	draft["words"] = 250

	again, _ := s.GetMap("draft")
	assert.Equal(t, 250, again["words"])
}

func TestStoreDeleteLenKeys(t *testing.T) {
	s := NewStoreFrom(map[string]any{"b": 1, "a": 2, "c": 3})

	assert.Equal(t, 3, s.Len())
	assert.Equal(t, []string{"a", "b", "c"}, s.Keys())

	s.Delete("b")
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []string{"a", "c"}, s.Keys())

	_, ok := s.Get("b")
	assert.False(t, ok)
}

func TestStoreSnapshotDetached(t *testing.T) {
	s := NewStoreFrom(map[string]any{"k": "v"})

	snap := s.Snapshot()
	snap["k"] = "changed"
	snap["extra"] = true

	v, _ := s.Get("k")
	assert.Equal(t, "v", v)
	_, ok := s.Get("extra")
	assert.False(t, ok)
}

func TestStoreForkReadsFallThrough(t *testing.T) {
	base := NewStoreFrom(map[string]any{"topic": "launch", "budget": 10})
	fork := base.Fork()

	v, ok := fork.Get("topic")
	require.True(t, ok)
	assert.Equal(t, "launch", v)

	// Fork writes shadow the base without touching it.
	fork.Set("budget", 20)
	v, _ = fork.Get("budget")
	assert.Equal(t, 20, v)
	v, _ = base.Get("budget")
	assert.Equal(t, 10, v)
}

func TestStoreForkDeleteStaysPrivate(t *testing.T) {
	base := NewStoreFrom(map[string]any{"topic": "launch"})
	fork := base.Fork()

	fork.Delete("topic")
	_, ok := fork.Get("topic")
	assert.False(t, ok)
	_, ok = base.Get("topic")
	assert.True(t, ok)

	// A later write on the fork clears its tombstone.
	fork.Set("topic", "retention")
	v, _ := fork.Get("topic")
	assert.Equal(t, "retention", v)
}

func TestStoreNestedForkFallsThroughToRoot(t *testing.T) {
	root := NewStoreFrom(map[string]any{"k": "root"})
	inner := root.Fork().Fork()

	v, ok := inner.Get("k")
	require.True(t, ok)
	assert.Equal(t, "root", v)
}

func TestStoreMergeLastWriterWins(t *testing.T) {
	base := NewStoreFrom(map[string]any{"keep": "base"})

	first := base.Fork()
	first.Set("channel", "email")
	first.Set("reach", 100)

	second := base.Fork()
	second.Set("channel", "social")

	base.Merge(first, second)

	v, _ := base.Get("channel")
	assert.Equal(t, "social", v)
	v, _ = base.Get("reach")
	assert.Equal(t, 100, v)
	v, _ = base.Get("keep")
	assert.Equal(t, "base", v)
}

func TestStoreMergeAppliesDeletes(t *testing.T) {
	base := NewStoreFrom(map[string]any{"stale": true, "keep": true})
	fork := base.Fork()
	fork.Delete("stale")

	base.Merge(fork)

	_, ok := base.Get("stale")
	assert.False(t, ok)
	_, ok = base.Get("keep")
	assert.True(t, ok)
}

func TestStoreMergeWithReducer(t *testing.T) {
	base := NewStore()

	forks := make([]*Store, 3)
	for i := range forks {
		f := base.Fork()
		f.Set("total", i+1)
		forks[i] = f
	}

	base.MergeWith(func(key string, existing, incoming any) any {
		return existing.(int) + incoming.(int)
	}, forks...)

	v, _ := base.Get("total")
	assert.Equal(t, 6, v)
}

func TestStoreMergeWithNilReducerFallsBack(t *testing.T) {
	base := NewStore()
	fork := base.Fork()
	fork.Set("k", "v")

	base.MergeWith(nil, fork)

	v, _ := base.Get("k")
	assert.Equal(t, "v", v)
}

func TestStoreForkSnapshotSeesBothLayers(t *testing.T) {
	base := NewStoreFrom(map[string]any{"a": 1, "b": 2})
	fork := base.Fork()
	fork.Set("b", 20)
	fork.Set("c", 30)
	fork.Delete("a")

	assert.Equal(t, map[string]any{"b": 20, "c": 30}, fork.Snapshot())
	assert.Equal(t, 2, fork.Len())
}
