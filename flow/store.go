package flow

import "sort"

// Store is the mutable key-value context shared by every node in one workflow
// run. It is created once per run, passed by reference to every lifecycle
// phase that may touch it, and mutated freely by any node: there is no key
// ownership and the last writer wins.
//
// Store is deliberately unsynchronized. The sequential and async execution
// models never mutate it from more than one goroutine, and the parallel
// variants isolate concurrent writers behind Fork/Merge scratch overlays, so
// a mutex would only hide authoring errors the contract already forbids.
type Store struct {
	data map[string]any

	// base is non-nil for scratch overlays created by Fork. Reads fall
	// through to base; writes and deletes stay private until Merge.
	base    *Store
	deleted map[string]struct{}
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{data: make(map[string]any)}
}

// NewStoreFrom returns a store seeded with a shallow copy of m.
func NewStoreFrom(m map[string]any) *Store {
	s := NewStore()
	for k, v := range m {
		s.data[k] = v
	}
	return s
}

// Get returns the value for key and whether it is present.
func (s *Store) Get(key string) (any, bool) {
	if s == nil {
		return nil, false
	}
	if _, dead := s.deleted[key]; dead {
		return nil, false
	}
	if v, ok := s.data[key]; ok {
		return v, true
	}
	if s.base != nil {
		return s.base.Get(key)
	}
	return nil, false
}

// GetString returns the string value for key, or ("", false) when the key is
// absent or holds a different type.
func (s *Store) GetString(key string) (string, bool) {
	v, ok := s.Get(key)
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	return str, ok
}

// GetInt returns the int value for key. Float64 values with no fractional
// part are accepted too, since decoded JSON carries numbers that way.
func (s *Store) GetInt(key string) (int, bool) {
	v, ok := s.Get(key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}

// GetBool returns the bool value for key.
func (s *Store) GetBool(key string) (bool, bool) {
	v, ok := s.Get(key)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// GetStringSlice returns the value for key as a []string. Both []string and
// []any of strings are accepted.
func (s *Store) GetStringSlice(key string) ([]string, bool) {
	v, ok := s.Get(key)
	if !ok {
		return nil, false
	}
	switch vs := v.(type) {
	case []string:
		return vs, true
	case []any:
		out := make([]string, 0, len(vs))
		for _, e := range vs {
			str, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	}
	return nil, false
}

// GetMap returns the value for key as a map[string]any.
func (s *Store) GetMap(key string) (map[string]any, bool) {
	v, ok := s.Get(key)
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]any)
	return m, ok
}

// Set stores v under key, replacing any previous value.
func (s *Store) Set(key string, v any) {
	if s.deleted != nil {
		delete(s.deleted, key)
	}
	s.data[key] = v
}

// SetAll stores every entry of m, replacing previous values.
func (s *Store) SetAll(m map[string]any) {
	for k, v := range m {
		s.Set(k, v)
	}
}

// Delete removes key from the store. On a scratch overlay the deletion stays
// private until Merge, like any other write.
func (s *Store) Delete(key string) {
	delete(s.data, key)
	if s.base != nil {
		if s.deleted == nil {
			s.deleted = make(map[string]struct{})
		}
		s.deleted[key] = struct{}{}
	}
}

// Len reports the number of visible keys.
func (s *Store) Len() int {
	if s.base == nil {
		return len(s.data)
	}
	return len(s.Snapshot())
}

// Keys returns the visible keys in sorted order.
func (s *Store) Keys() []string {
	snap := s.Snapshot()
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns a shallow copy of the visible contents. Mutating the
// returned map does not affect the store; mutating values reachable through
// it does, since values are shared by reference.
func (s *Store) Snapshot() map[string]any {
	var out map[string]any
	if s.base != nil {
		out = s.base.Snapshot()
	} else {
		out = make(map[string]any, len(s.data))
	}
	for k := range s.deleted {
		delete(out, k)
	}
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

// Fork returns a private scratch overlay of s. Reads on the overlay fall
// through to s, writes and deletes stay local to the overlay. Concurrent
// sub-items of a parallel batch each get their own fork, so no two goroutines
// ever mutate the same map; s itself must not be written while forks are in
// flight.
func (s *Store) Fork() *Store {
	return &Store{data: make(map[string]any), base: s}
}

// MergeFunc resolves a key written by more than one scratch overlay (or
// already present in the destination). It receives the existing value, the
// incoming value, and returns the value to keep.
type MergeFunc func(key string, existing, incoming any) any

// Merge applies the private writes and deletes of each fork to s, in argument
// order, last writer wins per key. Forks are expected to have been created
// from s; Merge only transfers their local delta.
func (s *Store) Merge(forks ...*Store) {
	for _, f := range forks {
		if f == nil {
			continue
		}
		for k := range f.deleted {
			s.Delete(k)
		}
		for k, v := range f.data {
			s.Set(k, v)
		}
	}
}

// MergeWith behaves like Merge but resolves every incoming write through fn.
// Keys absent from s are taken as-is; deletes are applied unconditionally.
func (s *Store) MergeWith(fn MergeFunc, forks ...*Store) {
	if fn == nil {
		s.Merge(forks...)
		return
	}
	for _, f := range forks {
		if f == nil {
			continue
		}
		for k := range f.deleted {
			s.Delete(k)
		}
		for k, v := range f.data {
			if existing, ok := s.Get(k); ok {
				s.Set(k, fn(k, existing, v))
			} else {
				s.Set(k, v)
			}
		}
	}
}
