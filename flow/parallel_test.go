package flow

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParallelBatchNodeOrderPreservedUnderStagger(t *testing.T) {
	node := NewParallelBatchNode("stagger",
		WithBatchPrep(itemsPrep(0, 1, 2, 3)),
		WithBatchExec(func(ctx context.Context, item any) (any, error) {
			n := item.(int)
			// Later items finish first; aggregation order must not care.
			time.Sleep(time.Duration(3-n) * 15 * time.Millisecond)
			return n * 10, nil
		}),
		WithBatchPost(func(ctx context.Context, store *Store, items, results []any) (Action, error) {
			assert.Equal(t, []any{0, 10, 20, 30}, results)
			return "done", nil
		}))

	action, err := node.Run(context.Background(), NewStore())
	require.NoError(t, err)
	assert.Equal(t, Action("done"), action)
}

func TestParallelBatchNodeHonorsConcurrencyBound(t *testing.T) {
	var current, peak atomic.Int32
	node := NewParallelBatchNode("bounded",
		WithBatchPrep(itemsPrep(0, 1, 2, 3, 4, 5, 6, 7)),
		WithBatchConcurrency(2),
		WithBatchExec(func(ctx context.Context, item any) (any, error) {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			current.Add(-1)
			return item, nil
		}))

	_, err := node.Run(context.Background(), NewStore())
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.GreaterOrEqual(t, peak.Load(), int32(2), "the bound should actually be used")
}

func TestParallelBatchNodeFailureCancelsOutstanding(t *testing.T) {
	var hookMu sync.Mutex
	var abandoned []int

	node := NewParallelBatchNode("fragile",
		WithBatchPrep(itemsPrep(0, 1, 2, 3)),
		WithBatchCancelHook(func(index int, item any) {
			hookMu.Lock()
			abandoned = append(abandoned, index)
			hookMu.Unlock()
		}),
		WithBatchExec(func(ctx context.Context, item any) (any, error) {
			if item.(int) == 0 {
				return nil, errBoom
			}
			// The rest block until the failure cancels them.
			<-ctx.Done()
			return nil, ctx.Err()
		}))

	_, err := node.Run(context.Background(), NewStore())
	require.Error(t, err)

	var fe *Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, ErrCodeBatchItem, fe.Code)
	assert.Equal(t, 0, fe.BatchIndex)
	assert.ErrorIs(t, err, errBoom)

	hookMu.Lock()
	defer hookMu.Unlock()
	assert.ElementsMatch(t, []int{1, 2, 3}, abandoned,
		"every cancelled item reports through the hook")
}

func TestParallelBatchNodeFailureLeavesStoreUntouched(t *testing.T) {
	store := NewStoreFrom(map[string]any{"seed": true})
	node := NewParallelBatchNode("fragile",
		WithBatchPrep(itemsPrep(0, 1)),
		WithBatchExec(func(ctx context.Context, item any) (any, error) {
			if item.(int) == 1 {
				return nil, errBoom
			}
			return item, nil
		}),
		WithBatchPost(func(ctx context.Context, s *Store, items, results []any) (Action, error) {
			s.Set("aggregated", true)
			return "", nil
		}))

	_, err := node.Run(context.Background(), store)
	require.Error(t, err)
	assert.Equal(t, []string{"seed"}, store.Keys(), "partial results must be discarded")
}

func TestParallelBatchNodeItemFallback(t *testing.T) {
	node := NewParallelBatchNode("rescued",
		WithBatchPrep(itemsPrep(0, 1, 2)),
		WithBatchExec(func(ctx context.Context, item any) (any, error) {
			if item.(int) == 1 {
				return nil, errBoom
			}
			return item, nil
		}),
		WithBatchFallback(func(ctx context.Context, item any, execErr error) (any, error) {
			return -1, nil
		}),
		WithBatchPost(func(ctx context.Context, store *Store, items, results []any) (Action, error) {
			assert.Equal(t, []any{0, -1, 2}, results)
			return "", nil
		}))

	_, err := node.Run(context.Background(), NewStore())
	require.NoError(t, err)
}

// ====== ParallelBatchFlow ======

// channelFlow returns a single-node flow that publishes one store key per
// parameter set.
func channelFlow() *Flow {
	publish := NewNode("publish",
		WithPrep(func(ctx context.Context, store *Store) (any, error) {
			ch, ok := store.GetString("channel")
			if !ok {
				return nil, fmt.Errorf("channel parameter missing")
			}
			topic, ok := store.GetString("topic")
			if !ok {
				return nil, fmt.Errorf("topic missing from base store")
			}
			return ch + ":" + topic, nil
		}),
		WithPost(func(ctx context.Context, store *Store, input, result any) (Action, error) {
			ch, _ := store.GetString("channel")
			store.Set("published_"+ch, result)
			return Action(ch), nil
		}))
	return NewFlow("publish").Start(publish)
}

func TestParallelBatchFlowMergesDisjointWrites(t *testing.T) {
	pbf := NewParallelBatchFlow("fanout", channelFlow(),
		WithBatchParams(func(ctx context.Context, store *Store) ([]map[string]any, error) {
			return []map[string]any{
				{"channel": "email"},
				{"channel": "social"},
				{"channel": "blog"},
			}, nil
		}))

	store := NewStoreFrom(map[string]any{"topic": "launch"})
	action, err := pbf.Run(context.Background(), store)
	require.NoError(t, err)

	// The default result is the last parameter set's action, regardless of
	// completion order.
	assert.Equal(t, Action("blog"), action)

	for _, ch := range []string{"email", "social", "blog"} {
		v, ok := store.GetString("published_" + ch)
		require.True(t, ok, ch)
		assert.Equal(t, ch+":launch", v)
	}
}

func TestParallelBatchFlowIterationsAreIsolated(t *testing.T) {
	probe := NewNode("probe",
		WithPost(func(ctx context.Context, store *Store, input, result any) (Action, error) {
			// Each iteration sees the base value, not a sibling's write.
			base, _ := store.GetString("shared")
			if base != "base" {
				return "", fmt.Errorf("saw foreign write %q", base)
			}
			me, _ := store.GetString("me")
			store.Set("shared", me)
			return "", nil
		}))
	sub := NewFlow("probe").Start(probe)

	pbf := NewParallelBatchFlow("isolated", sub,
		WithBatchParams(func(ctx context.Context, store *Store) ([]map[string]any, error) {
			return []map[string]any{
				{"me": "one"}, {"me": "two"}, {"me": "three"},
			}, nil
		}))

	store := NewStoreFrom(map[string]any{"shared": "base"})
	_, err := pbf.Run(context.Background(), store)
	require.NoError(t, err)

	// Conflicting writes resolve last-writer-wins in input order.
	v, _ := store.GetString("shared")
	assert.Equal(t, "three", v)
}

func TestParallelBatchFlowMergePolicy(t *testing.T) {
	count := NewNode("count",
		WithPost(func(ctx context.Context, store *Store, input, result any) (Action, error) {
			v, _ := store.GetInt("v")
			store.Set("total", v)
			return "", nil
		}))
	sub := NewFlow("count").Start(count)

	pbf := NewParallelBatchFlow("reduce", sub,
		WithBatchParams(func(ctx context.Context, store *Store) ([]map[string]any, error) {
			return []map[string]any{{"v": 1}, {"v": 2}, {"v": 3}}, nil
		}),
		WithFlowMergePolicy(func(key string, existing, incoming any) any {
			if key != "total" {
				return incoming
			}
			return existing.(int) + incoming.(int)
		}))

	store := NewStore()
	_, err := pbf.Run(context.Background(), store)
	require.NoError(t, err)

	total, _ := store.GetInt("total")
	assert.Equal(t, 6, total)
}

func TestParallelBatchFlowFailureDiscardsScratches(t *testing.T) {
	step := NewNode("step",
		WithPrep(func(ctx context.Context, store *Store) (any, error) {
			if fail, _ := store.GetBool("fail"); fail {
				return nil, errBoom
			}
			return nil, nil
		}),
		WithPost(func(ctx context.Context, store *Store, input, result any) (Action, error) {
			store.Set("wrote", true)
			return "", nil
		}))
	sub := NewFlow("step").Start(step)

	pbf := NewParallelBatchFlow("fragile", sub,
		WithBatchParams(func(ctx context.Context, store *Store) ([]map[string]any, error) {
			return []map[string]any{
				{"fail": false},
				{"fail": true},
			}, nil
		}))

	store := NewStoreFrom(map[string]any{"seed": 1})
	_, err := pbf.Run(context.Background(), store)
	require.Error(t, err)

	var fe *Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, ErrCodeBatchItem, fe.Code)
	assert.Equal(t, 1, fe.BatchIndex)

	assert.Equal(t, []string{"seed"}, store.Keys(),
		"no scratch write may leak into the base store on failure")
}

func TestParallelBatchFlowConcurrencyBound(t *testing.T) {
	var current, peak atomic.Int32
	gauge := NewNode("gauge",
		WithExec(func(ctx context.Context, input any) (any, error) {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(15 * time.Millisecond)
			current.Add(-1)
			return nil, nil
		}))
	sub := NewFlow("gauge").Start(gauge)

	pbf := NewParallelBatchFlow("bounded", sub,
		WithFlowConcurrency(2),
		WithBatchParams(func(ctx context.Context, store *Store) ([]map[string]any, error) {
			sets := make([]map[string]any, 6)
			for i := range sets {
				sets[i] = map[string]any{"i": i}
			}
			return sets, nil
		}))

	_, err := pbf.Run(context.Background(), NewStore())
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestParallelBatchFlowReportsScratchMerge(t *testing.T) {
	rec := &recordingObserver{}
	ctx := WithObserver(context.Background(), rec)

	pbf := NewParallelBatchFlow("fanout", channelFlow(),
		WithBatchParams(func(ctx context.Context, store *Store) ([]map[string]any, error) {
			return []map[string]any{
				{"channel": "email"},
				{"channel": "social"},
			}, nil
		}))

	store := NewStoreFrom(map[string]any{"topic": "launch"})
	_, err := pbf.Run(ctx, store)
	require.NoError(t, err)

	// The merge fires once, after every item has finished.
	assert.Equal(t, 1, rec.count("scratch_merged"))
	assert.Contains(t, rec.snapshot(), "scratch_merged:fanout:2")
	events := rec.snapshot()
	assert.Equal(t, "node_finished:fanout:social:false", events[len(events)-1])
}
