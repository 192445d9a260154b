package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSlab struct {
	tag int
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := New[fakeSlab]()

	s := &fakeSlab{tag: 42}
	id, err := r.Register(s)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), id)

	got, ok := r.LookupValidate(id, 0)
	require.True(t, ok)
	assert.Same(t, s, got)
}

func TestRegistry_GenerationMismatchFails(t *testing.T) {
	r := New[fakeSlab]()
	s := &fakeSlab{}
	id, _ := r.Register(s)

	r.BumpGeneration(id)

	_, ok := r.LookupValidate(id, 0)
	assert.False(t, ok, "stale generation must be rejected")

	gen, ok := r.Generation(id)
	require.True(t, ok)
	got, ok := r.LookupValidate(id, gen)
	require.True(t, ok)
	assert.Same(t, s, got)
}

func TestRegistry_LookupUnknownID(t *testing.T) {
	r := New[fakeSlab]()
	_, ok := r.LookupValidate(999, 0)
	assert.False(t, ok)
}

func TestRegistry_ReleaseAndReuse(t *testing.T) {
	r := New[fakeSlab]()
	s1 := &fakeSlab{tag: 1}
	id1, _ := r.Register(s1)
	gen1, _ := r.Generation(id1)

	r.Release(id1)

	s2 := &fakeSlab{tag: 2}
	id2, err := r.Register(s2)
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "released ids are reused before growing")

	gen2, _ := r.Generation(id2)
	assert.Greater(t, gen2, gen1, "reuse must bump generation past the retired handle's")

	got, ok := r.LookupValidate(id2, gen2)
	require.True(t, ok)
	assert.Same(t, s2, got)
}

func TestRegistry_GrowthPreservesExistingEntries(t *testing.T) {
	r := New[fakeSlab]()
	const n = 256
	slabs := make([]*fakeSlab, n)
	ids := make([]uint32, n)
	for i := 0; i < n; i++ {
		slabs[i] = &fakeSlab{tag: i}
		id, err := r.Register(slabs[i])
		require.NoError(t, err)
		ids[i] = id
	}

	for i := 0; i < n; i++ {
		got, ok := r.LookupValidate(ids[i], 0)
		require.True(t, ok)
		assert.Same(t, slabs[i], got)
	}
	assert.Equal(t, n, r.Len())
}

func TestRegistry_ConcurrentRegisterAndLookup(t *testing.T) {
	r := New[fakeSlab]()
	const workers = 8
	const perWorker = 2000

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				s := &fakeSlab{tag: i}
				id, err := r.Register(s)
				require.NoError(t, err)
				got, ok := r.LookupValidate(id, 0)
				require.True(t, ok)
				assert.Same(t, s, got)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, workers*perWorker, r.Len())
}
