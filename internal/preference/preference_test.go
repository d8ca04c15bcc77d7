package preference

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	m := NewMemory()
	actor := uuid.New()

	_, ok := m.Preference(actor)
	assert.False(t, ok)

	require.NoError(t, m.SetPreference(actor, false))
	v, ok := m.Preference(actor)
	assert.True(t, ok)
	assert.False(t, v)

	require.NoError(t, m.ClearPreference(actor))
	_, ok = m.Preference(actor)
	assert.False(t, ok)
}

func TestBadgerStoreInMemory(t *testing.T) {
	b, err := OpenBadger(BadgerConfig{InMemory: true})
	require.NoError(t, err)
	defer b.Close()

	actor := uuid.New()
	_, ok := b.Preference(actor)
	assert.False(t, ok)

	require.NoError(t, b.SetPreference(actor, true))
	v, ok := b.Preference(actor)
	assert.True(t, ok)
	assert.True(t, v)

	require.NoError(t, b.ClearPreference(actor))
	_, ok = b.Preference(actor)
	assert.False(t, ok)
}

func TestBadgerStorePersists(t *testing.T) {
	dir := t.TempDir()
	actor := uuid.New()

	b, err := OpenBadger(BadgerConfig{Path: dir})
	require.NoError(t, err)
	require.NoError(t, b.SetPreference(actor, false))
	require.NoError(t, b.Close())

	b, err = OpenBadger(BadgerConfig{Path: dir})
	require.NoError(t, err)
	defer b.Close()

	v, ok := b.Preference(actor)
	assert.True(t, ok)
	assert.False(t, v)
}

func TestOpenBadgerRequiresPath(t *testing.T) {
	_, err := OpenBadger(BadgerConfig{})
	assert.Error(t, err)
}

func TestBadgerStaleLoadDoesNotOverwriteWrite(t *testing.T) {
	b, err := OpenBadger(BadgerConfig{InMemory: true})
	require.NoError(t, err)
	defer b.Close()

	actor := uuid.New()
	require.NoError(t, b.SetPreference(actor, false))
	assert.Equal(t, cached{async: false, found: true}, b.settle(actor, cached{}))

	v, ok := b.Preference(actor)
	assert.True(t, ok)
	assert.False(t, v)

	other := uuid.New()
	assert.Equal(t, cached{}, b.settle(other, cached{}))
	require.NoError(t, b.ClearPreference(actor))
	assert.Equal(t, cached{}, b.settle(actor, cached{async: true, found: true}))
}

func TestBadgerConcurrentReadersSeeLastWrite(t *testing.T) {
	b, err := OpenBadger(BadgerConfig{InMemory: true})
	require.NoError(t, err)
	defer b.Close()

	actor := uuid.New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b.Preference(actor)
			}
		}()
	}
	for j := 0; j < 50; j++ {
		require.NoError(t, b.SetPreference(actor, j%2 == 0))
	}
	wg.Wait()

	v, ok := b.Preference(actor)
	assert.True(t, ok)
	assert.False(t, v)
}
