package registry_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiiuae/vhotplug/registry"
	"github.com/tiiuae/vhotplug/vhperr"
)

func TestInsertAndLookup(t *testing.T) {
	r := registry.New()
	key := registry.Key{Kind: registry.KindUsb, ID: "2:5"}

	require.NoError(t, r.Insert(key, "vm-a", time.Unix(0, 0)))

	a, ok := r.Lookup(key)
	require.True(t, ok)
	assert.Equal(t, "vm-a", a.VmName)
}

func TestInsertDuplicateFails(t *testing.T) {
	r := registry.New()
	key := registry.Key{Kind: registry.KindPci, ID: "0000:00:1f.2"}

	require.NoError(t, r.Insert(key, "vm-a", time.Unix(0, 0)))

	err := r.Insert(key, "vm-b", time.Unix(0, 0))
	require.Error(t, err)
	assert.Equal(t, vhperr.CodeAlreadyAttached, vhperr.CodeOf(err))
}

func TestRemoveUnknownFails(t *testing.T) {
	r := registry.New()

	_, err := r.Remove(registry.Key{Kind: registry.KindUsb, ID: "missing"})
	require.Error(t, err)
	assert.Equal(t, vhperr.CodeNotAttached, vhperr.CodeOf(err))
}

func TestRemoveThenReinsert(t *testing.T) {
	r := registry.New()
	key := registry.Key{Kind: registry.KindUsb, ID: "2:5"}

	require.NoError(t, r.Insert(key, "vm-a", time.Unix(0, 0)))

	removed, err := r.Remove(key)
	require.NoError(t, err)
	assert.Equal(t, "vm-a", removed.VmName)

	require.NoError(t, r.Insert(key, "vm-b", time.Unix(0, 0)))

	a, ok := r.Lookup(key)
	require.True(t, ok)
	assert.Equal(t, "vm-b", a.VmName)
}

func TestListByVmAndKind(t *testing.T) {
	r := registry.New()

	require.NoError(t, r.Insert(registry.Key{Kind: registry.KindUsb, ID: "2:5"}, "vm-a", time.Unix(0, 0)))
	require.NoError(t, r.Insert(registry.Key{Kind: registry.KindPci, ID: "0000:00:1f.2"}, "vm-a", time.Unix(0, 0)))
	require.NoError(t, r.Insert(registry.Key{Kind: registry.KindUsb, ID: "3:1"}, "vm-b", time.Unix(0, 0)))

	assert.Len(t, r.ListByVm("vm-a"), 2)
	assert.Len(t, r.ListByVm("vm-b"), 1)
	assert.Len(t, r.ListByKind(registry.KindUsb), 2)
	assert.Len(t, r.ListByKind(registry.KindPci), 1)
}
