package object

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ember/internal/value"
)

func str(s string) *String {
	obj := &String{Str: s, Hash: HashString(s)}
	obj.ObjKind = value.KindString
	return obj
}

func TestSetGetDelete(t *testing.T) {
	table := NewTable()
	key := str("answer")

	_, ok := table.Get(key)
	assert.False(t, ok)

	assert.True(t, table.Set(key, value.Number(42)), "first set is new")
	assert.False(t, table.Set(key, value.Number(43)), "second set overwrites")

	got, ok := table.Get(key)
	require.True(t, ok)
	assert.Equal(t, 43.0, got.AsNumber())

	assert.True(t, table.Delete(key))
	_, ok = table.Get(key)
	assert.False(t, ok)
	assert.False(t, table.Delete(key), "deleting twice")
}

func TestKeysCompareByIdentity(t *testing.T) {
	table := NewTable()
	a := str("name")
	b := str("name")

	table.Set(a, value.Bool(true))
	_, ok := table.Get(b)
	assert.False(t, ok, "equal bytes but a different object must miss")
}

func TestGrowthDoublesFromMinimum(t *testing.T) {
	table := NewTable()
	assert.Equal(t, 0, table.Cap())

	table.Set(str("k0"), value.Nil())
	assert.Equal(t, 8, table.Cap())

	for i := 1; i < 7; i++ {
		table.Set(str(fmt.Sprintf("k%d", i)), value.Nil())
	}
	// the seventh insert crosses the 0.75 load factor
	assert.Equal(t, 16, table.Cap())
	assert.Equal(t, 7, table.Len())
}

func TestTombstoneReuse(t *testing.T) {
	table := NewTable()
	keys := make([]*String, 4)
	for i := range keys {
		keys[i] = str(fmt.Sprintf("key%d", i))
		table.Set(keys[i], value.Number(float64(i)))
	}
	capBefore := table.Cap()

	table.Delete(keys[2])
	other := str("replacement")
	table.Set(other, value.Number(99))
	assert.Equal(t, capBefore, table.Cap(), "a tombstone slot absorbs the insert")

	// deleted key stays gone, neighbours unaffected
	_, ok := table.Get(keys[2])
	assert.False(t, ok)
	for _, i := range []int{0, 1, 3} {
		got, ok := table.Get(keys[i])
		require.True(t, ok, "key%d", i)
		assert.Equal(t, float64(i), got.AsNumber())
	}
}

func TestFindString(t *testing.T) {
	table := NewTable()
	key := str("interned")
	table.Set(key, value.Bool(true))

	found := table.FindString("interned", HashString("interned"))
	assert.Same(t, key, found)

	assert.Nil(t, table.FindString("missing", HashString("missing")))
}

func TestAddAll(t *testing.T) {
	src := NewTable()
	dst := NewTable()
	k1 := str("a")
	k2 := str("b")
	src.Set(k1, value.Number(1))
	src.Set(k2, value.Number(2))

	dst.Set(k1, value.Number(10))
	dst.AddAll(src)

	got, _ := dst.Get(k1)
	assert.Equal(t, 1.0, got.AsNumber(), "source entries overwrite")
	got, _ = dst.Get(k2)
	assert.Equal(t, 2.0, got.AsNumber())
}

func TestDeleteIf(t *testing.T) {
	table := NewTable()
	keep := str("keep")
	drop := str("drop")
	table.Set(keep, value.Nil())
	table.Set(drop, value.Nil())

	table.DeleteIf(func(key *String) bool { return key == drop })

	_, ok := table.Get(keep)
	assert.True(t, ok)
	_, ok = table.Get(drop)
	assert.False(t, ok)
}
