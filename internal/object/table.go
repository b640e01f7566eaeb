package object

import (
	"ember/internal/value"
)

const (
	tableMaxLoad    = 0.75
	tableMinCap     = 8
	tombstoneMarker = true
)

// Entry is one open-addressing slot. A nil key with a true value is a
// tombstone left by Delete; a nil key with a nil value is empty.
type Entry struct {
	Key   *String
	Value value.Value
}

// Table is the open-addressing hash map used for interning, globals,
// fields, and methods. Keys are interned strings compared by identity;
// probing is linear with capacity kept a power of two.
type Table struct {
	count   int // live entries plus tombstones
	entries []Entry
}

func NewTable() *Table {
	return &Table{}
}

// Len reports the number of live entries.
func (t *Table) Len() int {
	n := 0
	for i := range t.entries {
		if t.entries[i].Key != nil {
			n++
		}
	}
	return n
}

// Cap exposes the slot count, for tests of the growth policy.
func (t *Table) Cap() int {
	return len(t.entries)
}

func findEntry(entries []Entry, key *String) *Entry {
	mask := uint32(len(entries) - 1)
	index := key.Hash & mask
	var tombstone *Entry
	for {
		entry := &entries[index]
		if entry.Key == nil {
			if entry.Value.IsNil() {
				// Empty slot ends the probe; reuse a passed tombstone.
				if tombstone != nil {
					return tombstone
				}
				return entry
			}
			if tombstone == nil {
				tombstone = entry
			}
		} else if entry.Key == key {
			return entry
		}
		index = (index + 1) & mask
	}
}

func (t *Table) adjustCapacity(capacity int) {
	entries := make([]Entry, capacity)
	t.count = 0
	for i := range t.entries {
		entry := &t.entries[i]
		if entry.Key == nil {
			continue
		}
		dest := findEntry(entries, entry.Key)
		dest.Key = entry.Key
		dest.Value = entry.Value
		t.count++
	}
	t.entries = entries
}

// Get looks up key, reporting whether it was present.
func (t *Table) Get(key *String) (value.Value, bool) {
	if t.count == 0 {
		return value.Nil(), false
	}
	entry := findEntry(t.entries, key)
	if entry.Key == nil {
		return value.Nil(), false
	}
	return entry.Value, true
}

// Set inserts or overwrites key, reporting whether the key was new.
func (t *Table) Set(key *String, val value.Value) bool {
	if float64(t.count+1) > float64(len(t.entries))*tableMaxLoad {
		capacity := len(t.entries) * 2
		if capacity < tableMinCap {
			capacity = tableMinCap
		}
		t.adjustCapacity(capacity)
	}
	entry := findEntry(t.entries, key)
	isNew := entry.Key == nil
	if isNew && entry.Value.IsNil() {
		t.count++
	}
	entry.Key = key
	entry.Value = val
	return isNew
}

// Delete removes key, leaving a tombstone so later probes keep walking.
func (t *Table) Delete(key *String) bool {
	if t.count == 0 {
		return false
	}
	entry := findEntry(t.entries, key)
	if entry.Key == nil {
		return false
	}
	entry.Key = nil
	entry.Value = value.Bool(tombstoneMarker)
	return true
}

// AddAll copies every live entry of src into t. Inheritance uses this to
// seed a subclass method table.
func (t *Table) AddAll(src *Table) {
	for i := range src.entries {
		entry := &src.entries[i]
		if entry.Key != nil {
			t.Set(entry.Key, entry.Value)
		}
	}
}

// FindString locates an interned string by bytes. It compares hash first,
// then length, then bytes; this is the one lookup that does not go through
// key identity.
func (t *Table) FindString(s string, hash uint32) *String {
	if t.count == 0 {
		return nil
	}
	mask := uint32(len(t.entries) - 1)
	index := hash & mask
	for {
		entry := &t.entries[index]
		if entry.Key == nil {
			if entry.Value.IsNil() {
				return nil
			}
		} else if entry.Key.Hash == hash && entry.Key.Str == s {
			return entry.Key
		}
		index = (index + 1) & mask
	}
}

// Each calls fn for every live entry; used by the collector and by
// copy-on-spawn.
func (t *Table) Each(fn func(key *String, val value.Value)) {
	for i := range t.entries {
		entry := &t.entries[i]
		if entry.Key != nil {
			fn(entry.Key, entry.Value)
		}
	}
}

// DeleteIf removes entries for which fn returns true. The collector uses
// this to drop white keys from the intern table before sweeping.
func (t *Table) DeleteIf(fn func(key *String) bool) {
	for i := range t.entries {
		entry := &t.entries[i]
		if entry.Key != nil && fn(entry.Key) {
			entry.Key = nil
			entry.Value = value.Bool(tombstoneMarker)
		}
	}
}
