package spreadsheet

import "maps"

// StyleTable interns style keys into small integer IDs with reference
// counting, so cells carry a uint32 instead of a style reference. ID 0 is
// reserved for "no explicit style".
type StyleTable struct {
	keys       map[string]uint32
	reverseMap map[uint32]string
	refCounts  map[uint32]int // reference count for each style ID
	nextID     uint32
}

// NewStyleTable creates a new style table
func NewStyleTable() *StyleTable {
	return &StyleTable{
		keys:       make(map[string]uint32),
		reverseMap: make(map[uint32]string),
		refCounts:  make(map[uint32]int),
		nextID:     1,
	}
}

// Intern adds a style key to the table or increments its reference count if
// it already exists. the empty key maps to 0 and is never stored.
func (st *StyleTable) Intern(key string) uint32 {
	if key == "" {
		return 0
	}
	if id, exists := st.keys[key]; exists {
		st.refCounts[id]++
		return id
	}

	id := st.nextID
	st.keys[key] = id
	st.reverseMap[id] = key
	st.refCounts[id] = 1
	st.nextID++

	return id
}

// Key retrieves a style key by its ID
func (st *StyleTable) Key(id uint32) (string, bool) {
	key, exists := st.reverseMap[id]
	return key, exists
}

// Contains checks if a key exists in the table and returns its ID
func (st *StyleTable) Contains(key string) (uint32, bool) {
	id, exists := st.keys[key]
	return id, exists
}

// AddReference increments the reference count for a style ID
func (st *StyleTable) AddReference(id uint32) bool {
	if _, exists := st.reverseMap[id]; !exists {
		return false
	}
	st.refCounts[id]++
	return true
}

// Release decrements the reference count for a style ID. the key is
// dropped when the count reaches 0. returns true if it was dropped.
func (st *StyleTable) Release(id uint32) bool {
	key, exists := st.reverseMap[id]
	if !exists {
		return false
	}

	st.refCounts[id]--
	if st.refCounts[id] <= 0 {
		delete(st.keys, key)
		delete(st.reverseMap, id)
		delete(st.refCounts, id)
		return true
	}

	return false
}

// ReferenceCount returns the reference count for a style ID
func (st *StyleTable) ReferenceCount(id uint32) int {
	return st.refCounts[id]
}

// Count returns the number of distinct style keys in use
func (st *StyleTable) Count() int {
	return len(st.keys)
}

func (st *StyleTable) clone() *StyleTable {
	return &StyleTable{
		keys:       maps.Clone(st.keys),
		reverseMap: maps.Clone(st.reverseMap),
		refCounts:  maps.Clone(st.refCounts),
		nextID:     st.nextID,
	}
}

// Clear removes all keys from the table
func (st *StyleTable) Clear() {
	st.keys = make(map[string]uint32)
	st.reverseMap = make(map[uint32]string)
	st.refCounts = make(map[uint32]int)
	st.nextID = 1
}
