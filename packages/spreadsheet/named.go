package spreadsheet

import (
	"strings"

	"golang.org/x/text/cases"
)

// NamedRange is a named rectangle of a worksheet
type NamedRange struct {
	Name      string
	Range     RangePosition
	Comment   string
	Worksheet string

	// Broken is set once a structural edit deleted every cell of the
	// range. references to a broken name evaluate to #REF!
	Broken bool
}

// NamedRangeRegistry manages the named ranges of one worksheet with ID
// tracking for efficient renaming. it holds both defined names and names
// that formulas reference before they are defined, with reference
// counting for the latter. names are compared with Unicode case folding;
// the display case of the definition is preserved.
type NamedRangeRegistry struct {
	fold cases.Caser

	// core name/ID mapping (for all names, defined or not)

	nameToID map[string]uint32 // folded name -> ID
	idToName map[uint32]string // ID -> display name

	// range definitions

	defined map[uint32]*NamedRange
	order   []uint32          // definition order
	defSeq  map[uint32]uint64 // definition sequence, for reverse lookup
	seq     uint64

	// track undefined names (referenced but not yet defined)

	undefinedIDs map[uint32]struct{}

	// reference counting

	refCounts map[uint32]int // ID -> formula reference count
	nextID    uint32

	worksheet string
}

// NewNamedRangeRegistry creates a registry for the named worksheet
func NewNamedRangeRegistry(worksheet string) *NamedRangeRegistry {
	nr := &NamedRangeRegistry{fold: cases.Fold(), worksheet: worksheet}
	nr.Clear()
	return nr
}

func (nr *NamedRangeRegistry) key(name string) string {
	return nr.fold.String(name)
}

// ValidateName checks that name can be used for a named range: it must be
// non-empty, start with a letter or underscore, contain only letters,
// digits, underscores and dots, and must not read as a cell address or a
// boolean.
func ValidateName(name string) error {
	if name == "" {
		return newKindError(InvalidArgument, ErrInvalidName, "name must not be empty")
	}
	for i, ch := range name {
		if (i == 0 && !isIdentStart(ch)) || !isIdentChar(ch) {
			return newKindError(InvalidArgument, ErrInvalidName, "invalid name: %q", name)
		}
	}
	if _, ok := parseCellRef(name); ok {
		return newKindError(InvalidArgument, ErrInvalidName, "name %q is a cell address", name)
	}
	if upper := strings.ToUpper(name); upper == "TRUE" || upper == "FALSE" {
		return newKindError(InvalidArgument, ErrInvalidName, "name %q is reserved", name)
	}
	return nil
}

// intern adds a formula reference to a name (defined or not). returns the
// ID of the name.
func (nr *NamedRangeRegistry) intern(name string) uint32 {
	key := nr.key(name)
	if id, exists := nr.nameToID[key]; exists {
		nr.refCounts[id]++
		return id
	}

	// add new undefined name
	id := nr.nextID
	nr.nameToID[key] = id
	nr.idToName[id] = name
	nr.undefinedIDs[id] = struct{}{}
	nr.refCounts[id] = 1
	nr.nextID++
	return id
}

// release drops a formula reference. undefined names without references
// are forgotten.
func (nr *NamedRangeRegistry) release(id uint32) {
	if _, exists := nr.idToName[id]; !exists {
		return
	}
	nr.refCounts[id]--
	if nr.refCounts[id] > 0 {
		return
	}
	nr.refCounts[id] = 0
	if _, isUndefined := nr.undefinedIDs[id]; isUndefined {
		nr.removeID(id)
	}
}

func (nr *NamedRangeRegistry) removeID(id uint32) {
	delete(nr.nameToID, nr.key(nr.idToName[id]))
	delete(nr.idToName, id)
	delete(nr.defined, id)
	delete(nr.defSeq, id)
	delete(nr.undefinedIDs, id)
	delete(nr.refCounts, id)
}

// Define adds a named range. a name that is already defined fails with
// ErrNamedRangeAlreadyDefined and the prior definition is left untouched.
// returns the ID of the name.
func (nr *NamedRangeRegistry) Define(name string, r RangePosition, comment string) (NamedRange, uint32, error) {
	if err := ValidateName(name); err != nil {
		return NamedRange{}, 0, err
	}
	if !r.IsValid() {
		return NamedRange{}, 0, newKindError(InvalidArgument, ErrInvalidAddress, "invalid range for name %q", name)
	}

	key := nr.key(name)
	id, exists := nr.nameToID[key]
	if exists {
		if _, defined := nr.defined[id]; defined {
			return NamedRange{}, 0, newKindError(AlreadyExists, ErrNamedRangeAlreadyDefined, "named range %q is already defined", name)
		}
		delete(nr.undefinedIDs, id)
	} else {
		id = nr.nextID
		nr.nextID++
		nr.nameToID[key] = id
		nr.refCounts[id] = 0
	}

	// the defining spelling becomes the display name
	nr.idToName[id] = name
	named := &NamedRange{Name: name, Range: r, Comment: comment, Worksheet: nr.worksheet}
	nr.defined[id] = named
	nr.order = append(nr.order, id)
	nr.seq++
	nr.defSeq[id] = nr.seq
	return *named, id, nil
}

// Remove removes the definition of a name. names still referenced by
// formulas stay interned as undefined. returns the ID and false if the
// name was not defined.
func (nr *NamedRangeRegistry) Remove(name string) (uint32, bool) {
	id, exists := nr.nameToID[nr.key(name)]
	if !exists {
		return 0, false
	}
	if _, defined := nr.defined[id]; !defined {
		return id, false
	}

	delete(nr.defined, id)
	delete(nr.defSeq, id)
	nr.removeFromOrder(id)

	if nr.refCounts[id] > 0 {
		nr.undefinedIDs[id] = struct{}{}
	} else {
		nr.removeID(id)
	}
	return id, true
}

func (nr *NamedRangeRegistry) removeFromOrder(id uint32) {
	for i, existing := range nr.order {
		if existing == id {
			nr.order = append(nr.order[:i], nr.order[i+1:]...)
			return
		}
	}
}

// Rename changes the name of a defined named range. the new name must be
// valid and not defined yet.
func (nr *NamedRangeRegistry) Rename(oldName, newName string) (uint32, error) {
	if err := ValidateName(newName); err != nil {
		return 0, err
	}
	oldKey, newKey := nr.key(oldName), nr.key(newName)
	id, exists := nr.nameToID[oldKey]
	if !exists {
		return 0, newKindError(NotFound, ErrNamedRangeNotFound, "named range %q not found", oldName)
	}
	named, defined := nr.defined[id]
	if !defined {
		return 0, newKindError(NotFound, ErrNamedRangeNotFound, "named range %q not found", oldName)
	}
	if otherID, taken := nr.nameToID[newKey]; taken && otherID != id {
		if _, otherDefined := nr.defined[otherID]; otherDefined {
			return 0, newKindError(AlreadyExists, ErrNamedRangeAlreadyDefined, "named range %q is already defined", newName)
		}
		// the renamed range takes over the key of the pending reference;
		// its formulas are rebound by the worksheet
		nr.removeID(otherID)
	}

	delete(nr.nameToID, oldKey)
	nr.nameToID[newKey] = id
	nr.idToName[id] = newName
	named.Name = newName
	return id, nil
}

// Get returns the named range by name
func (nr *NamedRangeRegistry) Get(name string) (NamedRange, bool) {
	id, exists := nr.nameToID[nr.key(name)]
	if !exists {
		return NamedRange{}, false
	}
	named, defined := nr.defined[id]
	if !defined {
		return NamedRange{}, false
	}
	return *named, true
}

// byID returns the named range by ID
func (nr *NamedRangeRegistry) byID(id uint32) (*NamedRange, bool) {
	named, defined := nr.defined[id]
	return named, defined
}

// ID returns the ID of a name, defined or only referenced
func (nr *NamedRangeRegistry) ID(name string) (uint32, bool) {
	id, exists := nr.nameToID[nr.key(name)]
	return id, exists
}

// Contains checks if a name is defined
func (nr *NamedRangeRegistry) Contains(name string) bool {
	_, ok := nr.Get(name)
	return ok
}

// AllNames returns the defined names in definition order
func (nr *NamedRangeRegistry) AllNames() []string {
	result := make([]string, 0, len(nr.order))
	for _, id := range nr.order {
		result = append(result, nr.defined[id].Name)
	}
	return result
}

// UndefinedNames returns the names referenced by formulas but not defined
func (nr *NamedRangeRegistry) UndefinedNames() []string {
	result := make([]string, 0, len(nr.undefinedIDs))
	for id := range nr.undefinedIDs {
		result = append(result, nr.idToName[id])
	}
	return result
}

// NameForRange returns the name defined for exactly r. when several names
// cover the same range the most recently defined one wins.
func (nr *NamedRangeRegistry) NameForRange(r RangePosition) (string, bool) {
	var best string
	var bestSeq uint64
	for id, named := range nr.defined {
		if named.Broken || named.Range != r {
			continue
		}
		if seq := nr.defSeq[id]; seq > bestSeq {
			best, bestSeq = named.Name, seq
		}
	}
	return best, bestSeq > 0
}

// GetReferenceCount returns the number of formula references to a name
func (nr *NamedRangeRegistry) GetReferenceCount(id uint32) int {
	return nr.refCounts[id]
}

// Count returns the number of defined names
func (nr *NamedRangeRegistry) Count() int {
	return len(nr.defined)
}

// adjust maps every defined range through a structural edit. ranges whose
// cells were all deleted are marked broken. returns the IDs of changed
// names.
func (nr *NamedRangeRegistry) adjust(edit refEdit) []uint32 {
	var changed []uint32
	for _, id := range nr.order {
		named := nr.defined[id]
		if named.Broken {
			continue
		}
		next, ok := edit.mapRange(named.Range)
		switch {
		case !ok:
			named.Broken = true
		case next != named.Range:
			named.Range = next
		default:
			continue
		}
		changed = append(changed, id)
	}
	return changed
}

// snapshot returns a deep copy of the registry
func (nr *NamedRangeRegistry) snapshot() *NamedRangeRegistry {
	cp := &NamedRangeRegistry{
		fold:         cases.Fold(),
		nameToID:     make(map[string]uint32, len(nr.nameToID)),
		idToName:     make(map[uint32]string, len(nr.idToName)),
		defined:      make(map[uint32]*NamedRange, len(nr.defined)),
		order:        append([]uint32(nil), nr.order...),
		defSeq:       make(map[uint32]uint64, len(nr.defSeq)),
		seq:          nr.seq,
		undefinedIDs: make(map[uint32]struct{}, len(nr.undefinedIDs)),
		refCounts:    make(map[uint32]int, len(nr.refCounts)),
		nextID:       nr.nextID,
		worksheet:    nr.worksheet,
	}
	for k, v := range nr.nameToID {
		cp.nameToID[k] = v
	}
	for k, v := range nr.idToName {
		cp.idToName[k] = v
	}
	for k, v := range nr.defined {
		named := *v
		cp.defined[k] = &named
	}
	for k, v := range nr.defSeq {
		cp.defSeq[k] = v
	}
	for k := range nr.undefinedIDs {
		cp.undefinedIDs[k] = struct{}{}
	}
	for k, v := range nr.refCounts {
		cp.refCounts[k] = v
	}
	return cp
}

// resetReferences forgets every formula reference, dropping the names that
// are only referenced. used before the formulas of a worksheet are bound
// again from scratch.
func (nr *NamedRangeRegistry) resetReferences() {
	for id := range nr.undefinedIDs {
		nr.removeID(id)
	}
	for id := range nr.refCounts {
		nr.refCounts[id] = 0
	}
}

// Clear removes all names from the registry
func (nr *NamedRangeRegistry) Clear() {
	nr.nameToID = make(map[string]uint32)
	nr.idToName = make(map[uint32]string)
	nr.defined = make(map[uint32]*NamedRange)
	nr.order = nil
	nr.defSeq = make(map[uint32]uint64)
	nr.seq = 0
	nr.undefinedIDs = make(map[uint32]struct{})
	nr.refCounts = make(map[uint32]int)
	nr.nextID = 1 // start at 1, reserve 0 for no name
}
