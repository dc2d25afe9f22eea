package spreadsheet

import (
	"slices"

	"github.com/google/uuid"
)

// EventKind identifies what changed
type EventKind uint8

const (
	EventCellDataChanged EventKind = iota + 1
	EventCellStyleChanged
	EventCellsCleared
	EventRangeMerged
	EventRangeUnmerged
	EventBordersChanged
	EventRowsInserted
	EventRowsDeleted
	EventColumnsInserted
	EventColumnsDeleted
	EventRangeMoved
	EventNamedRangeDefined
	EventNamedRangeRemoved
	EventOutlineAdded
	EventOutlineRemoved
	EventRecalculated
	EventActionPerformed
	EventActionUndone
	EventActionRedone
)

var eventKindNames = map[EventKind]string{
	EventCellDataChanged:   "CellDataChanged",
	EventCellStyleChanged:  "CellStyleChanged",
	EventCellsCleared:      "CellsCleared",
	EventRangeMerged:       "RangeMerged",
	EventRangeUnmerged:     "RangeUnmerged",
	EventBordersChanged:    "BordersChanged",
	EventRowsInserted:      "RowsInserted",
	EventRowsDeleted:       "RowsDeleted",
	EventColumnsInserted:   "ColumnsInserted",
	EventColumnsDeleted:    "ColumnsDeleted",
	EventRangeMoved:        "RangeMoved",
	EventNamedRangeDefined: "NamedRangeDefined",
	EventNamedRangeRemoved: "NamedRangeRemoved",
	EventOutlineAdded:      "OutlineAdded",
	EventOutlineRemoved:    "OutlineRemoved",
	EventRecalculated:      "Recalculated",
	EventActionPerformed:   "ActionPerformed",
	EventActionUndone:      "ActionUndone",
	EventActionRedone:      "ActionRedone",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// Event is a change notification. fields that do not apply to the kind
// are left zero.
type Event struct {
	Kind      EventKind
	Worksheet string
	Range     RangePosition
	Name      string    // named range or action name
	ActionID  uuid.UUID // set for action events
	Count     int       // rows or columns inserted or deleted, cells recalculated
}

// Listener receives events synchronously, during the call that caused them
type Listener func(Event)

// notifier is a synchronous observer list
type notifier struct {
	listeners []*listenerEntry
}

type listenerEntry struct {
	fn Listener
}

// subscribe registers fn and returns a function removing it again
func (n *notifier) subscribe(fn Listener) func() {
	entry := &listenerEntry{fn: fn}
	n.listeners = append(n.listeners, entry)
	return func() {
		n.listeners = slices.DeleteFunc(n.listeners, func(e *listenerEntry) bool { return e == entry })
	}
}

// emit delivers ev to every listener registered when emit was called
func (n *notifier) emit(ev Event) {
	for _, entry := range slices.Clone(n.listeners) {
		entry.fn(ev)
	}
}
