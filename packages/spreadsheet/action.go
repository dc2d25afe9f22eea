package spreadsheet

import (
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/google/uuid"
)

// DefaultHistoryCapacity is the number of actions kept for undo
const DefaultHistoryCapacity = 30

// Action is an undoable change to a worksheet
type Action interface {
	ID() uuid.UUID
	Name() string
	Do(ws *Worksheet) error
	Undo(ws *Worksheet) error
}

// RepeatableAction is an action whose parameters can be applied to another
// range
type RepeatableAction interface {
	Action
	Target() RangePosition
	CloneFor(target RangePosition) Action
}

type baseAction struct {
	id   uuid.UUID
	name string
}

func newBaseAction(name string) baseAction {
	return baseAction{id: uuid.New(), name: name}
}

func (a *baseAction) ID() uuid.UUID { return a.id }
func (a *baseAction) Name() string  { return a.name }

// safeCall runs fn, turning a panic into a *PanicError
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	return fn()
}

// ActionGroup runs its members as one action. if a member fails, the
// members already done are undone in reverse order.
type ActionGroup struct {
	baseAction
	actions []Action
}

// NewActionGroup creates a group of actions performed in order
func NewActionGroup(name string, actions ...Action) *ActionGroup {
	return &ActionGroup{baseAction: newBaseAction(name), actions: actions}
}

// Add appends an action to the group
func (g *ActionGroup) Add(action Action) {
	g.actions = append(g.actions, action)
}

// Actions returns the members of the group
func (g *ActionGroup) Actions() []Action {
	return g.actions
}

func (g *ActionGroup) Do(ws *Worksheet) error {
	for i, action := range g.actions {
		if err := safeCall(func() error { return action.Do(ws) }); err != nil {
			cause := &ActionError{Action: action.Name(), Err: err}
			if rollbackErrs := rollback(ws, g.actions[:i]); len(rollbackErrs) > 0 {
				return &RollbackError{Cause: cause, Errors: rollbackErrs}
			}
			return cause
		}
	}
	return nil
}

func (g *ActionGroup) Undo(ws *Worksheet) error {
	var errs []error
	for i := len(g.actions) - 1; i >= 0; i-- {
		action := g.actions[i]
		if err := safeCall(func() error { return action.Undo(ws) }); err != nil {
			errs = append(errs, &ActionError{Action: action.Name(), Err: err})
		}
	}
	return errors.Join(errs...)
}

// rollback undoes done in reverse order and collects the failures
func rollback(ws *Worksheet, done []Action) []error {
	var errs []error
	for i := len(done) - 1; i >= 0; i-- {
		action := done[i]
		if err := safeCall(func() error { return action.Undo(ws) }); err != nil {
			errs = append(errs, fmt.Errorf("undo %s: %w", action.Name(), err))
		}
	}
	return errs
}

// ActionStack holds the undo and redo history of a worksheet
type ActionStack struct {
	undo     []Action
	redo     []Action
	capacity int
	last     Action
}

// NewActionStack creates a history keeping capacity actions; 0 keeps all
func NewActionStack(capacity int) *ActionStack {
	return &ActionStack{capacity: max(capacity, 0)}
}

func (s *ActionStack) push(action Action) {
	s.undo = append(s.undo, action)
	if s.capacity > 0 && len(s.undo) > s.capacity {
		s.undo = s.undo[len(s.undo)-s.capacity:]
	}
	s.redo = nil
	s.last = action
}

// CanUndo reports whether there is an action to undo
func (s *ActionStack) CanUndo() bool {
	return len(s.undo) > 0
}

// CanRedo reports whether there is an action to redo
func (s *ActionStack) CanRedo() bool {
	return len(s.redo) > 0
}

// UndoCount returns the number of actions that can be undone
func (s *ActionStack) UndoCount() int {
	return len(s.undo)
}

// Clear drops the whole history
func (s *ActionStack) Clear() {
	s.undo, s.redo, s.last = nil, nil, nil
}

// DoAction performs action and records it for undo. a failed action is not
// recorded and leaves the history untouched.
func (ws *Worksheet) DoAction(action Action) error {
	if err := safeCall(func() error { return action.Do(ws) }); err != nil {
		return err
	}
	ws.history.push(action)
	ws.events.emit(Event{Kind: EventActionPerformed, Worksheet: ws.name, Name: action.Name(), ActionID: action.ID()})
	return nil
}

// Undo reverts the last performed action. false means there was nothing
// to undo.
func (ws *Worksheet) Undo() (bool, error) {
	s := ws.history
	if !s.CanUndo() {
		return false, nil
	}
	action := s.undo[len(s.undo)-1]
	if err := safeCall(func() error { return action.Undo(ws) }); err != nil {
		return false, err
	}
	s.undo = s.undo[:len(s.undo)-1]
	s.redo = append(s.redo, action)
	ws.events.emit(Event{Kind: EventActionUndone, Worksheet: ws.name, Name: action.Name(), ActionID: action.ID()})
	return true, nil
}

// Redo performs the last undone action again
func (ws *Worksheet) Redo() (bool, error) {
	s := ws.history
	if !s.CanRedo() {
		return false, nil
	}
	action := s.redo[len(s.redo)-1]
	if err := safeCall(func() error { return action.Do(ws) }); err != nil {
		return false, err
	}
	s.redo = s.redo[:len(s.redo)-1]
	s.undo = append(s.undo, action)
	ws.events.emit(Event{Kind: EventActionRedone, Worksheet: ws.name, Name: action.Name(), ActionID: action.ID()})
	return true, nil
}

// CanUndo reports whether Undo has something to revert
func (ws *Worksheet) CanUndo() bool {
	return ws.history.CanUndo()
}

// CanRedo reports whether Redo has something to perform
func (ws *Worksheet) CanRedo() bool {
	return ws.history.CanRedo()
}

// History returns the action stack of the worksheet
func (ws *Worksheet) History() *ActionStack {
	return ws.history
}

// RepeatLastAction applies the last performed action to target. false
// means the last action cannot be repeated.
func (ws *Worksheet) RepeatLastAction(target RangePosition) (bool, error) {
	repeatable, ok := ws.history.last.(RepeatableAction)
	if !ok {
		name := "<none>"
		if ws.history.last != nil {
			name = ws.history.last.Name()
		}
		ws.logger.Debug("last action is not repeatable", "worksheet", ws.name, "action", name)
		return false, nil
	}
	if err := ws.DoAction(repeatable.CloneFor(target)); err != nil {
		return false, err
	}
	return true, nil
}
