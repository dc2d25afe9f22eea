package spreadsheet

import "math"

// CellBody gives a cell a behavior beyond holding data, e.g. a checkbox. the
// set of kinds is closed per engine: bodies are created through the factory
// table on the EngineContext.
type CellBody interface {
	// Kind is the registry key the body was created from
	Kind() string
	// Evaluate maps the cell's raw data to the value shown to readers
	Evaluate(data Primitive) Primitive
	// RenderHint tells a renderer how to draw the cell
	RenderHint() string
}

// CellBodyFactory creates a fresh body instance
type CellBodyFactory func() CellBody

const (
	BodyKindCheckbox  = "checkbox"
	BodyKindProgress  = "progress"
	BodyKindHyperlink = "hyperlink"
)

func defaultCellBodies() map[string]CellBodyFactory {
	return map[string]CellBodyFactory{
		BodyKindCheckbox:  func() CellBody { return &CheckboxBody{} },
		BodyKindProgress:  func() CellBody { return &ProgressBody{} },
		BodyKindHyperlink: func() CellBody { return &HyperlinkBody{} },
	}
}

// CheckboxBody shows the truthiness of the cell data
type CheckboxBody struct{}

func (b *CheckboxBody) Kind() string { return BodyKindCheckbox }

func (b *CheckboxBody) Evaluate(data Primitive) Primitive {
	if err := checkForError(data); err != nil {
		return err
	}
	return isTruthy(data)
}

func (b *CheckboxBody) RenderHint() string { return "checkbox" }

// ProgressBody clamps numeric data into [0, 1]
type ProgressBody struct{}

func (b *ProgressBody) Kind() string { return BodyKindProgress }

func (b *ProgressBody) Evaluate(data Primitive) Primitive {
	if err := checkForError(data); err != nil {
		return err
	}
	num, ok := toNumber(data)
	if !ok || math.IsNaN(num) {
		return 0.0
	}
	return math.Max(0, math.Min(1, num))
}

func (b *ProgressBody) RenderHint() string { return "bar" }

// HyperlinkBody renders the cell text as a link
type HyperlinkBody struct{}

func (b *HyperlinkBody) Kind() string { return BodyKindHyperlink }

func (b *HyperlinkBody) Evaluate(data Primitive) Primitive { return data }

func (b *HyperlinkBody) RenderHint() string { return "link" }
