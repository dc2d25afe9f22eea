package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/vogtb/go-spreadsheet/packages/spreadsheet"
)

// Config tunes a Runner
type Config struct {
	Logger          *slog.Logger
	Strict          bool
	AutoCalculate   bool
	KeepGoing       bool
	HistoryCapacity int // 0 keeps every action
}

// Runner executes script lines against one workbook
type Runner struct {
	sheet     *spreadsheet.RunnableWorksheet
	out       io.Writer
	logger    *slog.Logger
	keepGoing bool
	failed    int

	watched map[*spreadsheet.Worksheet]struct{}
}

// ErrExpectation is returned by a failing expect command
var ErrExpectation = errors.New("expectation failed")

type command struct {
	args  int // minimum number of fields after the name
	usage string
	run   func(r *Runner, fields []string, rest string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"set":          {1, "set ADDR VALUE", (*Runner).cmdSet},
		"get":          {1, "get ADDR", (*Runner).cmdGet},
		"print":        {1, "print ADDR", (*Runner).cmdGet},
		"formula":      {1, "formula ADDR", (*Runner).cmdFormula},
		"state":        {1, "state ADDR", (*Runner).cmdState},
		"expect":       {1, "expect ADDR TEXT", (*Runner).cmdExpect},
		"clear":        {1, "clear RANGE", (*Runner).cmdClear},
		"dump":         {1, "dump RANGE", (*Runner).cmdDump},
		"calc":         {0, "calc", (*Runner).cmdCalc},
		"recalc":       {0, "recalc", (*Runner).cmdRecalc},
		"sheet":        {1, "sheet NAME", (*Runner).cmdSheet},
		"rename-sheet": {2, "rename-sheet OLD NEW", (*Runner).cmdRenameSheet},
		"remove-sheet": {1, "remove-sheet NAME", (*Runner).cmdRemoveSheet},
		"name":         {2, "name NAME RANGE", (*Runner).cmdName},
		"unname":       {1, "unname NAME", (*Runner).cmdUnname},
		"merge":        {1, "merge RANGE", (*Runner).cmdMerge},
		"unmerge":      {1, "unmerge RANGE", (*Runner).cmdUnmerge},
		"style":        {2, "style RANGE KEY", (*Runner).cmdStyle},
		"insert-rows":  {2, "insert-rows ROW COUNT", structural((*spreadsheet.RunnableWorksheet).InsertRows, true)},
		"delete-rows":  {2, "delete-rows ROW COUNT", structural((*spreadsheet.RunnableWorksheet).DeleteRows, true)},
		"insert-cols":  {2, "insert-cols COL COUNT", structural((*spreadsheet.RunnableWorksheet).InsertColumns, false)},
		"delete-cols":  {2, "delete-cols COL COUNT", structural((*spreadsheet.RunnableWorksheet).DeleteColumns, false)},
		"repeat":       {1, "repeat RANGE", (*Runner).cmdRepeat},
		"undo":         {0, "undo", (*Runner).cmdUndo},
		"redo":         {0, "redo", (*Runner).cmdRedo},
	}
}

// NewRunner creates a runner writing results to out
func NewRunner(out io.Writer, cfg Config) *Runner {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	var opts []spreadsheet.WorksheetOption
	if cfg.Strict {
		opts = append(opts, spreadsheet.WithStrictFormulas())
	}
	if cfg.AutoCalculate {
		opts = append(opts, spreadsheet.WithAutoCalculate())
	}
	opts = append(opts, spreadsheet.WithHistoryCapacity(cfg.HistoryCapacity))

	book := spreadsheet.NewWorkbook(spreadsheet.NewEngineContext(spreadsheet.WithLogger(cfg.Logger)))
	r := &Runner{
		out:       out,
		logger:    cfg.Logger,
		keepGoing: cfg.KeepGoing,
		watched:   make(map[*spreadsheet.Worksheet]struct{}),
	}
	r.sheet = spreadsheet.NewRunnableWorkbook(func(line string) { fmt.Fprintln(r.out, line) }, book, opts...)
	r.watch()
	return r
}

// Failed returns the number of commands that failed while keeping going
func (r *Runner) Failed() int {
	return r.failed
}

// Workbook returns the workbook the script runs against
func (r *Runner) Workbook() *spreadsheet.Workbook {
	return r.sheet.Workbook()
}

// watch logs the events of the current worksheet
func (r *Runner) watch() {
	ws := r.sheet.Worksheet()
	if ws == nil {
		return
	}
	if _, ok := r.watched[ws]; ok {
		return
	}
	r.watched[ws] = struct{}{}
	ws.Subscribe(func(ev spreadsheet.Event) {
		r.logger.Debug("event", "kind", ev.Kind.String(), "worksheet", ev.Worksheet,
			"range", ev.Range.String(), "name", ev.Name, "count", ev.Count)
	})
}

// Run executes every line of script. blank lines and lines starting with
// # are skipped.
func (r *Runner) Run(ctx context.Context, script io.Reader) error {
	sc := bufio.NewScanner(script)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := r.Exec(line); err != nil {
			if !r.keepGoing {
				return fmt.Errorf("line %d: %w", lineNo, err)
			}
			r.failed++
			r.logger.Warn("command failed", "line", lineNo, "command", line, "error", err)
		}
	}
	return sc.Err()
}

// Exec executes a single command line
func (r *Runner) Exec(line string) error {
	name, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	cmd, ok := commands[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("unknown command %q", name)
	}
	rest = strings.TrimSpace(rest)
	fields := strings.Fields(rest)
	if len(fields) < cmd.args {
		return fmt.Errorf("usage: %s", cmd.usage)
	}
	r.logger.Debug("exec", "command", name, "args", rest)
	err := cmd.run(r, fields, rest)
	r.sheet.Reset()
	r.watch()
	return err
}

// afterAddress returns what follows the first field of rest
func afterAddress(rest string) string {
	_, value, _ := strings.Cut(rest, " ")
	return strings.TrimSpace(value)
}

// parseValue reads a script value: a formula, a quoted string, a boolean,
// a number or else the bare text
func parseValue(text string) spreadsheet.Primitive {
	switch {
	case text == "":
		return nil
	case strings.HasPrefix(text, "="):
		return text
	case len(text) >= 2 && strings.HasPrefix(text, `"`) && strings.HasSuffix(text, `"`):
		if s, err := strconv.Unquote(text); err == nil {
			return s
		}
		return text[1 : len(text)-1]
	case strings.EqualFold(text, "true"):
		return true
	case strings.EqualFold(text, "false"):
		return false
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return f
	}
	return text
}

func (r *Runner) cmdSet(fields []string, rest string) error {
	return r.sheet.Set(fields[0], parseValue(afterAddress(rest))).Error()
}

func (r *Runner) cmdGet(fields []string, _ string) error {
	text := r.sheet.Text(fields[0])
	if err := r.sheet.Error(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(r.out, "%s = %s\n", fields[0], text)
	return err
}

func (r *Runner) cmdFormula(fields []string, _ string) error {
	ws, pos, err := r.cell(fields[0])
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(r.out, "%s := %s\n", fields[0], ws.GetCellFormula(pos))
	return err
}

func (r *Runner) cmdState(fields []string, _ string) error {
	ws, pos, err := r.cell(fields[0])
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(r.out, "%s : %s\n", fields[0], ws.GetFormulaState(pos))
	return err
}

func (r *Runner) cmdExpect(fields []string, rest string) error {
	want := afterAddress(rest)
	if s, err := strconv.Unquote(want); err == nil {
		want = s
	}
	got := r.sheet.Text(fields[0])
	if err := r.sheet.Error(); err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: %s = %q, want %q", ErrExpectation, fields[0], got, want)
	}
	return nil
}

func (r *Runner) cmdClear(fields []string, _ string) error {
	return r.sheet.Remove(fields[0]).Error()
}

// cmdDump prints a range as tab separated rows
func (r *Runner) cmdDump(fields []string, _ string) error {
	ws, rng, err := r.rangeOf(fields[0])
	if err != nil {
		return err
	}
	rng = rng.Resolve(ws.RowCount(), ws.ColumnCount())
	if used, ok := ws.UsedRange(); ok {
		if clipped, ok := rng.Intersection(used); ok {
			rng = clipped
		}
	}
	bw := bufio.NewWriter(r.out)
	for row := rng.Row; row <= rng.EndRow(); row++ {
		for col := rng.Col; col <= rng.EndCol(); col++ {
			if col > rng.Col {
				bw.WriteByte('\t')
			}
			bw.WriteString(ws.GetCellText(spreadsheet.Pos(row, col)))
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

func (r *Runner) cmdCalc([]string, string) error {
	_, err := r.sheet.Run()
	return err
}

func (r *Runner) cmdRecalc([]string, string) error {
	return r.sheet.Calculate().Error()
}

func (r *Runner) cmdSheet(_ []string, rest string) error {
	return r.sheet.WithWorksheet(rest).Error()
}

func (r *Runner) cmdRenameSheet(fields []string, rest string) error {
	return r.sheet.RenameWorksheet(fields[0], afterAddress(rest)).Error()
}

func (r *Runner) cmdRemoveSheet(_ []string, rest string) error {
	return r.sheet.RemoveWorksheet(rest).Error()
}

func (r *Runner) cmdName(fields []string, _ string) error {
	return r.sheet.DefineNamedRange(fields[0], fields[1]).Error()
}

func (r *Runner) cmdUnname(fields []string, _ string) error {
	return r.sheet.RemoveNamedRange(fields[0]).Error()
}

func (r *Runner) cmdMerge(fields []string, _ string) error {
	return r.sheet.Merge(fields[0]).Error()
}

func (r *Runner) cmdUnmerge(fields []string, _ string) error {
	return r.sheet.Unmerge(fields[0]).Error()
}

func (r *Runner) cmdStyle(fields []string, _ string) error {
	ws, rng, err := r.rangeOf(fields[0])
	if err != nil {
		return err
	}
	return ws.DoAction(spreadsheet.NewSetRangeStyleAction(rng, fields[1]))
}

func (r *Runner) cmdRepeat(fields []string, _ string) error {
	ws, rng, err := r.rangeOf(fields[0])
	if err != nil {
		return err
	}
	repeated, err := ws.RepeatLastAction(rng)
	if err != nil {
		return err
	}
	if !repeated {
		return errors.New("the last action cannot be repeated")
	}
	return nil
}

func (r *Runner) cmdUndo([]string, string) error {
	return r.sheet.Undo().Error()
}

func (r *Runner) cmdRedo([]string, string) error {
	return r.sheet.Redo().Error()
}

// structural adapts a row or column edit. rows are given 1-based, columns
// by letter or 1-based number.
func structural(edit func(*spreadsheet.RunnableWorksheet, int, int) *spreadsheet.RunnableWorksheet, rows bool) func(*Runner, []string, string) error {
	return func(r *Runner, fields []string, _ string) error {
		at, err := parseIndex(fields[0], rows)
		if err != nil {
			return err
		}
		count, err := strconv.Atoi(fields[1])
		if err != nil {
			return fmt.Errorf("count %q: %w", fields[1], err)
		}
		return edit(r.sheet, at, count).Error()
	}
}

func parseIndex(text string, rows bool) (int, error) {
	if n, err := strconv.Atoi(text); err == nil {
		if n < 1 {
			return 0, fmt.Errorf("index %d: must be at least 1", n)
		}
		return n - 1, nil
	}
	if !rows {
		if col, ok := spreadsheet.ColumnIndex(strings.ToUpper(text)); ok {
			return col, nil
		}
	}
	return 0, fmt.Errorf("invalid index %q", text)
}

// rangeOf resolves an optionally worksheet-qualified range
func (r *Runner) rangeOf(address string) (*spreadsheet.Worksheet, spreadsheet.RangePosition, error) {
	ws := r.sheet.Worksheet()
	ref := address
	if i := strings.LastIndexByte(address, '!'); i > 0 {
		name := strings.Trim(address[:i], "'")
		name = strings.ReplaceAll(name, "''", "'")
		var ok bool
		if ws, ok = r.Workbook().Worksheet(name); !ok {
			return nil, spreadsheet.RangePosition{}, fmt.Errorf("worksheet %q: %w", name, spreadsheet.ErrWorksheetNotFound)
		}
		ref = address[i+1:]
	}
	if ws == nil {
		return nil, spreadsheet.RangePosition{}, spreadsheet.ErrWorksheetNotFound
	}
	rng, err := spreadsheet.ParseAddress(ref)
	return ws, rng, err
}

func (r *Runner) cell(address string) (*spreadsheet.Worksheet, spreadsheet.CellPosition, error) {
	ws, rng, err := r.rangeOf(address)
	if err != nil {
		return nil, spreadsheet.CellPosition{}, err
	}
	if !rng.IsSingleCell() {
		return nil, spreadsheet.CellPosition{}, fmt.Errorf("%s: %w", address, spreadsheet.ErrInvalidAddress)
	}
	return ws, rng.StartPos(), nil
}
