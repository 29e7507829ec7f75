// Package sandbox executes accepted code artifacts against a dataset inside
// an embedded Lua state. Nothing dangerous is opened: no os, io, load, or
// print, the dataset is copied in rather than shared, and the state is
// bounded by a deadline and a registry ceiling.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/mpataki/stride/internal/chart"
	"github.com/mpataki/stride/internal/dataset"
	"github.com/mpataki/stride/internal/logging"
)

// ContractError means the code ran to completion but did not honor the
// output contract (no result, no chart, or a malformed value).
type ContractError struct {
	Reason string
}

func (e *ContractError) Error() string {
	return "output contract violation: " + e.Reason
}

// ResourceLimitError means execution was aborted for exceeding the time or
// memory budget. Never retried.
type ResourceLimitError struct {
	Reason string
}

func (e *ResourceLimitError) Error() string {
	return "resource limit exceeded: " + e.Reason
}

type Options struct {
	Timeout         time.Duration
	RegistryMaxSize int
}

type Executor struct {
	opts   Options
	logger *slog.Logger
}

func New(opts Options, logger *slog.Logger) *Executor {
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Executor{opts: opts, logger: logger}
}

// Result is what one execution produced. Exactly one of Value/Chart is set
// on success, depending on the artifact kind.
type Result struct {
	Value    string
	Chart    *chart.Spec
	Logs     []string
	Duration time.Duration
}

// RunData executes a data-analysis artifact and captures its result() value.
func (e *Executor) RunData(ctx context.Context, code string, ds *dataset.Dataset) (*Result, error) {
	return e.run(ctx, code, ds, false)
}

// RunChart executes a chart artifact and captures its chart.render() spec.
func (e *Executor) RunChart(ctx context.Context, code string, ds *dataset.Dataset) (*Result, error) {
	return e.run(ctx, code, ds, true)
}

func (e *Executor) run(ctx context.Context, code string, ds *dataset.Dataset, wantChart bool) (*Result, error) {
	opts := lua.Options{SkipOpenLibs: true}
	if e.opts.RegistryMaxSize > 0 {
		opts.RegistryMaxSize = e.opts.RegistryMaxSize
	}

	L := lua.NewState(opts)
	defer L.Close()

	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()
	L.SetContext(ctx)

	openSafeLibs(L)

	host := &hostAPI{ds: ds, columns: make(map[string]*lua.LTable)}
	host.register(L, wantChart)

	start := time.Now()
	err := L.DoString(code)
	duration := time.Since(start)

	res := &Result{Logs: host.logs, Duration: duration}

	if err != nil {
		if ctx.Err() != nil {
			return res, &ResourceLimitError{Reason: fmt.Sprintf("execution exceeded %s", e.opts.Timeout)}
		}
		if strings.Contains(err.Error(), "registry overflow") {
			return res, &ResourceLimitError{Reason: "execution exceeded the memory budget"}
		}
		e.logger.Debug("sandbox runtime error", "error", err)
		return res, fmt.Errorf("runtime error: %w", luaErrorMessage(err))
	}

	if wantChart {
		if host.chartSpec == nil {
			return res, &ContractError{Reason: "code completed without calling chart.render()"}
		}
		res.Chart = host.chartSpec
		return res, nil
	}

	if !host.resultSet {
		return res, &ContractError{Reason: "code completed without calling result()"}
	}
	res.Value = host.resultValue
	return res, nil
}

// luaErrorMessage strips gopher-lua's stack traceback so retry feedback
// stays focused on the failing line.
func luaErrorMessage(err error) error {
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) {
		msg := apiErr.Object.String()
		if msg != "" {
			return errors.New(msg)
		}
	}
	return err
}

// openSafeLibs loads the base, table, string, and math libraries, then
// removes everything the validator forbids. The sandbox must hold on its
// own even if a bad artifact slips past static checks.
func openSafeLibs(L *lua.LState) {
	lua.OpenBase(L)
	for _, name := range []string{
		"loadfile", "dofile", "load", "loadstring", "print",
		"collectgarbage", "rawget", "rawset", "rawequal",
		"setmetatable", "getmetatable", "getfenv", "setfenv", "_G",
	} {
		L.SetGlobal(name, lua.LNil)
	}

	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	// Keep generated code deterministic.
	if tbl, ok := L.GetGlobal("math").(*lua.LTable); ok {
		L.SetField(tbl, "random", lua.LNil)
		L.SetField(tbl, "randomseed", lua.LNil)
	}
}

// hostAPI exposes the dataset and the output channels to generated code.
type hostAPI struct {
	ds      *dataset.Dataset
	columns map[string]*lua.LTable
	rows    *lua.LTable

	logs        []string
	resultSet   bool
	resultValue string
	chartSpec   *chart.Spec
}

func (h *hostAPI) register(L *lua.LState, wantChart bool) {
	L.SetGlobal("row_count", L.NewFunction(h.luaRowCount))
	L.SetGlobal("column", L.NewFunction(h.luaColumn))
	L.SetGlobal("rows", L.NewFunction(h.luaRows))
	L.SetGlobal("log", L.NewFunction(h.luaLog))

	if wantChart {
		tbl := L.NewTable()
		L.SetField(tbl, "render", L.NewFunction(h.luaChartRender))
		L.SetGlobal("chart", tbl)
	} else {
		L.SetGlobal("result", L.NewFunction(h.luaResult))
	}
}

func (h *hostAPI) luaRowCount(L *lua.LState) int {
	L.Push(lua.LNumber(h.ds.RowCount()))
	return 1
}

// luaColumn materializes a column as a Lua array. Numeric columns yield
// numbers with nil holes for missing values; everything else yields strings.
// Tables are cached per run, so repeated calls are cheap.
func (h *hostAPI) luaColumn(L *lua.LState) int {
	name := L.CheckString(1)
	if tbl, ok := h.columns[name]; ok {
		L.Push(tbl)
		return 1
	}

	tbl, err := h.buildColumn(L, name)
	if err != nil {
		L.RaiseError("%v", err)
		return 0
	}
	h.columns[name] = tbl
	L.Push(tbl)
	return 1
}

func (h *hostAPI) buildColumn(L *lua.LState, name string) (*lua.LTable, error) {
	var colType dataset.ColumnType
	found := false
	for _, c := range h.ds.Schema() {
		if c.Name == name {
			colType = c.Type
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("unknown column %q", name)
	}

	tbl := L.NewTable()
	if colType == dataset.Numeric {
		vals, err := h.ds.NumericColumn(name)
		if err != nil {
			return nil, err
		}
		for i, v := range vals {
			if math.IsNaN(v) {
				continue
			}
			tbl.RawSetInt(i+1, lua.LNumber(v))
		}
		return tbl, nil
	}

	vals, err := h.ds.StringColumn(name)
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		tbl.RawSetInt(i+1, lua.LString(v))
	}
	return tbl, nil
}

func (h *hostAPI) luaRows(L *lua.LState) int {
	if h.rows != nil {
		L.Push(h.rows)
		return 1
	}

	schema := h.ds.Schema()
	rows := L.NewTable()
	for i := 0; i < h.ds.RowCount(); i++ {
		row := L.NewTable()
		for _, c := range schema {
			raw, err := h.ds.Cell(i, c.Name)
			if err != nil {
				L.RaiseError("%v", err)
				return 0
			}
			if c.Type == dataset.Numeric {
				if raw == "" {
					continue
				}
				f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
				if err != nil {
					continue
				}
				L.SetField(row, c.Name, lua.LNumber(f))
				continue
			}
			L.SetField(row, c.Name, lua.LString(raw))
		}
		rows.RawSetInt(i+1, row)
	}
	h.rows = rows
	L.Push(rows)
	return 1
}

func (h *hostAPI) luaLog(L *lua.LState) int {
	h.logs = append(h.logs, L.CheckString(1))
	return 0
}

func (h *hostAPI) luaResult(L *lua.LState) int {
	if h.resultSet {
		L.RaiseError("result() called more than once")
		return 0
	}

	value, err := formatValue(L.CheckAny(1))
	if err != nil {
		L.RaiseError("%v", err)
		return 0
	}
	h.resultSet = true
	h.resultValue = value
	return 0
}

func (h *hostAPI) luaChartRender(L *lua.LState) int {
	if h.chartSpec != nil {
		L.RaiseError("chart.render() called more than once")
		return 0
	}

	spec, err := specFromTable(L.CheckTable(1))
	if err != nil {
		L.RaiseError("%v", err)
		return 0
	}
	h.chartSpec = spec
	return 0
}

// formatValue renders a result value: a number, string, boolean, or a flat
// table of those.
func formatValue(v lua.LValue) (string, error) {
	switch v := v.(type) {
	case lua.LNumber:
		return formatNumber(float64(v)), nil
	case lua.LString:
		return string(v), nil
	case lua.LBool:
		return strconv.FormatBool(bool(v)), nil
	case *lua.LTable:
		return formatTable(v)
	default:
		return "", fmt.Errorf("result value must be a number, string, or flat table, got %s", v.Type())
	}
}

func formatTable(tbl *lua.LTable) (string, error) {
	if n := tbl.Len(); n > 0 {
		parts := make([]string, 0, n)
		for i := 1; i <= n; i++ {
			s, err := formatScalar(tbl.RawGetInt(i))
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, ", "), nil
	}

	var lines []string
	var ferr error
	tbl.ForEach(func(k, v lua.LValue) {
		if ferr != nil {
			return
		}
		key, err := formatScalar(k)
		if err != nil {
			ferr = err
			return
		}
		val, err := formatScalar(v)
		if err != nil {
			ferr = err
			return
		}
		lines = append(lines, key+": "+val)
	})
	if ferr != nil {
		return "", ferr
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n"), nil
}

func formatScalar(v lua.LValue) (string, error) {
	switch v := v.(type) {
	case lua.LNumber:
		return formatNumber(float64(v)), nil
	case lua.LString:
		return string(v), nil
	case lua.LBool:
		return strconv.FormatBool(bool(v)), nil
	default:
		return "", fmt.Errorf("result tables must contain only numbers and strings, got %s", v.Type())
	}
}

func formatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', 1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

var datetimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// specFromTable converts the table passed to chart.render() into a chart
// spec, parsing datetime strings on the x axis into unix seconds.
func specFromTable(tbl *lua.LTable) (*chart.Spec, error) {
	spec := &chart.Spec{
		Kind:   chart.Kind(stringField(tbl, "kind")),
		Title:  stringField(tbl, "title"),
		XLabel: stringField(tbl, "xlabel"),
		YLabel: stringField(tbl, "ylabel"),
	}

	if bins := tbl.RawGetString("bins"); bins != lua.LNil {
		if n, ok := bins.(lua.LNumber); ok {
			spec.Bins = int(n)
		}
	}

	if x := tbl.RawGetString("x"); x != lua.LNil {
		xt, ok := x.(*lua.LTable)
		if !ok {
			return nil, fmt.Errorf("chart x must be an array")
		}
		vals, isTime, err := numbersOrTimes(xt)
		if err != nil {
			return nil, fmt.Errorf("chart x values: %w", err)
		}
		spec.X = vals
		spec.TimeX = isTime
	}

	if y := tbl.RawGetString("y"); y != lua.LNil {
		yt, ok := y.(*lua.LTable)
		if !ok {
			return nil, fmt.Errorf("chart y must be an array")
		}
		vals, err := numbers(yt)
		if err != nil {
			return nil, fmt.Errorf("chart y values: %w", err)
		}
		spec.Y = vals
	}

	if labels := tbl.RawGetString("labels"); labels != lua.LNil {
		lt, ok := labels.(*lua.LTable)
		if !ok {
			return nil, fmt.Errorf("chart labels must be an array of strings")
		}
		for i := 1; i <= lt.Len(); i++ {
			spec.Labels = append(spec.Labels, lt.RawGetInt(i).String())
		}
	}

	return spec, nil
}

func stringField(tbl *lua.LTable, name string) string {
	if v := tbl.RawGetString(name); v != lua.LNil {
		return v.String()
	}
	return ""
}

func numbers(tbl *lua.LTable) ([]float64, error) {
	out := make([]float64, 0, tbl.Len())
	for i := 1; i <= tbl.Len(); i++ {
		v := tbl.RawGetInt(i)
		n, ok := v.(lua.LNumber)
		if !ok {
			return nil, fmt.Errorf("entry %d is %s, want a number (filter out nil values first)", i, v.Type())
		}
		out = append(out, float64(n))
	}
	return out, nil
}

// numbersOrTimes accepts either a numeric array or an array of datetime
// strings, reporting which one it found.
func numbersOrTimes(tbl *lua.LTable) ([]float64, bool, error) {
	if tbl.Len() == 0 {
		return nil, false, nil
	}

	if _, ok := tbl.RawGetInt(1).(lua.LNumber); ok {
		vals, err := numbers(tbl)
		return vals, false, err
	}

	out := make([]float64, 0, tbl.Len())
	for i := 1; i <= tbl.Len(); i++ {
		v := tbl.RawGetInt(i)
		s, ok := v.(lua.LString)
		if !ok {
			return nil, false, fmt.Errorf("entry %d is %s, want a number or datetime string", i, v.Type())
		}
		t, err := parseTime(string(s))
		if err != nil {
			return nil, false, fmt.Errorf("entry %d: %v", i, err)
		}
		out = append(out, float64(t.Unix()))
	}
	return out, true, nil
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range datetimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is not a recognized datetime", s)
}
