// Package validator checks generated Lua fragments before they are allowed
// anywhere near the executor. It never runs the code: phase one walks the
// parse tree against an identifier allow-list and the dataset schema, phase
// two compiles the chunk to catch what the walk cannot.
package validator

import (
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/ast"
	"github.com/yuin/gopher-lua/parse"

	"github.com/mpataki/stride/internal/dataset"
)

// Verdict is the terminal outcome for one artifact. A rejection carries a
// specific reason meant to be fed back into the next generation attempt.
type Verdict struct {
	Accepted bool
	Reason   string
}

func accept() Verdict {
	return Verdict{Accepted: true}
}

func reject(format string, args ...any) Verdict {
	return Verdict{Reason: fmt.Sprintf(format, args...)}
}

// baseGlobals are the identifiers any generated fragment may reference: the
// safe subset of the Lua base library plus the host dataset API.
var baseGlobals = []string{
	"pairs", "ipairs", "next", "type", "tostring", "tonumber",
	"select", "error", "assert", "pcall", "unpack",
	"string", "table", "math",
	"row_count", "column", "rows", "log",
}

// forbidden identifiers are rejected on sight, whatever the code does with
// them. The reason names the identifier so the oracle can drop it.
var forbidden = map[string]bool{
	"os": true, "io": true, "require": true, "load": true,
	"loadstring": true, "dofile": true, "loadfile": true,
	"print": true, "debug": true, "package": true, "arg": true,
	"collectgarbage": true, "getfenv": true, "setfenv": true,
	"rawget": true, "rawset": true, "rawequal": true,
	"setmetatable": true, "getmetatable": true, "coroutine": true,
	"_G": true,
}

type Validator struct {
	schema dataset.Schema
}

func New(schema dataset.Schema) *Validator {
	return &Validator{schema: schema}
}

// CheckData validates a data-analysis fragment. result() is available,
// chart is not.
func (v *Validator) CheckData(code string) Verdict {
	return v.check(code, "result", "chart", "data analysis code must not render charts")
}

// CheckChart validates a chart fragment. chart is available, result() is not.
func (v *Validator) CheckChart(code string) Verdict {
	return v.check(code, "chart", "result", "chart code must not report a data result")
}

func (v *Validator) check(code, extra, offLimits, offLimitsReason string) Verdict {
	chunk, err := parse.Parse(strings.NewReader(code), "generated")
	if err != nil {
		return reject("parse error: %v", err)
	}

	allowed := make(map[string]bool, len(baseGlobals)+1)
	for _, name := range baseGlobals {
		allowed[name] = true
	}
	allowed[extra] = true

	w := &walker{
		validator:       v,
		allowed:         allowed,
		offLimits:       offLimits,
		offLimitsReason: offLimitsReason,
	}
	w.collectGlobalAssignments(chunk)
	w.walkStmts(chunk, &scope{names: make(map[string]bool)})
	if w.verdict != nil {
		return *w.verdict
	}

	if _, err := lua.Compile(chunk, "generated"); err != nil {
		return reject("compile error: %v", err)
	}

	return accept()
}

// scope is a chain of lexical scopes for local names.
type scope struct {
	names  map[string]bool
	parent *scope
}

func (s *scope) child(names ...string) *scope {
	c := &scope{names: make(map[string]bool, len(names)), parent: s}
	for _, n := range names {
		c.names[n] = true
	}
	return c
}

func (s *scope) declared(name string) bool {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.names[name] {
			return true
		}
	}
	return false
}

type walker struct {
	validator       *Validator
	allowed         map[string]bool
	offLimits       string
	offLimitsReason string
	assignedGlobals map[string]bool
	verdict         *Verdict
}

func (w *walker) fail(v Verdict) {
	if w.verdict == nil {
		w.verdict = &v
	}
}

// collectGlobalAssignments pre-scans for globals the code itself defines
// (top-level functions, accumulator tables) so later reads of them are not
// mistaken for unknown identifiers.
func (w *walker) collectGlobalAssignments(stmts []ast.Stmt) {
	w.assignedGlobals = make(map[string]bool)
	var scan func(stmts []ast.Stmt)
	scan = func(stmts []ast.Stmt) {
		for _, st := range stmts {
			switch st := st.(type) {
			case *ast.AssignStmt:
				for _, lhs := range st.Lhs {
					if ident, ok := lhs.(*ast.IdentExpr); ok {
						w.assignedGlobals[ident.Value] = true
					}
				}
			case *ast.FuncDefStmt:
				if ident, ok := st.Name.Func.(*ast.IdentExpr); ok {
					w.assignedGlobals[ident.Value] = true
				}
			case *ast.DoBlockStmt:
				scan(st.Stmts)
			case *ast.WhileStmt:
				scan(st.Stmts)
			case *ast.RepeatStmt:
				scan(st.Stmts)
			case *ast.IfStmt:
				scan(st.Then)
				scan(st.Else)
			case *ast.NumberForStmt:
				scan(st.Stmts)
			case *ast.GenericForStmt:
				scan(st.Stmts)
			}
		}
	}
	scan(stmts)
}

func (w *walker) walkStmts(stmts []ast.Stmt, sc *scope) {
	for _, st := range stmts {
		if w.verdict != nil {
			return
		}
		switch st := st.(type) {
		case *ast.AssignStmt:
			w.walkExprs(st.Rhs, sc)
			for _, lhs := range st.Lhs {
				// Assignment targets are checked for forbidden names only;
				// shadowing os with your own table is still rejected.
				if ident, ok := lhs.(*ast.IdentExpr); ok {
					w.checkForbidden(ident.Value)
					continue
				}
				w.walkExpr(lhs, sc)
			}
		case *ast.LocalAssignStmt:
			// "local function f" desugars to this form; the name must be
			// visible inside the body so recursion validates.
			if len(st.Names) == 1 && len(st.Exprs) == 1 {
				if _, isFunc := st.Exprs[0].(*ast.FunctionExpr); isFunc {
					sc.names[st.Names[0]] = true
				}
			}
			w.walkExprs(st.Exprs, sc)
			for _, name := range st.Names {
				sc.names[name] = true
			}
		case *ast.FuncCallStmt:
			w.walkExpr(st.Expr, sc)
		case *ast.DoBlockStmt:
			w.walkStmts(st.Stmts, sc.child())
		case *ast.WhileStmt:
			w.walkExpr(st.Condition, sc)
			w.walkStmts(st.Stmts, sc.child())
		case *ast.RepeatStmt:
			inner := sc.child()
			w.walkStmts(st.Stmts, inner)
			w.walkExpr(st.Condition, inner)
		case *ast.IfStmt:
			w.walkExpr(st.Condition, sc)
			w.walkStmts(st.Then, sc.child())
			w.walkStmts(st.Else, sc.child())
		case *ast.NumberForStmt:
			w.walkExpr(st.Init, sc)
			w.walkExpr(st.Limit, sc)
			if st.Step != nil {
				w.walkExpr(st.Step, sc)
			}
			w.walkStmts(st.Stmts, sc.child(st.Name))
		case *ast.GenericForStmt:
			w.walkExprs(st.Exprs, sc)
			w.walkStmts(st.Stmts, sc.child(st.Names...))
		case *ast.FuncDefStmt:
			if ident, ok := st.Name.Func.(*ast.IdentExpr); ok {
				w.checkForbidden(ident.Value)
			} else {
				w.walkExpr(st.Name.Func, sc)
			}
			w.walkExpr(st.Func, sc)
		case *ast.ReturnStmt:
			w.walkExprs(st.Exprs, sc)
		}
	}
}

func (w *walker) walkExprs(exprs []ast.Expr, sc *scope) {
	for _, e := range exprs {
		w.walkExpr(e, sc)
	}
}

func (w *walker) walkExpr(expr ast.Expr, sc *scope) {
	if expr == nil || w.verdict != nil {
		return
	}
	switch e := expr.(type) {
	case *ast.IdentExpr:
		w.checkIdent(e.Value, sc)
	case *ast.AttrGetExpr:
		w.walkExpr(e.Object, sc)
		w.walkExpr(e.Key, sc)
	case *ast.TableExpr:
		for _, f := range e.Fields {
			if f.Key != nil {
				if _, isStr := f.Key.(*ast.StringExpr); !isStr {
					w.walkExpr(f.Key, sc)
				}
			}
			w.walkExpr(f.Value, sc)
		}
	case *ast.FuncCallExpr:
		w.checkColumnRef(e)
		if e.Receiver != nil {
			w.walkExpr(e.Receiver, sc)
		} else {
			w.walkExpr(e.Func, sc)
		}
		w.walkExprs(e.Args, sc)
	case *ast.LogicalOpExpr:
		w.walkExpr(e.Lhs, sc)
		w.walkExpr(e.Rhs, sc)
	case *ast.RelationalOpExpr:
		w.walkExpr(e.Lhs, sc)
		w.walkExpr(e.Rhs, sc)
	case *ast.StringConcatOpExpr:
		w.walkExpr(e.Lhs, sc)
		w.walkExpr(e.Rhs, sc)
	case *ast.ArithmeticOpExpr:
		w.walkExpr(e.Lhs, sc)
		w.walkExpr(e.Rhs, sc)
	case *ast.UnaryMinusOpExpr:
		w.walkExpr(e.Expr, sc)
	case *ast.UnaryNotOpExpr:
		w.walkExpr(e.Expr, sc)
	case *ast.UnaryLenOpExpr:
		w.walkExpr(e.Expr, sc)
	case *ast.FunctionExpr:
		w.walkStmts(e.Stmts, sc.child(e.ParList.Names...))
	}
}

func (w *walker) checkForbidden(name string) {
	if forbidden[name] {
		w.fail(reject("forbidden identifier %q: filesystem, process, and environment access are not available", name))
		return
	}
	if name == w.offLimits {
		w.fail(reject("%q is not available here: %s", name, w.offLimitsReason))
	}
}

func (w *walker) checkIdent(name string, sc *scope) {
	if sc.declared(name) {
		return
	}
	w.checkForbidden(name)
	if w.verdict != nil {
		return
	}
	if w.allowed[name] || w.assignedGlobals[name] {
		return
	}
	w.fail(reject("unknown identifier %q: only the documented sandbox API and Lua string/table/math libraries are available", name))
}

// checkColumnRef validates column("name") calls with a literal argument
// against the dataset schema. Dynamic arguments are left to the executor.
func (w *walker) checkColumnRef(call *ast.FuncCallExpr) {
	ident, ok := call.Func.(*ast.IdentExpr)
	if !ok || ident.Value != "column" || len(call.Args) == 0 {
		return
	}
	lit, ok := call.Args[0].(*ast.StringExpr)
	if !ok {
		return
	}
	if !w.validator.schema.Has(lit.Value) {
		w.fail(reject("unknown column %q: available columns are %s",
			lit.Value, strings.Join(w.validator.schema.Names(), ", ")))
	}
}
