// Package isrblock defines an analyzer that reports kernel calls which may
// block, made from functions registered as interrupt handlers.
//
// A handler is the function passed to trap.Dispatcher.Register. Its body is
// checked along with every function of the same package it calls. Queue and
// timer operations are allowed when their timeout is the constant NoWait.
package isrblock

import (
	"go/ast"
	"go/constant"
	"go/types"
	"path"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/inspect"
	"golang.org/x/tools/go/ast/astutil"
	"golang.org/x/tools/go/ast/inspector"
)

const Doc = `report blocking kernel calls in interrupt handlers

Interrupt handlers run on the interrupted task's stack with no context of
their own, so they must never wait. The kernel halts the machine when one
does; this pass finds the call before the program runs.`

var Analyzer = &analysis.Analyzer{
	Name:     "isrblock",
	Doc:      Doc,
	Requires: []*analysis.Analyzer{inspect.Analyzer},
	Run:      run,
}

// rule describes a method that blocks. timeoutArg is the index of the
// timeout parameter, or -1 when the method blocks whatever it is given.
type rule struct {
	pkg, recv, method string
	timeoutArg        int
}

var rules = []rule{
	{"kernel", "Kernel", "Delay", -1},
	{"kernel", "Kernel", "DelayUntil", -1},
	{"kernel", "Semaphore", "Take", -1},
	{"kernel", "Mutex", "Take", -1},
	{"kernel", "Mutex", "Give", -1},
	{"kernel", "Queue", "Send", 1},
	{"kernel", "Queue", "Receive", 0},
	{"kernel", "Timer", "Start", 0},
	{"kernel", "Timer", "Stop", 0},
	{"kernel", "Timer", "Reset", 0},
	{"kernel", "Timer", "ChangePeriod", 1},
	{"kernel", "Timer", "Delete", 0},
	{"board", "Handoff", "Acquire", -1},
}

type checker struct {
	pass     *analysis.Pass
	decls    map[*types.Func]*ast.FuncDecl
	visited  map[*ast.FuncDecl]bool
	reported map[*ast.CallExpr]bool
}

func run(pass *analysis.Pass) (interface{}, error) {
	c := &checker{
		pass:     pass,
		decls:    map[*types.Func]*ast.FuncDecl{},
		visited:  map[*ast.FuncDecl]bool{},
		reported: map[*ast.CallExpr]bool{},
	}
	for _, file := range pass.Files {
		for _, decl := range file.Decls {
			if fd, ok := decl.(*ast.FuncDecl); ok && fd.Body != nil {
				if fn, ok := pass.TypesInfo.Defs[fd.Name].(*types.Func); ok {
					c.decls[fn] = fd
				}
			}
		}
	}

	in := pass.ResultOf[inspect.Analyzer].(*inspector.Inspector)
	in.Preorder([]ast.Node{(*ast.CallExpr)(nil)}, func(n ast.Node) {
		call := n.(*ast.CallExpr)
		if len(call.Args) < 2 || !c.isMethod(call, "trap", "Dispatcher", "Register") {
			return
		}
		switch h := astutil.Unparen(call.Args[1]).(type) {
		case *ast.FuncLit:
			c.checkBody(h.Body)
		default:
			if fd := c.declOf(h); fd != nil {
				c.checkDecl(fd)
			}
		}
	})
	return nil, nil
}

func (c *checker) checkDecl(fd *ast.FuncDecl) {
	if c.visited[fd] {
		return
	}
	c.visited[fd] = true
	c.checkBody(fd.Body)
}

func (c *checker) checkBody(body *ast.BlockStmt) {
	ast.Inspect(body, func(n ast.Node) bool {
		switch n := n.(type) {
		case *ast.FuncLit:
			// Closures run later, if at all.
			return false
		case *ast.GoStmt:
			return false
		case *ast.CallExpr:
			if r, ok := c.blocking(n); ok {
				if !c.reported[n] {
					c.reported[n] = true
					c.pass.Reportf(n.Pos(), "blocking call to %s.%s in interrupt handler", r.recv, r.method)
				}
				return true
			}
			if fd := c.declOf(n.Fun); fd != nil {
				c.checkDecl(fd)
			}
		}
		return true
	})
}

func (c *checker) blocking(call *ast.CallExpr) (rule, bool) {
	for _, r := range rules {
		if !c.isMethod(call, r.pkg, r.recv, r.method) {
			continue
		}
		if r.timeoutArg >= 0 && r.timeoutArg < len(call.Args) && c.isZero(call.Args[r.timeoutArg]) {
			return r, false
		}
		return r, true
	}
	return rule{}, false
}

func (c *checker) isZero(e ast.Expr) bool {
	tv, ok := c.pass.TypesInfo.Types[e]
	if !ok || tv.Value == nil {
		return false
	}
	v, exact := constant.Uint64Val(constant.ToInt(tv.Value))
	return exact && v == 0
}

// callee returns the function or method a call expression refers to.
func (c *checker) callee(e ast.Expr) *types.Func {
	var id *ast.Ident
	switch e := astutil.Unparen(e).(type) {
	case *ast.Ident:
		id = e
	case *ast.SelectorExpr:
		id = e.Sel
	case *ast.IndexExpr:
		return c.callee(e.X)
	default:
		return nil
	}
	fn, _ := c.pass.TypesInfo.Uses[id].(*types.Func)
	if fn != nil {
		fn = fn.Origin()
	}
	return fn
}

func (c *checker) declOf(e ast.Expr) *ast.FuncDecl {
	fn := c.callee(e)
	if fn == nil || fn.Pkg() != c.pass.Pkg {
		return nil
	}
	return c.decls[fn]
}

func (c *checker) isMethod(call *ast.CallExpr, pkg, recv, method string) bool {
	fn := c.callee(call.Fun)
	if fn == nil || fn.Name() != method || fn.Pkg() == nil || path.Base(fn.Pkg().Path()) != pkg {
		return false
	}
	sig, ok := fn.Type().(*types.Signature)
	if !ok || sig.Recv() == nil {
		return false
	}
	t := sig.Recv().Type()
	if p, ok := t.(*types.Pointer); ok {
		t = p.Elem()
	}
	named, ok := t.(*types.Named)
	return ok && named.Obj().Name() == recv
}
