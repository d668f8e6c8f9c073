package spmat

import (
	"PL-64/internal/author/cgen"
	"PL-64/internal/author/dev"
	"PL-64/internal/ir"
)

type key struct {
	elem ir.Elem
	acc  ir.Access
}

// Ctx collects the atomic commit helpers a kernel needs: matrix
// insertion (scan one compressed row for the column slot, commit the
// entry) and the plain accumulate used to scatter staged increments to
// global memory. Commits use a native atomic when the device has one
// for the element type, a compare-and-swap loop on the bit pattern
// otherwise.
type Ctx struct {
	lang  dev.Lang
	caps  dev.Caps
	order []key
	adds  []ir.Elem
}

func NewCtx(lang dev.Lang, caps dev.Caps) *Ctx {
	return &Ctx{lang: lang, caps: caps}
}

func name(k key) string {
	op := "Set"
	if k.acc == ir.Inc {
		op = "Add"
	}
	return "plMat" + op + k.elem.String()
}

// Call registers the helper for one (element type, access) pair and
// returns the call site committing value v to slot (row, col).
func (c *Ctx) Call(e ir.Elem, acc ir.Access, vals, rowptr, colidx, row, col, v cgen.Gen) cgen.Gen {
	if acc != ir.Inc && acc != ir.Write {
		panic("bug")
	}
	k := key{elem: e, acc: acc}
	found := false
	for _, have := range c.order {
		if have == k {
			found = true
			break
		}
	}
	if !found {
		c.order = append(c.order, k)
	}
	return cgen.Call{
		Func: cgen.Vb(name(k)),
		Args: cgen.CommaSpaced{vals, rowptr, colidx, row, col, v},
	}
}

func addName(e ir.Elem) string {
	return "plAdd" + e.String()
}

// AddTo registers the plain accumulate helper for one element type and
// returns the call committing v through global pointer p. Partitions
// in flight concurrently may scatter to the same target, so the commit
// must be atomic even though iterations within a partition are colored
// apart.
func (c *Ctx) AddTo(e ir.Elem, p, v cgen.Gen) cgen.Gen {
	found := false
	for _, have := range c.adds {
		if have == e {
			found = true
			break
		}
	}
	if !found {
		c.adds = append(c.adds, e)
	}
	return cgen.Call{
		Func: cgen.Vb(addName(e)),
		Args: cgen.CommaSpaced{p, v},
	}
}

func (c *Ctx) Prep() cgen.Gen {
	var gens cgen.Gens
	for _, e := range c.adds {
		gens = append(gens, c.addDef(e), cgen.Newline)
	}
	for _, k := range c.order {
		gens = append(gens, c.def(k), cgen.Newline)
	}
	return gens
}

func (c *Ctx) addDef(e ir.Elem) cgen.Gen {
	var (
		t = dev.CType(e)
		p = cgen.Vb("p")
		v = cgen.Vb("v")
	)
	var body cgen.Stmts
	if fn := c.lang.AtomicAdd(e, c.caps); fn != nil {
		body = cgen.Stmts{
			cgen.Call{Func: fn, Args: cgen.CommaSpaced{p, v}},
		}
	} else {
		body = c.casLoop(e, p, v)
	}
	return cgen.FuncDef{
		Qual:       c.lang.FuncQual(),
		ReturnType: cgen.Void,
		Name:       addName(e),
		Params: cgen.CommaSpaced{
			cgen.Param{Type: c.lang.GlobalPtr(t), What: p},
			cgen.Param{Type: t, What: v},
		},
		Body: body,
	}
}

func (c *Ctx) def(k key) cgen.Gen {
	var (
		t      = dev.CType(k.elem)
		vals   = cgen.Vb("vals")
		rowptr = cgen.Vb("rowptr")
		colidx = cgen.Vb("colidx")
		row    = cgen.Vb("row")
		col    = cgen.Vb("col")
		v      = cgen.Vb("v")
		slot   = cgen.Vb("slot")
	)
	scan := cgen.Stmts{
		cgen.Var{
			Type: cgen.Int, What: slot,
			Init: cgen.Elem{Arr: rowptr, Idx: row},
		},
		cgen.For{
			Cond: cgen.CmpNE{
				Expr1: cgen.Elem{Arr: colidx, Idx: slot},
				Expr2: col,
			},
			Post: cgen.IncPost{Expr: slot},
		},
	}
	body := append(scan, c.commit(k, vals, slot, v)...)
	return cgen.FuncDef{
		Qual:       c.lang.FuncQual(),
		ReturnType: cgen.Void,
		Name:       name(k),
		Params: cgen.CommaSpaced{
			cgen.Param{Type: c.lang.GlobalPtr(t), What: vals},
			cgen.Param{Type: c.lang.GlobalPtr(cgen.Const{Tail: cgen.Int}), What: rowptr},
			cgen.Param{Type: c.lang.GlobalPtr(cgen.Const{Tail: cgen.Int}), What: colidx},
			cgen.Param{Type: cgen.Int, What: row},
			cgen.Param{Type: cgen.Int, What: col},
			cgen.Param{Type: t, What: v},
		},
		Body: body,
	}
}

func (c *Ctx) commit(k key, vals, slot, v cgen.Gen) cgen.Stmts {
	dst := cgen.Gen(cgen.Elem{Arr: vals, Idx: slot})
	if k.acc == ir.Inc {
		if fn := c.lang.AtomicAdd(k.elem, c.caps); fn != nil {
			return cgen.Stmts{
				cgen.Call{
					Func: fn,
					Args: cgen.CommaSpaced{cgen.Addr{Expr: dst}, v},
				},
			}
		}
		return c.casLoop(k.elem, cgen.Addr{Expr: dst}, v)
	}
	bits := c.lang.BitsType(k.elem)
	if k.elem == ir.I32 || k.elem == ir.U32 {
		// integer exchange works on the value directly
		return cgen.Stmts{
			cgen.Call{
				Func: c.lang.AtomicExch(k.elem),
				Args: cgen.CommaSpaced{cgen.Addr{Expr: dst}, v},
			},
		}
	}
	p := cgen.Vb("p")
	return cgen.Stmts{
		cgen.Var{
			Type: c.lang.GlobalPtr(bits), What: p,
			Init: cgen.Cast{
				Type: c.lang.GlobalPtr(bits),
				Expr: cgen.Addr{Expr: dst},
			},
		},
		cgen.Call{
			Func: c.lang.AtomicExch(k.elem),
			Args: cgen.CommaSpaced{p, c.lang.AsBits(k.elem, v)},
		},
	}
}

// casLoop retries until the target's bit pattern is unchanged between
// the read and the swap, adding v on each attempt. ptr is a global
// pointer to the element.
func (c *Ctx) casLoop(e ir.Elem, ptr, v cgen.Gen) cgen.Stmts {
	var (
		bits    = c.lang.BitsType(e)
		p       = cgen.Vb("q")
		old     = cgen.Vb("old")
		assumed = cgen.Vb("assumed")
	)
	next := c.lang.AsBits(e, cgen.Add{
		Expr1: c.lang.AsVal(e, assumed),
		Expr2: v,
	})
	return cgen.Stmts{
		cgen.Var{
			Type: c.lang.GlobalPtr(bits), What: p,
			Init: cgen.Cast{
				Type: c.lang.GlobalPtr(bits),
				Expr: ptr,
			},
		},
		cgen.Var{Type: bits, What: old, Init: cgen.At{Expr: p}},
		cgen.Var{Type: bits, What: assumed},
		cgen.For{
			Body: cgen.Stmts{
				cgen.Assign{Expr1: assumed, Expr2: old},
				cgen.Assign{
					Expr1: old,
					Expr2: cgen.Call{
						Func: c.lang.AtomicCAS(e),
						Args: cgen.CommaSpaced{p, assumed, next},
					},
				},
				cgen.If{
					Cond: cgen.CmpE{Expr1: old, Expr2: assumed},
					Then: cgen.Stmts{cgen.Break},
				},
			},
		},
	}
}
