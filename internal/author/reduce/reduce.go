package reduce

import (
	"PL-64/internal/author/cgen"
	"PL-64/internal/author/dev"
	"PL-64/internal/ir"
)

type key struct {
	elem ir.Elem
	acc  ir.Access
}

// Ctx collects the tree-reduction helpers one kernel needs and emits a
// device function per distinct (element type, combine op) pair. Calls
// are registered while the kernel body is authored; Prep renders the
// definitions afterward, into an earlier section.
type Ctx struct {
	lang      dev.Lang
	groupSize int
	order     []key
}

func NewCtx(lang dev.Lang, groupSize int) *Ctx {
	if groupSize <= 0 || groupSize&(groupSize-1) != 0 {
		panic("bug")
	}
	return &Ctx{lang: lang, groupSize: groupSize}
}

func opName(acc ir.Access) string {
	switch acc {
	case ir.Inc:
		return "Add"
	case ir.Min:
		return "Min"
	case ir.Max:
		return "Max"
	}
	panic("bug")
}

func name(k key) string {
	return "plRed" + opName(k.acc) + k.elem.String()
}

// Identity is the combine-op identity, used to pad the partials of
// threads that saw no element.
func Identity(e ir.Elem, acc ir.Access) cgen.Gen {
	if acc == ir.Inc {
		switch e {
		case ir.F32:
			return cgen.FloatLit(0)
		case ir.F64:
			return cgen.DoubleLit(0)
		}
		return cgen.Zero
	}
	hi := acc == ir.Min
	switch e {
	case ir.F32:
		if hi {
			return cgen.Vb("3.402823466e38f")
		}
		return cgen.Vb("-3.402823466e38f")
	case ir.F64:
		if hi {
			return cgen.Vb("1.7976931348623157e308")
		}
		return cgen.Vb("-1.7976931348623157e308")
	case ir.I32:
		if hi {
			return cgen.Vb("2147483647")
		}
		return cgen.Vb("(-2147483647 - 1)")
	case ir.U32:
		if hi {
			return cgen.Vb("4294967295u")
		}
		return cgen.Vb("0u")
	}
	panic("bug")
}

func combine(l dev.Lang, e ir.Elem, acc ir.Access, a, b cgen.Gen) cgen.Gen {
	if acc == ir.Inc {
		return cgen.Add{Expr1: a, Expr2: b}
	}
	switch e {
	case ir.F32, ir.F64:
		fn := "fmin"
		if acc == ir.Max {
			fn = "fmax"
		}
		if l == dev.CUDA && e == ir.F32 {
			fn += "f"
		}
		return cgen.Call{
			Func: cgen.Vb(fn),
			Args: cgen.CommaSpaced{a, b},
		}
	}
	cmp := cgen.Gen(cgen.CmpL{Expr1: a, Expr2: b})
	if acc == ir.Max {
		cmp = cgen.CmpG{Expr1: a, Expr2: b}
	}
	return cgen.Ternary{Cond: cmp, Then: a, Else: b}
}

// Call registers the helper and returns the call site. scratch is a
// group-size shared staging area typed to the element, val the calling
// thread's partial, out the group's slot in the reduction buffer.
func (c *Ctx) Call(e ir.Elem, acc ir.Access, scratch, val, out cgen.Gen) cgen.Gen {
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
		Args: cgen.CommaSpaced{scratch, val, out},
	}
}

func (c *Ctx) Prep() cgen.Gen {
	var gens cgen.Gens
	for _, k := range c.order {
		gens = append(gens, c.def(k), cgen.Newline)
	}
	return gens
}

func (c *Ctx) def(k key) cgen.Gen {
	var (
		t       = dev.CType(k.elem)
		scratch = cgen.Vb("scratch")
		val     = cgen.Vb("val")
		out     = cgen.Vb("out")
		tid     = cgen.Vb("tid")
		n       = cgen.Vb("n")
		at      = func(i cgen.Gen) cgen.Gen { return cgen.Elem{Arr: scratch, Idx: i} }
	)
	fold := cgen.Stmts{
		cgen.Assign{
			Expr1: at(tid),
			Expr2: combine(c.lang, k.elem, k.acc,
				at(tid), at(cgen.Add{Expr1: tid, Expr2: n})),
		},
	}
	body := cgen.Stmts{
		cgen.Var{Type: cgen.Int, What: tid, Init: c.lang.LocalId()},
		cgen.Assign{Expr1: at(tid), Expr2: val},
		c.lang.Barrier(),
		cgen.For{
			Init: cgen.Var{
				Type: cgen.Int, What: n,
				Init: cgen.IntLit(c.groupSize / 2),
			},
			Cond: cgen.CmpG{Expr1: n, Expr2: cgen.Zero},
			Post: cgen.ShiftLowAssign{Expr1: n, Expr2: cgen.One},
			Body: cgen.Stmts{
				cgen.If{
					Cond: cgen.CmpL{Expr1: tid, Expr2: n},
					Then: fold,
				},
				c.lang.Barrier(),
			},
		},
		cgen.If{
			Cond: cgen.CmpE{Expr1: tid, Expr2: cgen.Zero},
			Then: cgen.Stmts{
				cgen.Assign{Expr1: cgen.At{Expr: out}, Expr2: at(cgen.Zero)},
			},
		},
	}
	return cgen.FuncDef{
		Qual:       c.lang.FuncQual(),
		ReturnType: cgen.Void,
		Name:       name(k),
		Params: cgen.CommaSpaced{
			cgen.Param{Type: c.lang.SharedPtr(t), What: scratch},
			cgen.Param{Type: t, What: val},
			cgen.Param{Type: c.lang.GlobalPtr(t), What: out},
		},
		Body: body,
	}
}
