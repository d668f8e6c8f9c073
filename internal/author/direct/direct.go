package direct

import (
	"strconv"

	"PL-64/internal/author/cgen"
	"PL-64/internal/author/dev"
	"PL-64/internal/author/params"
	"PL-64/internal/author/reduce"
	"PL-64/internal/ir"
	"PL-64/internal/plan"
)

// Ctx authors the entry point of a direct loop: a grid-stride pass in
// which each thread owns whole elements, followed by one tree
// reduction per reduction global.
type Ctx struct {
	pl   *ir.ParLoop
	lang dev.Lang
	cfg  plan.Config
	red  *reduce.Ctx
	name string
}

func NewCtx(pl *ir.ParLoop, lang dev.Lang, cfg plan.Config, red *reduce.Ctx, name string) *Ctx {
	if !pl.IsDirect() {
		panic("bug")
	}
	return &Ctx{pl: pl, lang: lang, cfg: cfg, red: red, name: name}
}

func (c *Ctx) carrier(arg int) cgen.Gen {
	return cgen.Vb("arg" + strconv.Itoa(params.CarrierOf(c.pl, arg)))
}

func part(arg int) cgen.Gen {
	return cgen.Vb("plPart" + strconv.Itoa(arg))
}

func scaled(e cgen.Gen, cdim int) cgen.Gen {
	if cdim == 1 {
		return e
	}
	return cgen.Mul{Expr1: e, Expr2: cgen.IntLit(cdim)}
}

// dimLoop runs body once per component, with d bound to the index.
func dimLoop(cdim int, body func(d cgen.Gen) cgen.Gen) cgen.Gen {
	d := cgen.Vb("d")
	return cgen.For{
		Init: cgen.Var{Type: cgen.Int, What: d, Init: cgen.Zero},
		Cond: cgen.CmpL{Expr1: d, Expr2: cgen.IntLit(cdim)},
		Post: cgen.IncPost{Expr: d},
		Body: cgen.Stmts{body(d)},
	}
}

func (c *Ctx) Entry() cgen.Gen {
	var (
		e     = cgen.Vb("e")
		body  cgen.Stmts
		reds  []int
		bytes = 0
	)
	for i := range c.pl.Args {
		a := &c.pl.Args[i]
		if a.IsGlobalReduction() {
			reds = append(reds, i)
			if n := a.Glob.Elem.Bytes(); n > bytes {
				bytes = n
			}
		}
	}
	if len(reds) > 0 {
		body = append(body, c.lang.SharedArray(
			cgen.Char, "plScratch", c.cfg.GroupSize*bytes))
	}
	for _, i := range reds {
		a := &c.pl.Args[i]
		body = append(body,
			cgen.Var{
				Type: dev.CType(a.Glob.Elem),
				What: cgen.Elem{Arr: part(i), Idx: cgen.IntLit(a.Glob.Cdim)},
			},
			dimLoop(a.Glob.Cdim, func(d cgen.Gen) cgen.Gen {
				return cgen.Assign{
					Expr1: cgen.Elem{Arr: part(i), Idx: d},
					Expr2: reduce.Identity(a.Glob.Elem, a.Acc),
				}
			}))
	}
	body = append(body, cgen.For{
		Init: cgen.Var{Type: cgen.Int, What: e, Init: c.lang.GlobalId()},
		Cond: cgen.CmpL{Expr1: e, Expr2: cgen.Vb("setSize")},
		Post: cgen.AddAssign{
			Expr1: e,
			Expr2: cgen.Mul{Expr1: c.lang.GroupSize(), Expr2: c.lang.NumGroups()},
		},
		Body: cgen.Stmts{c.call(e)},
	})
	for _, i := range reds {
		a := &c.pl.Args[i]
		t := a.Glob.Elem
		scratch := cgen.Cast{
			Type: c.lang.SharedPtr(dev.CType(t)),
			Expr: cgen.Vb("plScratch"),
		}
		body = append(body, dimLoop(a.Glob.Cdim, func(d cgen.Gen) cgen.Gen {
			slot := cgen.Add{
				Expr1: scaled(c.lang.GroupId(), a.Glob.Cdim),
				Expr2: d,
			}
			return c.red.Call(t, a.Acc, scratch,
				cgen.Elem{Arr: part(i), Idx: d},
				cgen.Addr{Expr: cgen.Elem{Arr: c.carrier(i), Idx: slot}})
		}))
	}
	return cgen.FuncDef{
		Qual:       c.lang.KernelQual(),
		ReturnType: cgen.Void,
		Name:       c.name,
		Params:     params.ParamList(c.pl, c.lang),
		Body:       body,
	}
}

func (c *Ctx) call(e cgen.Gen) cgen.Gen {
	var args cgen.CommaSpaced
	for i := range c.pl.Args {
		a := &c.pl.Args[i]
		switch {
		case a.IsDat():
			args = append(args, cgen.Addr{Expr: cgen.Elem{
				Arr: c.carrier(i),
				Idx: scaled(e, a.Dat.Cdim),
			}})
		case a.IsGlobalReduction():
			args = append(args, part(i))
		default:
			args = append(args, c.carrier(i))
		}
	}
	return cgen.Call{Func: cgen.Vb(c.pl.Kernel.Name), Args: args}
}
