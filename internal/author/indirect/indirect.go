package indirect

import (
	"strconv"

	"PL-64/internal/author/cgen"
	"PL-64/internal/author/dev"
	"PL-64/internal/author/params"
	"PL-64/internal/author/reduce"
	"PL-64/internal/author/spmat"
	"PL-64/internal/ir"
	"PL-64/internal/plan"
)

// Ctx authors the entry point of an indirect loop. Each thread group
// executes one partition of the schedule: load the block descriptor,
// stage the partition's distinct indirect targets into shared memory,
// run the elements with private increment accumulators, fold the
// accumulators back color by color, write the staged data out, then
// tree-reduce any reduction globals.
type Ctx struct {
	pl     *ir.ParLoop
	lang   dev.Lang
	cfg    plan.Config
	red    *reduce.Ctx
	mat    *spmat.Ctx
	name   string
	groups []plan.Group
}

func NewCtx(pl *ir.ParLoop, lang dev.Lang, cfg plan.Config, red *reduce.Ctx, mat *spmat.Ctx, name string) *Ctx {
	if pl.IsDirect() {
		panic("bug")
	}
	return &Ctx{
		pl:     pl,
		lang:   lang,
		cfg:    cfg,
		red:    red,
		mat:    mat,
		name:   name,
		groups: plan.Groups(pl),
	}
}

func num(prefix string, i int) cgen.Gen {
	return cgen.Vb(prefix + strconv.Itoa(i))
}

var (
	tid    = cgen.Vb("tid")
	blk    = cgen.Vb("plB")
	nelem  = cgen.Vb("plN")
	off    = cgen.Vb("plOff")
	ncol   = cgen.Vb("plNcol")
	round  = cgen.Vb("plRound")
	elem   = cgen.Vb("e")
	gelem  = cgen.Vb("plE")
	color  = cgen.Vb("plCol")
	shared = cgen.Vb("plShared")
)

func scaled(e cgen.Gen, n int) cgen.Gen {
	if n == 1 {
		return e
	}
	return cgen.Mul{Expr1: e, Expr2: cgen.IntLit(n)}
}

func (c *Ctx) carrier(arg int) cgen.Gen {
	return num("arg", params.CarrierOf(c.pl, arg))
}

// groupCarrier names the data pointer a staging group gathers from and
// scatters to.
func (c *Ctx) groupCarrier(g int) cgen.Gen {
	gr := &c.groups[g]
	for i := range c.pl.Args {
		a := &c.pl.Args[i]
		if a.Dat == gr.Dat && a.Map == gr.Map {
			return c.carrier(i)
		}
	}
	panic("bug")
}

// modes reports whether a group is gathered on the way in and whether
// it is added or copied on the way out.
func (c *Ctx) modes(g int) (gather, add, copyOut bool) {
	gr := &c.groups[g]
	if gr.Inc {
		return false, true, false
	}
	for i := range c.pl.Args {
		a := &c.pl.Args[i]
		if a.Dat != gr.Dat || a.Map != gr.Map {
			continue
		}
		if a.Acc == ir.Read || a.Acc == ir.RW {
			gather = true
		}
		if a.Acc == ir.Write || a.Acc == ir.RW {
			copyOut = true
		}
	}
	return
}

// locAt indexes the local-remap table for slot k of element e (global
// element id) under group g.
func (c *Ctx) locAt(g int, e, k cgen.Gen) cgen.Gen {
	prev := 0
	for j := 0; j < g; j++ {
		prev += c.groups[j].Map.Dim
	}
	idx := cgen.Gen(cgen.Add{
		Expr1: scaled(e, c.groups[g].Map.Dim),
		Expr2: k,
	})
	if prev > 0 {
		idx = cgen.Add{
			Expr1: cgen.Mul{Expr1: cgen.Vb("setSize"), Expr2: cgen.IntLit(prev)},
			Expr2: idx,
		}
	}
	return cgen.Elem{Arr: cgen.Vb("loc"), Idx: idx}
}

func (c *Ctx) Entry() cgen.Gen {
	body := c.header()
	body = append(body, c.stageIn()...)
	body = append(body, c.lang.Barrier())
	body = append(body, c.partials()...)
	body = append(body, c.elemLoop())
	body = append(body, c.lang.Barrier())
	body = append(body, c.stageOut()...)
	body = append(body, c.reductions()...)
	return cgen.FuncDef{
		Qual:       c.lang.KernelQual(),
		ReturnType: cgen.Void,
		Name:       c.name,
		Params:     params.ParamList(c.pl, c.lang),
		Body:       body,
	}
}

// header loads the block descriptor and lays the staged groups out in
// shared memory, 8-byte aligned.
func (c *Ctx) header() cgen.Stmts {
	ng := len(c.groups)
	at := func(arr string, idx cgen.Gen) cgen.Gen {
		return cgen.Elem{Arr: cgen.Vb(arr), Idx: idx}
	}
	slot := func(g int) cgen.Gen {
		return cgen.Add{Expr1: scaled(blk, ng), Expr2: cgen.IntLit(g)}
	}
	body := cgen.Stmts{
		c.lang.SharedArray(cgen.Char, "plShared", c.cfg.SharedBytes),
		cgen.Var{Type: cgen.Int, What: tid, Init: c.lang.LocalId()},
		cgen.Var{
			Type: cgen.Int, What: blk,
			Init: at("blkMap", cgen.Add{
				Expr1: c.lang.GroupId(),
				Expr2: cgen.Vb("blockOffset"),
			}),
		},
		cgen.Var{Type: cgen.Int, What: nelem, Init: at("nelems", blk)},
		cgen.Var{Type: cgen.Int, What: off, Init: at("offset", blk)},
		cgen.Var{Type: cgen.Int, What: ncol, Init: at("nThrCol", blk)},
	}
	for g := range c.groups {
		body = append(body,
			cgen.Var{Type: cgen.Int, What: num("plSz", g), Init: at("indSizes", slot(g))},
			cgen.Var{Type: cgen.Int, What: num("plMap", g), Init: at("indOffs", slot(g))})
	}
	for g := range c.groups {
		gr := &c.groups[g]
		init := cgen.Gen(cgen.Zero)
		if g > 0 {
			prev := &c.groups[g-1]
			span := cgen.Mul{
				Expr1: scaled(num("plSz", g-1), prev.Dat.Cdim),
				Expr2: cgen.IntLit(prev.Dat.Elem.Bytes()),
			}
			init = cgen.Add{
				Expr1: num("plOfs", g-1),
				Expr2: cgen.Mul{
					Expr1: cgen.Quo{
						Expr1: cgen.Paren{Inner: cgen.Add{Expr1: span, Expr2: cgen.IntLit(7)}},
						Expr2: cgen.IntLit(8),
					},
					Expr2: cgen.IntLit(8),
				},
			}
		}
		t := dev.CType(gr.Dat.Elem)
		body = append(body,
			cgen.Var{Type: cgen.Int, What: num("plOfs", g), Init: init},
			cgen.Var{
				Type: c.lang.SharedPtr(t),
				What: num("plSh", g),
				Init: cgen.Cast{
					Type: c.lang.SharedPtr(t),
					Expr: cgen.Paren{Inner: cgen.Add{Expr1: shared, Expr2: num("plOfs", g)}},
				},
			})
	}
	return body
}

// stride runs body over i in [0, n) with a group-size stride.
func (c *Ctx) stride(n cgen.Gen, body cgen.Gen) cgen.Gen {
	i := cgen.Vb("i")
	return cgen.For{
		Init: cgen.Var{Type: cgen.Int, What: i, Init: tid},
		Cond: cgen.CmpL{Expr1: i, Expr2: n},
		Post: cgen.AddAssign{Expr1: i, Expr2: c.lang.GroupSize()},
		Body: cgen.Stmts{body},
	}
}

// target is the global component a staged slot i mirrors:
// carrier[ind[plMap+i/cd]*cd + i%cd].
func (c *Ctx) target(g int) cgen.Gen {
	cd := c.groups[g].Dat.Cdim
	i := cgen.Vb("i")
	row := cgen.Gen(i)
	comp := cgen.Gen(nil)
	if cd > 1 {
		row = cgen.Quo{Expr1: i, Expr2: cgen.IntLit(cd)}
		comp = cgen.Rem{Expr1: i, Expr2: cgen.IntLit(cd)}
	}
	idx := cgen.Gen(scaled(cgen.Elem{
		Arr: cgen.Vb("ind"),
		Idx: cgen.Add{Expr1: num("plMap", g), Expr2: row},
	}, cd))
	if comp != nil {
		idx = cgen.Add{Expr1: idx, Expr2: comp}
	}
	return cgen.Elem{Arr: c.groupCarrier(g), Idx: idx}
}

func (c *Ctx) stageIn() cgen.Stmts {
	var body cgen.Stmts
	i := cgen.Vb("i")
	for g := range c.groups {
		gather, add, _ := c.modes(g)
		if !gather && !add {
			continue
		}
		sh := cgen.Elem{Arr: num("plSh", g), Idx: i}
		var fill cgen.Gen
		if add {
			fill = cgen.Assign{Expr1: sh, Expr2: cgen.Zero}
		} else {
			fill = cgen.Assign{Expr1: sh, Expr2: c.target(g)}
		}
		body = append(body, c.stride(
			scaled(num("plSz", g), c.groups[g].Dat.Cdim), fill))
	}
	return body
}

// stageOut scatters the staged groups back to global memory. The
// coloring only orders iterations within this partition, so increments
// commit atomically: another group may be flushing the same targets.
func (c *Ctx) stageOut() cgen.Stmts {
	var body cgen.Stmts
	i := cgen.Vb("i")
	for g := range c.groups {
		_, add, copyOut := c.modes(g)
		if !add && !copyOut {
			continue
		}
		sh := cgen.Elem{Arr: num("plSh", g), Idx: i}
		var out cgen.Gen
		if add {
			out = c.mat.AddTo(c.groups[g].Dat.Elem,
				cgen.Addr{Expr: c.target(g)}, sh)
		} else {
			out = cgen.Assign{Expr1: c.target(g), Expr2: sh}
		}
		body = append(body, c.stride(
			scaled(num("plSz", g), c.groups[g].Dat.Cdim), out))
	}
	return body
}

func (c *Ctx) partials() cgen.Stmts {
	var body cgen.Stmts
	for i := range c.pl.Args {
		a := &c.pl.Args[i]
		if !a.IsGlobalReduction() {
			continue
		}
		d := cgen.Vb("d")
		body = append(body,
			cgen.Var{
				Type: dev.CType(a.Glob.Elem),
				What: cgen.Elem{Arr: num("plPart", i), Idx: cgen.IntLit(a.Glob.Cdim)},
			},
			cgen.For{
				Init: cgen.Var{Type: cgen.Int, What: d, Init: cgen.Zero},
				Cond: cgen.CmpL{Expr1: d, Expr2: cgen.IntLit(a.Glob.Cdim)},
				Post: cgen.IncPost{Expr: d},
				Body: cgen.Stmts{cgen.Assign{
					Expr1: cgen.Elem{Arr: num("plPart", i), Idx: d},
					Expr2: reduce.Identity(a.Glob.Elem, a.Acc),
				}},
			})
	}
	return body
}

// elemLoop rounds the element count up to a whole number of strides so
// every thread takes part in the color barriers.
func (c *Ctx) elemLoop() cgen.Gen {
	inner := cgen.Stmts{
		cgen.Var{Type: cgen.Int, What: color, Init: cgen.Vb("-1")},
		cgen.Var{Type: cgen.Int, What: gelem,
			Init: cgen.Add{Expr1: off, Expr2: elem}},
	}
	inner = append(inner, c.privates()...)
	inner = append(inner, cgen.If{
		Cond: cgen.CmpL{Expr1: elem, Expr2: nelem},
		Then: c.live(),
	})
	inner = append(inner, c.colorLoop())
	return cgen.Stmts{
		cgen.Var{
			Type: cgen.Int, What: round,
			Init: cgen.Mul{
				Expr1: cgen.Quo{
					Expr1: cgen.Paren{Inner: cgen.Add{
						Expr1: nelem,
						Expr2: cgen.Sub{Expr1: c.lang.GroupSize(), Expr2: cgen.One},
					}},
					Expr2: c.lang.GroupSize(),
				},
				Expr2: c.lang.GroupSize(),
			},
		},
		cgen.For{
			Init: cgen.Var{Type: cgen.Int, What: elem, Init: tid},
			Cond: cgen.CmpL{Expr1: elem, Expr2: round},
			Post: cgen.AddAssign{Expr1: elem, Expr2: c.lang.GroupSize()},
			Body: inner,
		},
	}
}

// privates declares the per-element increment accumulators and vector
// pointer tables outside the liveness guard so the color loop can still
// see them.
func (c *Ctx) privates() cgen.Stmts {
	var body cgen.Stmts
	for i := range c.pl.Args {
		a := &c.pl.Args[i]
		if !a.IsIndirect() {
			continue
		}
		t := dev.CType(a.Dat.Elem)
		vec := a.Idx == ir.VecIdx
		if a.Acc.IsReduction() {
			n := a.Dat.Cdim
			if vec {
				n *= a.Map.Dim
			}
			body = append(body, cgen.Var{
				Type: t,
				What: cgen.Elem{Arr: num("plAcc", i), Idx: cgen.IntLit(n)},
			})
		}
		if vec {
			body = append(body, cgen.Var{
				Type: c.vecPtrType(a),
				What: cgen.Elem{Arr: num("plVec", i), Idx: cgen.IntLit(a.Map.Dim)},
			})
		}
	}
	return body
}

func (c *Ctx) vecPtrType(a *ir.Arg) cgen.Gen {
	t := dev.CType(a.Dat.Elem)
	if a.Acc.IsReduction() {
		return cgen.Ptr{Type: t}
	}
	return c.lang.SharedPtr(t)
}

// live is the guarded body run by threads that own a real element:
// fill the accumulators, resolve the kernel args, call the user
// kernel, and pick up the element's color.
func (c *Ctx) live() cgen.Stmts {
	var body cgen.Stmts
	for i := range c.pl.Args {
		a := &c.pl.Args[i]
		if !a.IsIndirect() {
			continue
		}
		if a.Acc.IsReduction() {
			n := a.Dat.Cdim
			if a.Idx == ir.VecIdx {
				n *= a.Map.Dim
			}
			d := cgen.Vb("d")
			body = append(body, cgen.For{
				Init: cgen.Var{Type: cgen.Int, What: d, Init: cgen.Zero},
				Cond: cgen.CmpL{Expr1: d, Expr2: cgen.IntLit(n)},
				Post: cgen.IncPost{Expr: d},
				Body: cgen.Stmts{cgen.Assign{
					Expr1: cgen.Elem{Arr: num("plAcc", i), Idx: d},
					Expr2: reduce.Identity(a.Dat.Elem, a.Acc),
				}},
			})
		}
		if a.Idx == ir.VecIdx {
			g := plan.GroupIndex(c.groups, a)
			for k := 0; k < a.Map.Dim; k++ {
				var p cgen.Gen
				if a.Acc.IsReduction() {
					p = cgen.Addr{Expr: cgen.Elem{
						Arr: num("plAcc", i),
						Idx: cgen.IntLit(k * a.Dat.Cdim),
					}}
				} else {
					p = cgen.Addr{Expr: cgen.Elem{
						Arr: num("plSh", g),
						Idx: scaled(c.locAt(g, gelem, cgen.IntLit(k)), a.Dat.Cdim),
					}}
				}
				body = append(body, cgen.Assign{
					Expr1: cgen.Elem{Arr: num("plVec", i), Idx: cgen.IntLit(k)},
					Expr2: p,
				})
			}
		}
	}
	body = append(body, c.calls()...)
	body = append(body, cgen.Assign{
		Expr1: color,
		Expr2: cgen.Elem{Arr: cgen.Vb("thrCol"), Idx: gelem},
	})
	return body
}

// calls emits the user kernel invocation; with mat args it sits inside
// a row/column nest and each entry is committed on the spot.
func (c *Ctx) calls() cgen.Stmts {
	var mats []int
	for i := range c.pl.Args {
		if c.pl.Args[i].IsMat() {
			mats = append(mats, i)
		}
	}
	if len(mats) == 0 {
		return cgen.Stmts{c.call(nil, nil)}
	}
	var (
		ri   = cgen.Vb("ri")
		ci   = cgen.Vb("ci")
		lead = &c.pl.Args[mats[0]]
		nest cgen.Stmts
	)
	for _, i := range mats {
		a := &c.pl.Args[i]
		nest = append(nest, cgen.Var{
			Type: dev.CType(a.Mat.Elem),
			What: num("plEnt", i),
			Init: reduce.Identity(a.Mat.Elem, ir.Inc),
		})
	}
	nest = append(nest, c.call(ri, ci))
	for _, i := range mats {
		a := &c.pl.Args[i]
		row := cgen.Elem{
			Arr: num("mmap", params.MatMapOf(c.pl, a.Map)),
			Idx: cgen.Add{Expr1: scaled(gelem, a.Map.Dim), Expr2: ri},
		}
		col := cgen.Elem{
			Arr: num("mmap", params.MatMapOf(c.pl, a.Map2)),
			Idx: cgen.Add{Expr1: scaled(gelem, a.Map2.Dim), Expr2: ci},
		}
		sp := params.SparsityOf(c.pl, a.Mat.Sparsity)
		nest = append(nest, c.mat.Call(a.Mat.Elem, a.Acc,
			c.carrier(i), num("rowptr", sp), num("colidx", sp),
			row, col, num("plEnt", i)))
	}
	loop := func(v cgen.Gen, n int, body cgen.Gen) cgen.Gen {
		return cgen.For{
			Init: cgen.Var{Type: cgen.Int, What: v, Init: cgen.Zero},
			Cond: cgen.CmpL{Expr1: v, Expr2: cgen.IntLit(n)},
			Post: cgen.IncPost{Expr: v},
			Body: cgen.Stmts{body},
		}
	}
	return cgen.Stmts{
		loop(ri, lead.Map.Dim, loop(ci, lead.Map2.Dim, nest)),
	}
}

func (c *Ctx) call(ri, ci cgen.Gen) cgen.Gen {
	var args cgen.CommaSpaced
	for i := range c.pl.Args {
		a := &c.pl.Args[i]
		switch {
		case a.IsMat():
			args = append(args, cgen.Addr{Expr: num("plEnt", i)})
		case a.IsIndirect():
			switch {
			case a.Idx == ir.VecIdx:
				args = append(args, num("plVec", i))
			case a.Acc.IsReduction():
				args = append(args, num("plAcc", i))
			default:
				g := plan.GroupIndex(c.groups, a)
				args = append(args, cgen.Addr{Expr: cgen.Elem{
					Arr: num("plSh", g),
					Idx: scaled(c.locAt(g, gelem, cgen.IntLit(a.Idx)), a.Dat.Cdim),
				}})
			}
		case a.IsDat():
			args = append(args, cgen.Addr{Expr: cgen.Elem{
				Arr: c.carrier(i),
				Idx: scaled(gelem, a.Dat.Cdim),
			}})
		case a.IsGlobalReduction():
			args = append(args, num("plPart", i))
		default:
			args = append(args, c.carrier(i))
		}
	}
	if ri != nil {
		args = append(args, ri, ci)
	}
	return cgen.Call{Func: cgen.Vb(c.pl.Kernel.Name), Args: args}
}

// colorLoop folds the private accumulators into shared memory one
// color at a time; the barrier inside the loop is why the element loop
// is rounded.
func (c *Ctx) colorLoop() cgen.Gen {
	var scatter cgen.Stmts
	for i := range c.pl.Args {
		a := &c.pl.Args[i]
		if !a.IsIndirect() || !a.Acc.IsReduction() {
			continue
		}
		g := plan.GroupIndex(c.groups, a)
		slots := 1
		if a.Idx == ir.VecIdx {
			slots = a.Map.Dim
		}
		for k := 0; k < slots; k++ {
			kk := a.Idx
			if a.Idx == ir.VecIdx {
				kk = k
			}
			d := cgen.Vb("d")
			base := scaled(c.locAt(g, gelem, cgen.IntLit(kk)), a.Dat.Cdim)
			scatter = append(scatter, cgen.For{
				Init: cgen.Var{Type: cgen.Int, What: d, Init: cgen.Zero},
				Cond: cgen.CmpL{Expr1: d, Expr2: cgen.IntLit(a.Dat.Cdim)},
				Post: cgen.IncPost{Expr: d},
				Body: cgen.Stmts{cgen.AddAssign{
					Expr1: cgen.Elem{
						Arr: num("plSh", g),
						Idx: cgen.Add{Expr1: base, Expr2: d},
					},
					Expr2: cgen.Elem{
						Arr: num("plAcc", i),
						Idx: cgen.Add{Expr1: cgen.IntLit(k * a.Dat.Cdim), Expr2: d},
					},
				}},
			})
		}
	}
	if len(scatter) == 0 {
		return nil
	}
	cc := cgen.Vb("cc")
	return cgen.For{
		Init: cgen.Var{Type: cgen.Int, What: cc, Init: cgen.Zero},
		Cond: cgen.CmpL{Expr1: cc, Expr2: ncol},
		Post: cgen.IncPost{Expr: cc},
		Body: cgen.Stmts{
			cgen.If{
				Cond: cgen.CmpE{Expr1: cc, Expr2: color},
				Then: scatter,
			},
			c.lang.Barrier(),
		},
	}
}

func (c *Ctx) reductions() cgen.Stmts {
	var body cgen.Stmts
	first := true
	for i := range c.pl.Args {
		a := &c.pl.Args[i]
		if !a.IsGlobalReduction() {
			continue
		}
		if first {
			body = append(body, c.lang.Barrier())
			first = false
		}
		t := a.Glob.Elem
		scratch := cgen.Cast{
			Type: c.lang.SharedPtr(dev.CType(t)),
			Expr: shared,
		}
		d := cgen.Vb("d")
		slot := cgen.Add{
			Expr1: scaled(cgen.Paren{Inner: cgen.Add{
				Expr1: cgen.Vb("blockOffset"),
				Expr2: c.lang.GroupId(),
			}}, a.Glob.Cdim),
			Expr2: d,
		}
		body = append(body, cgen.For{
			Init: cgen.Var{Type: cgen.Int, What: d, Init: cgen.Zero},
			Cond: cgen.CmpL{Expr1: d, Expr2: cgen.IntLit(a.Glob.Cdim)},
			Post: cgen.IncPost{Expr: d},
			Body: cgen.Stmts{c.red.Call(t, a.Acc, scratch,
				cgen.Elem{Arr: num("plPart", i), Idx: d},
				cgen.Addr{Expr: cgen.Elem{Arr: c.carrier(i), Idx: slot}})},
		})
	}
	return body
}
