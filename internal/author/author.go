package author

import (
	"strconv"
	"strings"

	"PL-64/internal/author/cgen"
	"PL-64/internal/author/dev"
	"PL-64/internal/author/direct"
	"PL-64/internal/author/indirect"
	"PL-64/internal/author/reduce"
	"PL-64/internal/author/sec"
	"PL-64/internal/author/spmat"
	"PL-64/internal/ir"
	"PL-64/internal/plan"
)

// Result is one rendered translation unit: the entry point name, the
// backend source text, and the launch shape the source was authored
// for.
type Result struct {
	Name      string
	Src       string
	GroupSize int
	Shared    int
}

// Name is the entry point name of a loop's unit, derived from the
// loop's structural signature.
func Name(pl *ir.ParLoop) string {
	return "pl" + pl.Sig().String()
}

// Implement renders the backend source for one loop. The loop must
// have passed construction checks and the group size must be a power
// of two.
func Implement(pl *ir.ParLoop, lang dev.Lang, caps dev.Caps, cfg plan.Config) *Result {
	st := &state{
		pl:   pl,
		lang: lang,
		caps: caps,
		cfg:  cfg,
		name: Name(pl),
	}
	for _, stage := range &stages {
		stage(st)
	}
	return &Result{
		Name:      st.name,
		Src:       string(st.secs.Join()),
		GroupSize: cfg.GroupSize,
		Shared:    st.shared,
	}
}

type state struct {
	pl     *ir.ParLoop
	lang   dev.Lang
	caps   dev.Caps
	cfg    plan.Config
	name   string
	shared int
	secs   sec.Sections
	red    *reduce.Ctx
	mat    *spmat.Ctx
}

var stages = [...]func(*state){
	(*state).stage1,
	(*state).stage2,
	(*state).stage3,
	(*state).stage4,
	(*state).stage5,
}

// stage1 opens the unit: provenance comment and backend pragmas.
func (st *state) stage1() {
	st.secs.Append(sec.Comment,
		cgen.Comment{
			st.name,
			st.lang.String() + " rendition of " + st.pl.Kernel.Name +
				" over set " + st.pl.Set.Name,
		},
		cgen.Newline)
	if gens := st.lang.Pragmas(); gens != nil {
		st.secs.Append(sec.Pragmas, gens, cgen.Newline)
	}
}

func lit(e ir.Elem, v float64) cgen.Gen {
	switch e {
	case ir.F32:
		return cgen.FloatLit(v)
	case ir.F64:
		return cgen.DoubleLit(v)
	case ir.U32:
		return cgen.Vb(strconv.FormatUint(uint64(v), 10) + "u")
	}
	return cgen.IntLit(int(v))
}

// stage2 bakes the loop's constants into the unit.
func (st *state) stage2() {
	for _, cn := range st.pl.Consts {
		t := cgen.Spaced{st.lang.ConstQual(), dev.CType(cn.Elem)}
		if cn.Cdim == 1 {
			st.secs.Append(sec.Consts, cgen.Var{
				Type: t,
				What: cgen.Vb(cn.Name),
				Init: lit(cn.Elem, cn.Data[0]),
			})
			continue
		}
		var vals cgen.CommaSpaced
		for _, v := range cn.Data {
			vals = append(vals, lit(cn.Elem, v))
		}
		st.secs.Append(sec.Consts, cgen.Var{
			Type: t,
			What: cgen.Elem{Arr: cgen.Vb(cn.Name), Idx: cgen.IntLit(cn.Cdim)},
			Init: cgen.Brace{Inner: vals},
		})
	}
	if len(st.pl.Consts) > 0 {
		st.secs.Append(sec.Consts, cgen.Newline)
	}
}

// stage3 inlines the user's elemental kernel verbatim.
func (st *state) stage3() {
	code := st.pl.Kernel.Code
	if !strings.HasSuffix(code, "\n") {
		code += "\n"
	}
	st.secs.Append(sec.User, cgen.Vb(code), cgen.Newline)
}

// stage4 authors the entry point, registering reduction and matrix
// helpers as it goes.
func (st *state) stage4() {
	st.red = reduce.NewCtx(st.lang, st.cfg.GroupSize)
	st.mat = spmat.NewCtx(st.lang, st.caps)
	if st.pl.IsDirect() {
		st.shared = st.directShared()
		ctx := direct.NewCtx(st.pl, st.lang, st.cfg, st.red, st.name)
		st.secs.Append(sec.Kernel, ctx.Entry())
		return
	}
	st.shared = st.cfg.SharedBytes
	ctx := indirect.NewCtx(st.pl, st.lang, st.cfg, st.red, st.mat, st.name)
	st.secs.Append(sec.Kernel, ctx.Entry())
}

func (st *state) directShared() int {
	bytes := 0
	for i := range st.pl.Args {
		a := &st.pl.Args[i]
		if a.IsGlobalReduction() {
			if n := a.Glob.Elem.Bytes(); n > bytes {
				bytes = n
			}
		}
	}
	return st.cfg.GroupSize * bytes
}

// stage5 renders the helpers registered during stage4 into the earlier
// Helpers section.
func (st *state) stage5() {
	st.secs.Append(sec.Helpers, st.red.Prep(), st.mat.Prep())
}
