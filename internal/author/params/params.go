package params

import (
	"strconv"

	"PL-64/internal/author/cgen"
	"PL-64/internal/author/dev"
	"PL-64/internal/ir"
)

// Carrier is one uniquely-referenced data object. Several args may
// bind the same Dat; the generated kernel takes one pointer per
// carrier (launch contract).
type Carrier struct {
	Dat  *ir.Dat
	Glob *ir.Global
	Mat  *ir.Mat
}

func (c *Carrier) Elem() ir.Elem {
	switch {
	case c.Dat != nil:
		return c.Dat.Elem
	case c.Glob != nil:
		return c.Glob.Elem
	default:
		return c.Mat.Elem
	}
}

func same(c *Carrier, a *ir.Arg) bool {
	return c.Dat == a.Dat && c.Glob == a.Glob && c.Mat == a.Mat
}

func Carriers(pl *ir.ParLoop) []Carrier {
	var cs []Carrier
	for i := range pl.Args {
		a := &pl.Args[i]
		found := false
		for j := range cs {
			if same(&cs[j], a) {
				found = true
				break
			}
		}
		if !found {
			cs = append(cs, Carrier{Dat: a.Dat, Glob: a.Glob, Mat: a.Mat})
		}
	}
	return cs
}

func CarrierOf(pl *ir.ParLoop, arg int) int {
	cs := Carriers(pl)
	a := &pl.Args[arg]
	for j := range cs {
		if same(&cs[j], a) {
			return j
		}
	}
	panic("bug")
}

// MatMaps lists the maps mat args resolve rows and columns through;
// unlike staged dat maps these are passed to the kernel whole.
func MatMaps(pl *ir.ParLoop) []*ir.Map {
	var ms []*ir.Map
	for i := range pl.Args {
		a := &pl.Args[i]
		if !a.IsMat() {
			continue
		}
		for _, m := range [2]*ir.Map{a.Map, a.Map2} {
			found := false
			for _, have := range ms {
				if have == m {
					found = true
					break
				}
			}
			if !found {
				ms = append(ms, m)
			}
		}
	}
	return ms
}

func MatMapOf(pl *ir.ParLoop, m *ir.Map) int {
	for j, have := range MatMaps(pl) {
		if have == m {
			return j
		}
	}
	panic("bug")
}

func Sparsities(pl *ir.ParLoop) []*ir.Sparsity {
	var sps []*ir.Sparsity
	for i := range pl.Args {
		a := &pl.Args[i]
		if !a.IsMat() {
			continue
		}
		found := false
		for _, have := range sps {
			if have == a.Mat.Sparsity {
				found = true
				break
			}
		}
		if !found {
			sps = append(sps, a.Mat.Sparsity)
		}
	}
	return sps
}

func SparsityOf(pl *ir.ParLoop, sp *ir.Sparsity) int {
	for j, have := range Sparsities(pl) {
		if have == sp {
			return j
		}
	}
	panic("bug")
}

type Kind int

const (
	SetSize Kind = iota
	Data
	MatMap
	RowPtr
	ColIdx
	Ind
	Loc
	IndSizes
	IndOffs
	BlkMap
	Nelems
	Offset
	ThrCol
	NThrCol
	BlockOffset
)

type Formal struct {
	Kind Kind
	Ref  int
	Name string
}

// Formals fixes the launch contract: the formal parameter list of the
// generated entry point, in order. The driver builds launch argument
// values by walking the same list.
func Formals(pl *ir.ParLoop) []Formal {
	fs := []Formal{{Kind: SetSize, Name: "setSize"}}
	for i := range Carriers(pl) {
		fs = append(fs, Formal{Kind: Data, Ref: i, Name: "arg" + strconv.Itoa(i)})
	}
	for i := range MatMaps(pl) {
		fs = append(fs, Formal{Kind: MatMap, Ref: i, Name: "mmap" + strconv.Itoa(i)})
	}
	for i := range Sparsities(pl) {
		fs = append(fs,
			Formal{Kind: RowPtr, Ref: i, Name: "rowptr" + strconv.Itoa(i)},
			Formal{Kind: ColIdx, Ref: i, Name: "colidx" + strconv.Itoa(i)})
	}
	if pl.IsIndirect() {
		fs = append(fs,
			Formal{Kind: Ind, Name: "ind"},
			Formal{Kind: Loc, Name: "loc"},
			Formal{Kind: IndSizes, Name: "indSizes"},
			Formal{Kind: IndOffs, Name: "indOffs"},
			Formal{Kind: BlkMap, Name: "blkMap"},
			Formal{Kind: Nelems, Name: "nelems"},
			Formal{Kind: Offset, Name: "offset"},
			Formal{Kind: ThrCol, Name: "thrCol"},
			Formal{Kind: NThrCol, Name: "nThrCol"},
			Formal{Kind: BlockOffset, Name: "blockOffset"})
	}
	return fs
}

// ParamList renders the formal parameter list of the entry point.
func ParamList(pl *ir.ParLoop, lang dev.Lang) cgen.Gen {
	cs := Carriers(pl)
	var ps cgen.CommaSpaced
	for _, f := range Formals(pl) {
		var t cgen.Gen
		switch f.Kind {
		case SetSize, BlockOffset:
			t = cgen.Int
		case Data:
			t = lang.GlobalPtr(dev.CType(cs[f.Ref].Elem()))
		default:
			t = lang.GlobalPtr(cgen.Const{Tail: cgen.Int})
		}
		ps = append(ps, cgen.Param{Type: t, What: cgen.Vb(f.Name)})
	}
	return ps
}
