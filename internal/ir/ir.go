package ir

import (
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
)

var (
	ErrInvalidAccessMode = errors.New("invalid access mode")
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrMapRange          = errors.New("map index out of range")
)

type Access int

const (
	Read Access = iota
	Write
	RW
	Inc
	Min
	Max
)

var AccessStrings = []string{
	Read:  "READ",
	Write: "WRITE",
	RW:    "RW",
	Inc:   "INC",
	Min:   "MIN",
	Max:   "MAX",
}

func (a Access) String() string {
	return AccessStrings[a]
}

func (a Access) IsReduction() bool {
	return a == Inc || a == Min || a == Max
}

type Elem int

const (
	F32 Elem = iota
	F64
	I32
	U32
)

var ElemStrings = []string{
	F32: "F32",
	F64: "F64",
	I32: "I32",
	U32: "U32",
}

var elemBytes = []int{
	F32: 4,
	F64: 8,
	I32: 4,
	U32: 4,
}

var elemCTypes = []string{
	F32: "float",
	F64: "double",
	I32: "int",
	U32: "unsigned int",
}

func (e Elem) String() string { return ElemStrings[e] }
func (e Elem) Bytes() int     { return elemBytes[e] }
func (e Elem) CType() string  { return elemCTypes[e] }

type Set struct {
	Size int
	Name string
}

func NewSet(size int, name string) (*Set, error) {
	if size < 0 {
		return nil, fmt.Errorf("set %s: negative size %d", name, size)
	}
	return &Set{Size: size, Name: name}, nil
}

type Dat struct {
	Set  *Set
	Cdim int
	Elem Elem
	Name string
	Data []float64
}

func NewDat(set *Set, cdim int, elem Elem, name string, data []float64) (*Dat, error) {
	if cdim < 1 {
		return nil, fmt.Errorf("dat %s: cdim %d", name, cdim)
	}
	if data == nil {
		data = make([]float64, set.Size*cdim)
	} else if len(data) != set.Size*cdim {
		return nil, fmt.Errorf("dat %s: %w: have %d values, want %d",
			name, ErrDimensionMismatch, len(data), set.Size*cdim)
	}
	return &Dat{Set: set, Cdim: cdim, Elem: elem, Name: name, Data: data}, nil
}

type Map struct {
	From   *Set
	To     *Set
	Dim    int
	Values []int32
	Name   string
}

func NewMap(from, to *Set, dim int, values []int32, name string) (*Map, error) {
	if dim < 1 {
		return nil, fmt.Errorf("map %s: dim %d", name, dim)
	}
	if len(values) != from.Size*dim {
		return nil, fmt.Errorf("map %s: %w: have %d indices, want %d",
			name, ErrDimensionMismatch, len(values), from.Size*dim)
	}
	return &Map{From: from, To: to, Dim: dim, Values: values, Name: name}, nil
}

func (m *Map) RangeCheck() error {
	for i, v := range m.Values {
		if v < 0 || int(v) >= m.To.Size {
			return fmt.Errorf("map %s: %w: entry %d is %d, target set %s has size %d",
				m.Name, ErrMapRange, i, v, m.To.Name, m.To.Size)
		}
	}
	return nil
}

type Global struct {
	Cdim int
	Elem Elem
	Name string
	Data []float64
}

func NewGlobal(cdim int, elem Elem, name string, data []float64) (*Global, error) {
	if cdim < 1 {
		return nil, fmt.Errorf("global %s: cdim %d", name, cdim)
	}
	if data == nil {
		data = make([]float64, cdim)
	} else if len(data) != cdim {
		return nil, fmt.Errorf("global %s: %w: have %d values, want %d",
			name, ErrDimensionMismatch, len(data), cdim)
	}
	return &Global{Cdim: cdim, Elem: elem, Name: name, Data: data}, nil
}

type Const struct {
	Cdim int
	Elem Elem
	Name string
	Data []float64
}

func NewConst(cdim int, elem Elem, name string, data []float64) (*Const, error) {
	if cdim < 1 || len(data) != cdim {
		return nil, fmt.Errorf("const %s: %w: have %d values, want %d",
			name, ErrDimensionMismatch, len(data), cdim)
	}
	return &Const{Cdim: cdim, Elem: elem, Name: name, Data: data}, nil
}

type Sparsity struct {
	RowSet *Set
	ColSet *Set
	RowPtr []int32
	ColIdx []int32
	Name   string
}

func NewSparsity(rmap, cmap *Map, name string) (*Sparsity, error) {
	if rmap.From != cmap.From {
		return nil, fmt.Errorf("sparsity %s: row map %s and col map %s have different source sets",
			name, rmap.Name, cmap.Name)
	}
	if err := rmap.RangeCheck(); err != nil {
		return nil, fmt.Errorf("sparsity %s: %w", name, err)
	}
	if err := cmap.RangeCheck(); err != nil {
		return nil, fmt.Errorf("sparsity %s: %w", name, err)
	}
	nrows := rmap.To.Size
	rows := make([][]int32, nrows)
	have := make([]map[int32]bool, nrows)
	for e := 0; e < rmap.From.Size; e++ {
		for i := 0; i < rmap.Dim; i++ {
			r := rmap.Values[e*rmap.Dim+i]
			for j := 0; j < cmap.Dim; j++ {
				c := cmap.Values[e*cmap.Dim+j]
				if have[r] == nil {
					have[r] = make(map[int32]bool)
				}
				if have[r][c] {
					continue
				}
				have[r][c] = true
				rows[r] = append(rows[r], c)
			}
		}
	}
	sp := &Sparsity{
		RowSet: rmap.To,
		ColSet: cmap.To,
		RowPtr: make([]int32, nrows+1),
		Name:   name,
	}
	for r, cols := range rows {
		sp.RowPtr[r+1] = sp.RowPtr[r] + int32(len(cols))
		sp.ColIdx = append(sp.ColIdx, cols...)
	}
	return sp, nil
}

func (sp *Sparsity) Nonzeros() int {
	return len(sp.ColIdx)
}

func (sp *Sparsity) Offset(row, col int32) int {
	for k := sp.RowPtr[row]; k < sp.RowPtr[row+1]; k++ {
		if sp.ColIdx[k] == col {
			return int(k)
		}
	}
	return -1
}

type Mat struct {
	Sparsity *Sparsity
	Elem     Elem
	Name     string
	Values   []float64
}

func NewMat(sp *Sparsity, elem Elem, name string) *Mat {
	return &Mat{
		Sparsity: sp,
		Elem:     elem,
		Name:     name,
		Values:   make([]float64, sp.Nonzeros()),
	}
}

const VecIdx = -1

type Arg struct {
	Dat  *Dat
	Glob *Global
	Mat  *Mat
	Map  *Map
	Map2 *Map
	Idx  int
	Acc  Access
}

func DatArg(d *Dat, m *Map, acc Access) Arg {
	return Arg{Dat: d, Map: m, Idx: VecIdx, Acc: acc}
}

func DatIdxArg(d *Dat, m *Map, idx int, acc Access) Arg {
	return Arg{Dat: d, Map: m, Idx: idx, Acc: acc}
}

func GlobalArg(g *Global, acc Access) Arg {
	return Arg{Glob: g, Idx: VecIdx, Acc: acc}
}

func MatArg(m *Mat, rmap, cmap *Map, acc Access) Arg {
	return Arg{Mat: m, Map: rmap, Map2: cmap, Idx: VecIdx, Acc: acc}
}

func (a *Arg) IsDat() bool    { return a.Dat != nil }
func (a *Arg) IsGlobal() bool { return a.Glob != nil }
func (a *Arg) IsMat() bool    { return a.Mat != nil }

func (a *Arg) IsIndirect() bool {
	return a.Dat != nil && a.Map != nil
}

func (a *Arg) IsGlobalReduction() bool {
	return a.Glob != nil && a.Acc.IsReduction()
}

func (a *Arg) Elem() Elem {
	switch {
	case a.Dat != nil:
		return a.Dat.Elem
	case a.Glob != nil:
		return a.Glob.Elem
	default:
		return a.Mat.Elem
	}
}

func (a *Arg) Cdim() int {
	switch {
	case a.Dat != nil:
		return a.Dat.Cdim
	case a.Glob != nil:
		return a.Glob.Cdim
	default:
		return 1
	}
}

func (a *Arg) name() string {
	switch {
	case a.Dat != nil:
		return a.Dat.Name
	case a.Glob != nil:
		return a.Glob.Name
	default:
		return a.Mat.Name
	}
}

type Kernel struct {
	Name string
	Code string
}

type ParLoop struct {
	Kernel Kernel
	Set    *Set
	Args   []Arg
	Consts []*Const
}

func NewParLoop(kernel Kernel, set *Set, args []Arg, consts ...*Const) (*ParLoop, error) {
	pl := &ParLoop{Kernel: kernel, Set: set, Args: args, Consts: consts}
	if err := pl.check(); err != nil {
		return nil, fmt.Errorf("par_loop %s: %w", kernel.Name, err)
	}
	return pl, nil
}

func (pl *ParLoop) check() error {
	seen := make(map[string]bool)
	for _, c := range pl.Consts {
		if seen[c.Name] {
			return fmt.Errorf("const %s declared twice", c.Name)
		}
		seen[c.Name] = true
	}
	for i := range pl.Args {
		a := &pl.Args[i]
		if err := pl.checkArg(a); err != nil {
			return fmt.Errorf("arg %d (%s): %w", i, a.name(), err)
		}
	}
	return nil
}

func (pl *ParLoop) checkArg(a *Arg) error {
	switch {
	case a.Mat != nil:
		if a.Acc != Inc && a.Acc != Write {
			return fmt.Errorf("%w: %s on mat", ErrInvalidAccessMode, a.Acc)
		}
		if a.Map == nil || a.Map2 == nil {
			return errors.New("mat arg needs a row map and a col map")
		}
		if a.Map.From != pl.Set || a.Map2.From != pl.Set {
			return errors.New("mat arg maps do not start from the iteration set")
		}
		if a.Map.To != a.Mat.Sparsity.RowSet || a.Map2.To != a.Mat.Sparsity.ColSet {
			return errors.New("mat arg maps do not match the sparsity")
		}
	case a.Glob != nil:
		if a.Acc == Write || a.Acc == RW {
			return fmt.Errorf("%w: %s on global", ErrInvalidAccessMode, a.Acc)
		}
		if a.Map != nil {
			return errors.New("global arg cannot be indirect")
		}
	case a.Dat != nil:
		if a.Acc == Min || a.Acc == Max {
			return fmt.Errorf("%w: %s on dat", ErrInvalidAccessMode, a.Acc)
		}
		if a.Map == nil {
			if a.Dat.Set != pl.Set {
				return fmt.Errorf("%w: direct dat lives on %s, loop iterates %s",
					ErrDimensionMismatch, a.Dat.Set.Name, pl.Set.Name)
			}
			return nil
		}
		if a.Map.From != pl.Set {
			return fmt.Errorf("map %s starts from %s, loop iterates %s",
				a.Map.Name, a.Map.From.Name, pl.Set.Name)
		}
		if a.Map.To != a.Dat.Set {
			return fmt.Errorf("%w: map %s targets %s, dat lives on %s",
				ErrDimensionMismatch, a.Map.Name, a.Map.To.Name, a.Dat.Set.Name)
		}
		if a.Idx != VecIdx && (a.Idx < 0 || a.Idx >= a.Map.Dim) {
			return fmt.Errorf("map index %d not in [0,%d)", a.Idx, a.Map.Dim)
		}
	default:
		return errors.New("empty arg")
	}
	return nil
}

func (pl *ParLoop) IsDirect() bool {
	for i := range pl.Args {
		a := &pl.Args[i]
		if a.IsIndirect() || a.IsMat() {
			return false
		}
	}
	return true
}

func (pl *ParLoop) IsIndirect() bool {
	return !pl.IsDirect()
}

type Signature uint64

func (s Signature) String() string {
	return strconv.FormatUint(uint64(s), 16)
}

func (pl *ParLoop) Sig() Signature {
	h := fnv.New64a()
	word := func(vs ...int) {
		var b [8]byte
		for _, v := range vs {
			u := uint64(int64(v))
			for i := range b {
				b[i] = byte(u >> (8 * i))
			}
			h.Write(b[:])
		}
	}
	h.Write([]byte(pl.Kernel.Name))
	h.Write([]byte(pl.Kernel.Code))
	word(pl.Set.Size)
	for i := range pl.Args {
		a := &pl.Args[i]
		switch {
		case a.Dat != nil:
			word(1, a.Dat.Cdim, int(a.Dat.Elem))
		case a.Glob != nil:
			word(2, a.Glob.Cdim, int(a.Glob.Elem))
		default:
			word(3, int(a.Mat.Elem), a.Mat.Sparsity.RowSet.Size, a.Mat.Sparsity.ColSet.Size)
		}
		word(int(a.Acc), a.Idx)
		for _, m := range [2]*Map{a.Map, a.Map2} {
			if m == nil {
				word(-1)
				continue
			}
			word(m.Dim, m.To.Size)
			h.Write([]byte(m.Name))
		}
	}
	for _, c := range pl.Consts {
		h.Write([]byte(c.Name))
		word(c.Cdim, int(c.Elem))
	}
	return Signature(h.Sum64())
}

// PlanSig identifies the schedule-relevant structure only: the
// iteration set and the maps used with reduction access. Loops that
// differ elsewhere share a schedule.
func (pl *ParLoop) PlanSig() Signature {
	h := fnv.New64a()
	word := func(v int) {
		var b [8]byte
		u := uint64(int64(v))
		for i := range b {
			b[i] = byte(u >> (8 * i))
		}
		h.Write(b[:])
	}
	word(pl.Set.Size)
	for i := range pl.Args {
		a := &pl.Args[i]
		stage := a.IsIndirect()
		conflict := (a.IsIndirect() || a.IsMat()) && a.Acc.IsReduction()
		if !stage && !conflict {
			continue
		}
		if stage {
			word(1)
			word(a.Dat.Cdim * a.Dat.Elem.Bytes())
		} else {
			word(2)
		}
		word(int(a.Acc))
		word(a.Idx)
		for _, m := range [2]*Map{a.Map, a.Map2} {
			if m == nil {
				word(-1)
				continue
			}
			word(m.Dim)
			word(m.To.Size)
			for _, v := range m.Values {
				word(int(v))
			}
		}
	}
	return Signature(h.Sum64())
}
