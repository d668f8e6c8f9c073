package ir

import (
	"errors"
	"testing"
)

func mesh(t *testing.T) (*Set, *Set, *Map) {
	t.Helper()
	elements, err := NewSet(4, "elements")
	if err != nil {
		t.Fatal(err)
	}
	vertices, err := NewSet(6, "vertices")
	if err != nil {
		t.Fatal(err)
	}
	conn := []int32{
		0, 1, 2,
		1, 2, 3,
		2, 3, 4,
		3, 4, 5,
	}
	vert, err := NewMap(elements, vertices, 3, conn, "vert")
	if err != nil {
		t.Fatal(err)
	}
	return elements, vertices, vert
}

func TestNewSetNegative(t *testing.T) {
	if _, err := NewSet(-1, "bad"); err == nil {
		t.Fatal("negative size accepted")
	}
}

func TestNewDatLength(t *testing.T) {
	set, err := NewSet(3, "cells")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewDat(set, 2, F64, "x", []float64{1}); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("want ErrDimensionMismatch, got %v", err)
	}
	d, err := NewDat(set, 2, F64, "x", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Data) != 6 {
		t.Fatalf("zero fill: len %d, want 6", len(d.Data))
	}
}

func TestMapRangeCheck(t *testing.T) {
	from, err := NewSet(2, "from")
	if err != nil {
		t.Fatal(err)
	}
	to, err := NewSet(2, "to")
	if err != nil {
		t.Fatal(err)
	}
	m, err := NewMap(from, to, 1, []int32{0, 2}, "m")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.RangeCheck(); !errors.Is(err, ErrMapRange) {
		t.Fatalf("want ErrMapRange, got %v", err)
	}
}

func TestGlobalModes(t *testing.T) {
	set, _ := NewSet(2, "cells")
	g, err := NewGlobal(1, F64, "g", nil)
	if err != nil {
		t.Fatal(err)
	}
	kernel := Kernel{Name: "k", Code: "void k() {}"}
	for _, acc := range []Access{Write, RW} {
		_, err := NewParLoop(kernel, set, []Arg{GlobalArg(g, acc)})
		if !errors.Is(err, ErrInvalidAccessMode) {
			t.Errorf("%s on global: want ErrInvalidAccessMode, got %v", acc, err)
		}
	}
	for _, acc := range []Access{Read, Inc, Min, Max} {
		if _, err := NewParLoop(kernel, set, []Arg{GlobalArg(g, acc)}); err != nil {
			t.Errorf("%s on global: %v", acc, err)
		}
	}
}

func TestMatModes(t *testing.T) {
	elements, _, vert := mesh(t)
	sp, err := NewSparsity(vert, vert, "sp")
	if err != nil {
		t.Fatal(err)
	}
	m := NewMat(sp, F64, "m")
	kernel := Kernel{Name: "k", Code: "void k() {}"}
	for _, acc := range []Access{Read, RW, Min, Max} {
		_, err := NewParLoop(kernel, elements, []Arg{MatArg(m, vert, vert, acc)})
		if !errors.Is(err, ErrInvalidAccessMode) {
			t.Errorf("%s on mat: want ErrInvalidAccessMode, got %v", acc, err)
		}
	}
	for _, acc := range []Access{Inc, Write} {
		if _, err := NewParLoop(kernel, elements, []Arg{MatArg(m, vert, vert, acc)}); err != nil {
			t.Errorf("%s on mat: %v", acc, err)
		}
	}
}

func TestDatModes(t *testing.T) {
	elements, vertices, vert := mesh(t)
	own, err := NewDat(elements, 1, F64, "own", nil)
	if err != nil {
		t.Fatal(err)
	}
	far, err := NewDat(vertices, 1, F64, "far", nil)
	if err != nil {
		t.Fatal(err)
	}
	kernel := Kernel{Name: "k", Code: "void k() {}"}
	// a dat folds through staging, which only knows how to add; MIN
	// and MAX belong on globals
	for _, acc := range []Access{Min, Max} {
		_, err := NewParLoop(kernel, elements, []Arg{DatArg(own, nil, acc)})
		if !errors.Is(err, ErrInvalidAccessMode) {
			t.Errorf("%s on direct dat: want ErrInvalidAccessMode, got %v", acc, err)
		}
		_, err = NewParLoop(kernel, elements, []Arg{DatArg(far, vert, acc)})
		if !errors.Is(err, ErrInvalidAccessMode) {
			t.Errorf("%s on mapped dat: want ErrInvalidAccessMode, got %v", acc, err)
		}
	}
	for _, acc := range []Access{Read, Write, RW, Inc} {
		if _, err := NewParLoop(kernel, elements, []Arg{DatArg(far, vert, acc)}); err != nil {
			t.Errorf("%s on mapped dat: %v", acc, err)
		}
	}
}

func TestDirectDatSetAgreement(t *testing.T) {
	elements, vertices, _ := mesh(t)
	d, err := NewDat(vertices, 1, F64, "x", nil)
	if err != nil {
		t.Fatal(err)
	}
	kernel := Kernel{Name: "k", Code: "void k() {}"}
	_, err = NewParLoop(kernel, elements, []Arg{DatArg(d, nil, Read)})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("want ErrDimensionMismatch, got %v", err)
	}
}

func TestIndirectDatMapAgreement(t *testing.T) {
	elements, vertices, vert := mesh(t)
	onElements, err := NewDat(elements, 1, F64, "y", nil)
	if err != nil {
		t.Fatal(err)
	}
	kernel := Kernel{Name: "k", Code: "void k() {}"}
	if _, err := NewParLoop(kernel, elements, []Arg{DatArg(onElements, vert, Read)}); err == nil {
		t.Fatal("map targeting the wrong set accepted")
	}
	onVertices, err := NewDat(vertices, 1, F64, "x", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewParLoop(kernel, elements, []Arg{DatIdxArg(onVertices, vert, 3, Read)}); err == nil {
		t.Fatal("map index 3 of a dim-3 map accepted")
	}
	if _, err := NewParLoop(kernel, elements, []Arg{DatIdxArg(onVertices, vert, 2, Read)}); err != nil {
		t.Fatal(err)
	}
}

func TestIsDirect(t *testing.T) {
	elements, vertices, vert := mesh(t)
	own, _ := NewDat(elements, 1, F64, "own", nil)
	far, _ := NewDat(vertices, 1, F64, "far", nil)
	kernel := Kernel{Name: "k", Code: "void k() {}"}
	direct, err := NewParLoop(kernel, elements, []Arg{DatArg(own, nil, RW)})
	if err != nil {
		t.Fatal(err)
	}
	if !direct.IsDirect() {
		t.Error("loop without maps classified indirect")
	}
	indirect, err := NewParLoop(kernel, elements, []Arg{
		DatArg(own, nil, Read),
		DatArg(far, vert, Inc),
	})
	if err != nil {
		t.Fatal(err)
	}
	if indirect.IsDirect() {
		t.Error("loop with a mapped arg classified direct")
	}
}

func TestSparsity(t *testing.T) {
	_, _, vert := mesh(t)
	sp, err := NewSparsity(vert, vert, "sp")
	if err != nil {
		t.Fatal(err)
	}
	// row 0 appears only in element 0, so it couples to {0,1,2}
	if got := sp.RowPtr[1] - sp.RowPtr[0]; got != 3 {
		t.Errorf("row 0 has %d entries, want 3", got)
	}
	// row 2 appears in elements 0..2, coupling to {0,1,2,3,4}
	if got := sp.RowPtr[3] - sp.RowPtr[2]; got != 5 {
		t.Errorf("row 2 has %d entries, want 5", got)
	}
	if sp.Offset(0, 2) < 0 {
		t.Error("entry (0,2) missing")
	}
	if sp.Offset(0, 5) != -1 {
		t.Error("entry (0,5) should be absent")
	}
	if sp.Nonzeros() != int(sp.RowPtr[len(sp.RowPtr)-1]) {
		t.Error("Nonzeros disagrees with RowPtr")
	}
}

func TestConstUniqueness(t *testing.T) {
	set, _ := NewSet(2, "cells")
	d, _ := NewDat(set, 1, F64, "x", nil)
	c1, err := NewConst(1, F64, "c", []float64{1})
	if err != nil {
		t.Fatal(err)
	}
	c2, _ := NewConst(1, F64, "c", []float64{2})
	kernel := Kernel{Name: "k", Code: "void k() {}"}
	if _, err := NewParLoop(kernel, set, []Arg{DatArg(d, nil, Read)}, c1, c2); err == nil {
		t.Fatal("duplicate const name accepted")
	}
}

func TestSig(t *testing.T) {
	elements, vertices, vert := mesh(t)
	x, _ := NewDat(vertices, 1, F64, "x", nil)
	kernel := Kernel{Name: "k", Code: "void k(double* x) { x[0] = 1; }"}
	a, err := NewParLoop(kernel, elements, []Arg{DatArg(x, vert, Write)})
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewParLoop(kernel, elements, []Arg{DatArg(x, vert, Write)})
	if err != nil {
		t.Fatal(err)
	}
	if a.Sig() != b.Sig() {
		t.Error("identical loops disagree on Sig")
	}
	other := Kernel{Name: "k", Code: "void k(double* x) { x[0] = 2; }"}
	c, err := NewParLoop(other, elements, []Arg{DatArg(x, vert, Write)})
	if err != nil {
		t.Fatal(err)
	}
	if a.Sig() == c.Sig() {
		t.Error("different kernel bodies share a Sig")
	}
}

func TestPlanSig(t *testing.T) {
	elements, vertices, vert := mesh(t)
	x, _ := NewDat(vertices, 1, F64, "x", nil)
	y, _ := NewDat(vertices, 1, F64, "y", nil)
	k1 := Kernel{Name: "k1", Code: "void k1(double* x) { x[0] += 1; }"}
	k2 := Kernel{Name: "k2", Code: "void k2(double* y) { y[0] += 2; }"}
	a, err := NewParLoop(k1, elements, []Arg{DatArg(x, vert, Inc)})
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewParLoop(k2, elements, []Arg{DatArg(y, vert, Inc)})
	if err != nil {
		t.Fatal(err)
	}
	if a.Sig() == b.Sig() {
		t.Error("different loops share a Sig")
	}
	if a.PlanSig() != b.PlanSig() {
		t.Error("loops with the same reduction structure should share a PlanSig")
	}
	// changing map contents must change the schedule identity
	before := a.PlanSig()
	vert.Values[0] = 3
	if a.PlanSig() == before {
		t.Error("PlanSig ignores map values")
	}
	vert.Values[0] = 0
}
