package sim

import (
	"testing"

	"PL-64/internal/author"
	"PL-64/internal/author/dev"
	"PL-64/internal/driver"
	"PL-64/internal/ir"
	"PL-64/internal/plan"
)

func testCaps() dev.Caps {
	return dev.Caps{
		AtomicF32:   true,
		AtomicF64:   true,
		SharedBytes: 48 * 1024,
		MaxGroups:   64,
	}
}

func doubler(t *testing.T) *ir.ParLoop {
	t.Helper()
	set, err := ir.NewSet(5, "cells")
	if err != nil {
		t.Fatal(err)
	}
	x, err := ir.NewDat(set, 1, ir.F64, "x", nil)
	if err != nil {
		t.Fatal(err)
	}
	kernel := ir.Kernel{Name: "double_", Code: "void double_(double* x) { x[0] *= 2; }"}
	pl, err := ir.NewParLoop(kernel, set, []ir.Arg{ir.DatArg(x, nil, ir.RW)})
	if err != nil {
		t.Fatal(err)
	}
	return pl
}

// Compile must hand the kernel the bound loop and function, not just
// recognize the unit name.
func TestBindCarriesLoop(t *testing.T) {
	pl := doubler(t)
	device := New(testCaps())
	device.Bind(pl, func(args []View, ri, ci int) {
		args[0].Flat[0] *= 2
	})
	res := author.Implement(pl, dev.CUDA, testCaps(), plan.Default)
	k, err := device.Compile(dev.CUDA, res)
	if err != nil {
		t.Fatal(err)
	}
	kk, ok := k.(*kernel)
	if !ok {
		t.Fatalf("Compile returned %T", k)
	}
	if kk.pl != pl {
		t.Fatal("compiled kernel lost its loop")
	}
	if kk.fn == nil {
		t.Fatal("compiled kernel lost its elemental function")
	}
	data := []float64{0, 1, 2, 3, 4}
	args := []driver.Value{
		{Scalar: pl.Set.Size},
		{Data: data},
	}
	if err := k.Launch(1, args); err != nil {
		t.Fatal(err)
	}
	for i, v := range data {
		if v != float64(2*i) {
			t.Fatalf("data = %v, want doubled", data)
		}
	}
}

func TestCompileUnbound(t *testing.T) {
	pl := doubler(t)
	device := New(testCaps())
	res := author.Implement(pl, dev.CUDA, testCaps(), plan.Default)
	if _, err := device.Compile(dev.CUDA, res); err == nil {
		t.Fatal("unit with no binding compiled")
	}
}
