package example

import (
	"fmt"

	"PL-64/internal/ir"
	"PL-64/internal/sim"
)

// scale is the direct showcase: rescale a field in place and reduce
// its total in the same pass.
func scale() (*Demo, error) {
	set, err := ir.NewSet(1000, "cells")
	if err != nil {
		return nil, err
	}
	data := make([]float64, set.Size)
	for i := range data {
		data[i] = float64(i) * 0.5
	}
	x, err := ir.NewDat(set, 1, ir.F64, "x", data)
	if err != nil {
		return nil, err
	}
	alpha, err := ir.NewGlobal(1, ir.F64, "alpha", []float64{2})
	if err != nil {
		return nil, err
	}
	total, err := ir.NewGlobal(1, ir.F64, "total", nil)
	if err != nil {
		return nil, err
	}
	kernel := ir.Kernel{
		Name: "scale",
		Code: "void scale(double* x, const double* alpha, double* total) {\n" +
			"\tx[0] = x[0] * alpha[0];\n" +
			"\ttotal[0] += x[0];\n" +
			"}\n",
	}
	loop, err := ir.NewParLoop(kernel, set, []ir.Arg{
		ir.DatArg(x, nil, ir.RW),
		ir.GlobalArg(alpha, ir.Read),
		ir.GlobalArg(total, ir.Inc),
	})
	if err != nil {
		return nil, err
	}
	fn := func(args []sim.View, ri, ci int) {
		args[0].Flat[0] *= args[1].Flat[0]
		args[2].Flat[0] += args[0].Flat[0]
	}
	report := func() string {
		return fmt.Sprintf("x[1] = %g\nx[999] = %g\ntotal = %g\n",
			x.Data[1], x.Data[999], total.Data[0])
	}
	return &Demo{Loop: loop, Fn: fn, Report: report}, nil
}
