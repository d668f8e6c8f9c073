package example

import (
	"testing"

	"PL-64/internal/author/dev"
	"PL-64/internal/driver"
	"PL-64/internal/plan"
	"PL-64/internal/sim"
)

func runDemo(t *testing.T, name string) string {
	t.Helper()
	demo, err := Get(name)
	if err != nil {
		t.Fatal(err)
	}
	device := sim.New(dev.Caps{
		AtomicF32:   true,
		AtomicF64:   true,
		SharedBytes: 48 * 1024,
		MaxGroups:   64,
	})
	device.Bind(demo.Loop, demo.Fn)
	exec, err := driver.New(device, dev.CUDA, plan.Default)
	if err != nil {
		t.Fatal(err)
	}
	if err := exec.Run(demo.Loop); err != nil {
		t.Fatal(err)
	}
	return demo.Report()
}

func TestScale(t *testing.T) {
	got := runDemo(t, "Scale")
	want := "x[1] = 1\nx[999] = 999\ntotal = 499500\n"
	if got != want {
		t.Errorf("report:\n%swant:\n%s", got, want)
	}
}

func TestGather(t *testing.T) {
	got := runDemo(t, "Gather")
	// load[i] folds the weights of the two incident ring edges;
	// the grand total is twice the weight sum, 2 * 72.
	want := "load[0] = 4\nload[35] = 5\nsum = 144\n"
	if got != want {
		t.Errorf("report:\n%swant:\n%s", got, want)
	}
}

func TestMass(t *testing.T) {
	got := runDemo(t, "Mass")
	// 14 vertices coupled up to distance 2 give 64 nonzeros; every
	// vertex appearance adds 2 on the diagonal, 36 appearances total.
	want := "nonzeros = 64\ntrace = 72\nsum = 144\n"
	if got != want {
		t.Errorf("report:\n%swant:\n%s", got, want)
	}
}

func TestNames(t *testing.T) {
	names := Names()
	if len(names) != 3 {
		t.Fatalf("menu has %d entries", len(names))
	}
	for _, n := range names {
		if _, err := Get(n); err != nil {
			t.Errorf("%s: %v", n, err)
		}
	}
	if _, err := Get("NoSuch"); err == nil {
		t.Error("unknown name accepted")
	}
}
