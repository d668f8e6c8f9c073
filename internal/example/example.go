package example

import (
	"errors"

	"PL-64/internal/ir"
	"PL-64/internal/sim"
)

// Demo is one self-contained loop with its data, its host elemental
// function for the in-process device, and a report of the data after
// a run.
type Demo struct {
	Loop   *ir.ParLoop
	Fn     sim.Func
	Report func() string
}

var menu = [...]struct {
	name string
	call func() (*Demo, error)
}{
	{"Scale", scale},
	{"Gather", gather},
	{"Mass", mass},
}

func Names() []string {
	names := make([]string, len(menu))
	for i := range &menu {
		names[i] = menu[i].name
	}
	return names
}

func Get(name string) (*Demo, error) {
	for i := range &menu {
		if menu[i].name == name {
			return menu[i].call()
		}
	}
	return nil, errors.New("unknown example " + name)
}
