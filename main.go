// PL-64
//
// Copyright (C) 2019 [
//     37ef ced3 3727 60b4
//     3c29 f9c6 dc30 d518
//     f4f3 4106 6964 cab4
//     a06f c1a3 83fd 090e
// ]
//
// All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions
// are met:
//
// 1. Redistributions of source code must retain the above copyright
//    notice, this list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright
//    notice, this list of conditions and the following disclaimer in
//    the documentation and/or other materials provided with the
//    distribution.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS
// "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT
// LIMITED TO, THE IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR
// A PARTICULAR PURPOSE ARE DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT
// HOLDER OR CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING, BUT NOT
// LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR SERVICES; LOSS OF USE,
// DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER CAUSED AND ON ANY
// THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT
// (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

package main

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"PL-64/internal/author"
	"PL-64/internal/author/dev"
	"PL-64/internal/driver"
	"PL-64/internal/example"
	"PL-64/internal/plan"
	"PL-64/internal/sim"
	"PL-64/internal/version"
)

const (
	newline = "\n"
	space   = " "
	indent  = space + space + space + space
	usage   = newline + "Usage:" + newline + newline + indent + "PL-64" + space
)

func backend(name string) (dev.Lang, dev.Caps, error) {
	for lang := dev.CUDA; lang <= dev.OpenCL; lang++ {
		if dev.LangStrings[lang] == name {
			caps := dev.Caps{
				AtomicF32:   lang == dev.CUDA,
				AtomicF64:   lang == dev.CUDA,
				SharedBytes: 48 * 1024,
				MaxGroups:   1 << 15,
			}
			return lang, caps, nil
		}
	}
	return 0, dev.Caps{}, errors.New("unknown backend " + name)
}

func cmdEmit() error {
	if len(os.Args) == 4 {
		demo, err := example.Get(os.Args[2])
		if err != nil {
			return err
		}
		lang, caps, err := backend(os.Args[3])
		if err != nil {
			return err
		}
		res := author.Implement(demo.Loop, lang, caps, plan.Default)
		_, err = os.Stdout.WriteString(res.Src)
		return err
	}
	list := strings.Join(example.Names(), newline+indent)
	return errors.New(usage +
		os.Args[1] + space + "NAME" + space + "BACKEND" + newline +
		newline +
		"The NAME argument can be:" + newline +
		newline +
		indent + list + newline +
		newline +
		"The BACKEND argument can be:" + newline +
		newline +
		indent + strings.Join(dev.LangStrings, newline+indent) + newline)
}

func cmdRun() error {
	if len(os.Args) == 3 {
		demo, err := example.Get(os.Args[2])
		if err != nil {
			return err
		}
		caps := dev.Caps{
			AtomicF32:   true,
			AtomicF64:   true,
			SharedBytes: 48 * 1024,
			MaxGroups:   64,
		}
		device := sim.New(caps)
		device.Bind(demo.Loop, demo.Fn)
		exec, err := driver.New(device, dev.CUDA, plan.Default)
		if err != nil {
			return err
		}
		if err := exec.Run(demo.Loop); err != nil {
			return err
		}
		if sch, err := exec.Schedule(demo.Loop); err == nil && sch != nil {
			for _, w := range sch.Warnings() {
				if _, err := os.Stderr.WriteString(w + newline); err != nil {
					return err
				}
			}
		}
		_, err = os.Stdout.WriteString(demo.Report())
		return err
	}
	list := strings.Join(example.Names(), newline+indent)
	return errors.New(usage +
		os.Args[1] + space + "NAME" + newline +
		newline +
		"The NAME argument can be:" + newline +
		newline +
		indent + list + newline)
}

func cmdVersion() error {
	if len(os.Args) > 2 {
		return errors.New(usage + os.Args[1] + newline)
	}
	_, err := os.Stdout.WriteString(
		strconv.Itoa(version.Int) + newline,
	)
	return err
}

var cmds = [...]struct {
	name string
	hint string
	call func() error
}{
	{"emit", "Write backend source for an example loop to stdout.", cmdEmit},
	{"run", "Execute an example loop in process and report its data.", cmdRun},
	{"version", "Write the version number of this program to stdout.", cmdVersion},
}

func run() error {
	if len(os.Args) >= 2 {
		arg := os.Args[1]
		for i := range &cmds {
			if cmds[i].name == arg {
				return cmds[i].call()
			}
		}
	}
	max := 0
	for i := range &cmds {
		if alt := len(cmds[i].name); max < alt {
			max = alt
		}
	}
	tot := max + len(indent)
	var list string
	for i := range &cmds {
		name, hint := cmds[i].name, cmds[i].hint
		align := strings.Repeat(space, tot-len(name))
		list += indent + name + align + hint + newline
	}
	return errors.New(usage +
		"COMMAND" + newline +
		newline +
		"The COMMAND argument can be:" + newline +
		newline +
		list)
}

func main() {
	if err := run(); err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + newline)
		os.Exit(1)
	}
	os.Exit(0)
}

var _ uint = 1 << 63
