//go:build windows

package main

import (
	"os"

	"golang.org/x/sys/windows"
)

func init() {
	in := windows.Handle(os.Stdin.Fd())

	var mode uint32
	if err := windows.GetConsoleMode(in, &mode); err == nil {
		mode |= windows.ENABLE_EXTENDED_FLAGS
		mode &^= windows.ENABLE_QUICK_EDIT_MODE
		_ = windows.SetConsoleMode(in, mode)
	}

	// ansi escapes for the colorized output
	for _, f := range []*os.File{os.Stdout, os.Stderr} {
		out := windows.Handle(f.Fd())
		if err := windows.GetConsoleMode(out, &mode); err == nil {
			_ = windows.SetConsoleMode(out, mode|windows.ENABLE_VIRTUAL_TERMINAL_PROCESSING)
		}
	}
}
