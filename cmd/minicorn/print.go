package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
)

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// stackFrames finds the innermost error carrying a stack trace.
func stackFrames(err error) errors.StackTrace {
	var st errors.StackTrace
	for err != nil {
		if e, ok := err.(stackTracer); ok {
			st = e.StackTrace()
		}
		cause, ok := err.(interface{ Cause() error })
		if !ok {
			break
		}
		err = cause.Cause()
	}
	return st
}

// PrintError prints an error, and a stacktrace if available.
func PrintError(w io.Writer, err error) {
	fmt.Fprintf(w, "%s\n", strings.Repeat("-", 40))
	fmt.Fprintf(w, "Error: %s\n", err)
	st := stackFrames(err)
	if st == nil {
		return
	}
	// full path, file:line and method for each frame
	var frames [][]string
	for _, f := range st {
		fullpath := ""
		fileline := fmt.Sprintf("%s:%d", f, f)
		method := fmt.Sprintf("%n", f)

		tmp := strings.SplitN(fmt.Sprintf("%+s", f), "\n", 3)
		if len(tmp) == 2 {
			pathsplit := strings.Split(tmp[0], "/")
			method = pathsplit[len(pathsplit)-1]
			fullpath = strings.TrimSpace(tmp[1])
		}
		frames = append(frames, []string{fullpath, fileline, method})
		if method == "main.main" {
			break
		}
	}
	widths := make([]int, 3)
	for _, f := range frames {
		for i, s := range f {
			if len(s) > widths[i] {
				widths[i] = len(s)
			}
		}
	}
	for _, f := range frames {
		for i := 0; i < 2; i++ {
			if widths[i] > 0 {
				pad := strings.Repeat(" ", widths[i]-len(f[i]))
				fmt.Fprintf(w, "%s%s | ", f[i], pad)
			}
		}
		fmt.Fprintf(w, "%s()\n", f[2])
	}
}

// stdout returns a writer for status output and whether to color it.
// mode is "auto", "always" or "never".
func stdout(mode string) (io.Writer, bool, error) {
	var color bool
	switch mode {
	case "always":
		color = true
	case "never":
	case "auto", "":
		fd := os.Stdout.Fd()
		color = isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	default:
		return nil, false, errors.Errorf("bad color mode %q", mode)
	}
	if color {
		return colorable.NewColorableStdout(), true, nil
	}
	return os.Stdout, false, nil
}
