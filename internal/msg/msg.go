package msg

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

// Verbose enables Debug output.
var Verbose bool

func emit(w io.Writer, label, format string, a ...any) {
	fmt.Fprint(w, label)
	fmt.Fprint(w, ": ")
	fmt.Fprintf(w, format, a...)
	fmt.Fprint(w, "\n")
}

func Error(format string, a ...any) {
	emit(color.Error, color.HiRedString("error"), format, a...)
}

func Warn(format string, a ...any) {
	emit(color.Error, color.YellowString("warn"), format, a...)
}

func Fatal(format string, a ...any) {
	emit(color.Error, color.RedString("fatal"), format, a...)
	os.Exit(1)
}

func Info(format string, a ...any) {
	emit(color.Output, color.HiGreenString("info"), format, a...)
}

// Debug prints only when Verbose is set.
func Debug(format string, a ...any) {
	if !Verbose {
		return
	}
	emit(color.Output, color.CyanString("debug"), format, a...)
}

type IndentWriter struct {
	Indent    string
	W         io.Writer
	didIndent bool
}

func (w *IndentWriter) Write(p []byte) (n int, err error) {
	buf := make([]byte, 0, len(p)+len(w.Indent))
	for _, c := range p {
		if !w.didIndent {
			buf = append(buf, w.Indent...)
			w.didIndent = true
		}
		buf = append(buf, c)
		if c == '\n' || c == '\r' {
			w.didIndent = false
		}
	}
	if _, err := w.W.Write(buf); err != nil {
		return 0, err
	}
	return len(p), nil
}
