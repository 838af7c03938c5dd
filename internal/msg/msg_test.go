package msg

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/fatih/color"
)

func TestIndentWriter(t *testing.T) {
	var buf bytes.Buffer
	w := &IndentWriter{Indent: "    ", W: &buf}

	w.Write([]byte("Cloning into bites\nremote: "))
	w.Write([]byte("done\n"))

	want := "    Cloning into bites\n    remote: done\n"
	if got := buf.String(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestProgressCountsConcurrentSteps(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	p := NewProgress(20, &buf)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Step("CXX", "src/util.cpp")
		}()
	}
	wg.Wait()

	if p.Current() != 20 {
		t.Fatalf("current = %d, want 20", p.Current())
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 20 {
		t.Fatalf("got %d lines, want 20", len(lines))
	}
	if !strings.HasPrefix(lines[19], "[20/20] CXX") {
		t.Fatalf("last line = %q", lines[19])
	}
	if !strings.HasPrefix(lines[0], "[ 1/20]") {
		t.Fatalf("first line = %q", lines[0])
	}
}
