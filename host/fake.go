package host

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// FakeResult is the scripted answer for commands starting with a prefix
type FakeResult struct {
	Output string
	Err    error
}

// FakeCommander records every command and answers from a script.
// The longest matching prefix of "name arg1 arg2..." wins.
// Unscripted commands succeed with no output.
type FakeCommander struct {
	mu      sync.Mutex
	script  map[string]FakeResult
	history []Cmd
}

func NewFakeCommander() *FakeCommander {
	return &FakeCommander{script: map[string]FakeResult{}}
}

func (f *FakeCommander) On(prefix string, output string, err error) *FakeCommander {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.script[prefix] = FakeResult{Output: output, Err: err}
	return f
}

func (f *FakeCommander) Run(ctx context.Context, c Cmd) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.history = append(f.history, c)

	line := c.String()
	best := -1
	var result FakeResult
	for prefix, r := range f.script {
		if strings.HasPrefix(line, prefix) && len(prefix) > best {
			best = len(prefix)
			result = r
		}
	}

	if result.Err != nil {
		return []byte(result.Output), fmt.Errorf("%s: %w", line, result.Err)
	}
	return []byte(result.Output), nil
}

// History returns every command line run so far
func (f *FakeCommander) History() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	lines := make([]string, len(f.history))
	for i, c := range f.history {
		lines[i] = c.String()
	}
	return lines
}

// Commands returns the recorded invocations, env and dir included
func (f *FakeCommander) Commands() []Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]Cmd{}, f.history...)
}

// Ran reports whether any command line starts with prefix
func (f *FakeCommander) Ran(prefix string) bool {
	for _, line := range f.History() {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

func (f *FakeCommander) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.history = nil
}
