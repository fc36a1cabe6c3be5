package host

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Cmd is one external program invocation
type Cmd struct {
	Name string
	Args []string
	// Extra environment, appended to the current process environment
	Env []string
	Dir string
}

func Command(name string, args ...string) Cmd {
	return Cmd{Name: name, Args: args}
}

func (c Cmd) WithEnv(env ...string) Cmd {
	c.Env = append(append([]string{}, c.Env...), env...)
	return c
}

func (c Cmd) WithDir(dir string) Cmd {
	c.Dir = dir
	return c
}

func (c Cmd) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

type Commander interface {
	Run(ctx context.Context, cmd Cmd) ([]byte, error)
}

// Exec runs commands on this machine
type Exec struct{}

func (Exec) Run(ctx context.Context, c Cmd) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("%s: %w: %s", c, err, strings.TrimSpace(string(output)))
	}

	return output, nil
}
