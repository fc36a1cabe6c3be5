package provision

import (
	"context"
	"fmt"
	"strings"

	"github.com/kaif367/growupquotexapi/host"
	"github.com/kaif367/growupquotexapi/internal"
)

type base struct {
	env *Environment
	d   internal.Deployment
}

func (b base) projectPath(elem string) string {
	return internal.ProjectPath(b.d, b.env.goos(), elem)
}

func (b base) venvPython() string {
	return internal.VenvPython(b.d, b.env.goos())
}

// Packages installs missing apt packages
type Packages struct {
	base
	Names   []string
	missing []string
}

func (s *Packages) Name() string { return "packages" }

func (s *Packages) Check(ctx context.Context) (Drift, error) {
	if !s.env.Facts.UsesApt() {
		return skipped(fmt.Sprintf("no apt on %s", s.env.Facts)), nil
	}

	s.missing = nil
	for _, name := range s.Names {
		out, err := s.env.run(ctx, host.Command("dpkg-query", "-W", "-f=${Status}", name))
		// dpkg-query exits non-zero for unknown packages
		if err != nil || !strings.Contains(out, "install ok installed") {
			s.missing = append(s.missing, name)
		}
	}

	if len(s.missing) > 0 {
		return drifted("missing %s", strings.Join(s.missing, ", ")), nil
	}
	return inSync(fmt.Sprintf("%d packages installed", len(s.Names))), nil
}

func (s *Packages) Apply(ctx context.Context) (string, error) {
	env := "DEBIAN_FRONTEND=noninteractive"

	if _, err := s.env.run(ctx, host.Command("apt-get", "update", "-q").WithEnv(env)); err != nil {
		return "", err
	}

	args := append([]string{"install", "-y", "-q"}, s.missing...)
	if _, err := s.env.run(ctx, host.Command("apt-get", args...).WithEnv(env)); err != nil {
		return "", err
	}

	return "", nil
}

// Interpreter fails the run early when python is not available
type Interpreter struct{ base }

func (s *Interpreter) Name() string { return "interpreter" }

func (s *Interpreter) Check(ctx context.Context) (Drift, error) {
	out, err := s.env.run(ctx, host.Command(s.d.Project.Interpreter, "--version"))
	if err != nil {
		return Drift{}, fmt.Errorf("python not found: install %s and add it to PATH: %w", s.d.Project.Interpreter, err)
	}
	return inSync(strings.TrimSpace(out)), nil
}

func (s *Interpreter) Apply(ctx context.Context) (string, error) {
	return "", nil
}

// Checkout clones the project or fast-forwards it to its upstream branch
type Checkout struct {
	base
	cloned bool
}

func (s *Checkout) Name() string { return "checkout" }

func (s *Checkout) git(ctx context.Context, args ...string) (string, error) {
	out, err := s.env.run(ctx, host.Command("git", append([]string{"-C", s.d.Project.Dir}, args...)...))
	return strings.TrimSpace(out), err
}

func (s *Checkout) Check(ctx context.Context) (Drift, error) {
	if s.d.Project.Repo == "" {
		return skipped("no repository configured"), nil
	}

	cloned, err := exists(s.env.Fs, s.projectPath(".git"))
	if err != nil {
		return Drift{}, err
	}
	s.cloned = cloned

	if !cloned {
		return drifted("%s not cloned into %s", s.d.Project.Repo, s.d.Project.Dir), nil
	}

	if _, err := s.git(ctx, "fetch", "--quiet", "origin", s.d.Project.Branch); err != nil {
		return Drift{}, err
	}

	head, err := s.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return Drift{}, err
	}

	upstream, err := s.git(ctx, "rev-parse", "origin/"+s.d.Project.Branch)
	if err != nil {
		return Drift{}, err
	}

	if head != upstream {
		return drifted("at %.8s, origin/%s is at %.8s", head, s.d.Project.Branch, upstream), nil
	}
	return inSync("at " + short(head)), nil
}

func (s *Checkout) Apply(ctx context.Context) (string, error) {
	if !s.cloned {
		_, err := s.env.run(ctx, host.Command("git", "clone",
			"--branch", s.d.Project.Branch,
			s.d.Project.Repo, s.d.Project.Dir,
		))
		if err != nil {
			return "", err
		}
	} else {
		if _, err := s.git(ctx, "checkout", s.d.Project.Branch); err != nil {
			return "", err
		}
		if _, err := s.git(ctx, "merge", "--ff-only", "origin/"+s.d.Project.Branch); err != nil {
			return "", err
		}
	}

	return s.git(ctx, "rev-parse", "HEAD")
}

func short(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// Virtualenv creates <dir>/venv
type Virtualenv struct{ base }

func (s *Virtualenv) Name() string { return "virtualenv" }

func (s *Virtualenv) Check(ctx context.Context) (Drift, error) {
	ok, err := exists(s.env.Fs, s.venvPython())
	if err != nil {
		return Drift{}, err
	}
	if !ok {
		return drifted("%s missing", s.venvPython()), nil
	}
	return inSync("present"), nil
}

func (s *Virtualenv) Apply(ctx context.Context) (string, error) {
	cmd := host.Command(s.d.Project.Interpreter, "-m", "venv", s.projectPath("venv")).WithDir(s.d.Project.Dir)
	_, err := s.env.run(ctx, cmd)
	return "", err
}

// Requirements reinstalls the requirements whenever the file changes
type Requirements struct {
	base
	digest string
}

func (s *Requirements) Name() string { return "requirements" }

func (s *Requirements) Check(ctx context.Context) (Drift, error) {
	path := s.projectPath(s.d.Project.Requirements)

	content, ok, err := readFile(s.env.Fs, path)
	if err != nil {
		return Drift{}, err
	}
	if !ok {
		return skipped(path + " not found"), nil
	}
	s.digest = digest(content)

	last, err := s.env.Ledger.LastDigest(ctx, s.d.Name, s.Name())
	if err != nil {
		return Drift{}, err
	}

	if last != s.digest {
		return drifted("%s changed", s.d.Project.Requirements), nil
	}
	return inSync("up to date"), nil
}

func (s *Requirements) Apply(ctx context.Context) (string, error) {
	cmd := host.Command(s.venvPython(), "-m", "pip", "install", "-r", s.projectPath(s.d.Project.Requirements)).
		WithDir(s.d.Project.Dir)

	if _, err := s.env.run(ctx, cmd); err != nil {
		return "", fmt.Errorf("could not install requirements: %w", err)
	}
	return s.digest, nil
}

// Playwright downloads chromium once per requirements version
type Playwright struct {
	base
	digest string
}

func (s *Playwright) Name() string { return "playwright" }

func (s *Playwright) Check(ctx context.Context) (Drift, error) {
	if !s.d.Project.Playwright {
		return skipped("playwright disabled"), nil
	}

	requirements, err := s.env.Ledger.LastDigest(ctx, s.d.Name, "requirements")
	if err != nil {
		return Drift{}, err
	}
	s.digest = digest([]byte(requirements + "|" + s.d.Project.PlaywrightBrowsersPath))

	last, err := s.env.Ledger.LastDigest(ctx, s.d.Name, s.Name())
	if err != nil {
		return Drift{}, err
	}

	if last != s.digest {
		return drifted("browsers not installed for the current requirements"), nil
	}
	return inSync("chromium installed"), nil
}

func (s *Playwright) Apply(ctx context.Context) (string, error) {
	args := []string{"-m", "playwright", "install"}
	if !s.env.Facts.IsWindows() {
		args = append(args, "--with-deps")
	}
	args = append(args, "chromium")

	cmd := host.Command(s.venvPython(), args...).WithDir(s.d.Project.Dir)
	if path := s.d.Project.PlaywrightBrowsersPath; path != "" {
		cmd = cmd.WithEnv("PLAYWRIGHT_BROWSERS_PATH=" + path)
	}

	if _, err := s.env.run(ctx, cmd); err != nil {
		return "", fmt.Errorf("could not install playwright browsers: %w", err)
	}
	return s.digest, nil
}
