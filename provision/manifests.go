package provision

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kaif367/growupquotexapi/internal"
)

// Manifests writes the files a PaaS builds the project from
type Manifests struct {
	base
	stale map[string][]byte
}

func (s *Manifests) Name() string { return "manifests" }

func (s *Manifests) dir() string {
	if s.d.Project.Dir == "" {
		return "."
	}
	return s.d.Project.Dir
}

// Render returns the manifests keyed by file name
func (s *Manifests) Render() (map[string][]byte, error) {
	config := s.env.config(s.d)

	procfile, err := s.env.render("procfile", config)
	if err != nil {
		return nil, err
	}

	runtime, err := s.env.render("runtime", config)
	if err != nil {
		return nil, err
	}

	blueprint, err := internal.RenderBlueprint(s.d)
	if err != nil {
		return nil, err
	}

	return map[string][]byte{
		"Procfile":    procfile,
		"runtime.txt": runtime,
		"render.yaml": blueprint,
	}, nil
}

func (s *Manifests) path(name string) string {
	d := s.d
	d.Project.Dir = s.dir()
	return internal.ProjectPath(d, s.env.goos(), name)
}

func (s *Manifests) Check(ctx context.Context) (Drift, error) {
	files, err := s.Render()
	if err != nil {
		return Drift{}, err
	}

	s.stale = map[string][]byte{}
	for name, content := range files {
		differs, err := fileDiffers(s.env.Fs, s.path(name), content)
		if err != nil {
			return Drift{}, err
		}
		if differs {
			s.stale[name] = content
		}
	}

	if len(s.stale) > 0 {
		names := make([]string, 0, len(s.stale))
		for name := range s.stale {
			names = append(names, name)
		}
		sort.Strings(names)
		return drifted("%s out of date", strings.Join(names, ", ")), nil
	}
	return inSync(fmt.Sprintf("%d manifests up to date", len(files))), nil
}

func (s *Manifests) Apply(ctx context.Context) (string, error) {
	for name, content := range s.stale {
		if err := writeFile(s.env.Fs, s.path(name), content, 0o644); err != nil {
			return "", err
		}
		if err := s.env.Ledger.RecordArtifact(ctx, s.d.Name, ArtifactManifest, s.path(name), digest(content)); err != nil {
			return "", err
		}
	}
	return "", nil
}
