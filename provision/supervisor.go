package provision

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kaif367/growupquotexapi/host"
	"github.com/kaif367/growupquotexapi/internal"
	"golang.org/x/text/encoding/unicode"
)

// Supervisor keeps the API process running through systemd or Task Scheduler
type Supervisor struct {
	base

	rendered []byte
	stale    bool
}

func (s *Supervisor) Name() string { return "supervisor" }

// The process must pick up new code and dependencies
func (s *Supervisor) TriggeredBy() []string {
	return []string{"checkout", "virtualenv", "requirements", "playwright"}
}

func (s *Supervisor) Check(ctx context.Context) (Drift, error) {
	switch s.d.Supervisor.Kind {
	case internal.SupervisorTaskScheduler:
		return s.checkTask(ctx)
	default:
		return s.checkSystemd(ctx)
	}
}

func (s *Supervisor) Apply(ctx context.Context) (string, error) {
	switch s.d.Supervisor.Kind {
	case internal.SupervisorTaskScheduler:
		return s.applyTask(ctx)
	default:
		return s.applySystemd(ctx)
	}
}

// UnitName is the systemd unit of a deployment
func UnitName(d internal.Deployment) string {
	return d.Name + ".service"
}

func (s *Supervisor) unitPath() string {
	return filepath.Join(s.env.Settings.SYSTEMD_UNIT_DIR, UnitName(s.d))
}

func (s *Supervisor) checkSystemd(ctx context.Context) (Drift, error) {
	rendered, err := s.env.render("systemd", s.env.config(s.d))
	if err != nil {
		return Drift{}, err
	}
	s.rendered = rendered

	s.stale, err = fileDiffers(s.env.Fs, s.unitPath(), rendered)
	if err != nil {
		return Drift{}, err
	}
	if s.stale {
		return drifted("%s differs", s.unitPath()), nil
	}

	unit := UnitName(s.d)
	if _, err := s.env.run(ctx, host.Command("systemctl", "is-enabled", "--quiet", unit)); err != nil {
		return drifted("%s not enabled", unit), nil
	}

	// is-active exits non-zero for anything but "active"
	out, _ := s.env.run(ctx, host.Command("systemctl", "is-active", unit))
	if state := strings.TrimSpace(out); state != "active" {
		return drifted("%s is %s", unit, state), nil
	}

	return inSync(unit + " active"), nil
}

func (s *Supervisor) applySystemd(ctx context.Context) (string, error) {
	unit := UnitName(s.d)

	if s.stale {
		if err := writeFile(s.env.Fs, s.unitPath(), s.rendered, 0o644); err != nil {
			return "", err
		}
		if err := s.env.Ledger.RecordArtifact(ctx, s.d.Name, ArtifactSystemd, s.unitPath(), digest(s.rendered)); err != nil {
			return "", err
		}
	}

	commands := []host.Cmd{
		host.Command("systemctl", "daemon-reload"),
		host.Command("systemctl", "enable", unit),
		host.Command("systemctl", "restart", unit),
	}
	for _, cmd := range commands {
		if _, err := s.env.run(ctx, cmd); err != nil {
			return "", err
		}
	}

	return digest(s.rendered), nil
}

// TaskName is the Task Scheduler task of a deployment
func TaskName(d internal.Deployment) string {
	return "apideploy-" + d.Name
}

func (s *Supervisor) taskPath() string {
	return filepath.Join(s.env.Settings.TASK_XML_DIR, s.d.Name+".xml")
}

// Task Scheduler reads UTF-16 task definitions
func encodeTask(xml []byte) ([]byte, error) {
	encoder := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder()
	encoded, err := encoder.Bytes(xml)
	if err != nil {
		return nil, fmt.Errorf("could not encode task xml: %w", err)
	}
	return encoded, nil
}

func (s *Supervisor) checkTask(ctx context.Context) (Drift, error) {
	xml, err := s.env.render("task", s.env.config(s.d))
	if err != nil {
		return Drift{}, err
	}

	s.rendered, err = encodeTask(xml)
	if err != nil {
		return Drift{}, err
	}

	s.stale, err = fileDiffers(s.env.Fs, s.taskPath(), s.rendered)
	if err != nil {
		return Drift{}, err
	}
	if s.stale {
		return drifted("%s differs", s.taskPath()), nil
	}

	if _, err := s.env.run(ctx, host.Command("schtasks", "/Query", "/TN", TaskName(s.d))); err != nil {
		return drifted("task %s not registered", TaskName(s.d)), nil
	}

	return inSync("task " + TaskName(s.d) + " registered"), nil
}

func (s *Supervisor) applyTask(ctx context.Context) (string, error) {
	name := TaskName(s.d)

	if s.stale {
		if err := writeFile(s.env.Fs, s.taskPath(), s.rendered, 0o644); err != nil {
			return "", err
		}
		if err := s.env.Ledger.RecordArtifact(ctx, s.d.Name, ArtifactTask, s.taskPath(), digest(s.rendered)); err != nil {
			return "", err
		}
	}

	if _, err := s.env.run(ctx, host.Command("schtasks", "/Create", "/TN", name, "/XML", s.taskPath(), "/F")); err != nil {
		return "", err
	}

	// Not running is fine
	s.env.run(ctx, host.Command("schtasks", "/End", "/TN", name))

	if _, err := s.env.run(ctx, host.Command("schtasks", "/Run", "/TN", name)); err != nil {
		return "", err
	}

	return digest(s.rendered), nil
}
