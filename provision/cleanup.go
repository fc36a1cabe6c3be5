package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kaif367/growupquotexapi/host"
	"github.com/kaif367/growupquotexapi/store"
)

// Artifact kinds recorded in the ledger
const (
	ArtifactNginx     = "nginx"
	ArtifactNginxLink = "nginx-link"
	ArtifactSystemd   = "systemd"
	ArtifactTask      = "task"
	ArtifactManifest  = "manifest"
)

// RemoveArtifact undoes a file written for a deployment that no longer exists.
// It reports whether nginx needs a reload.
func RemoveArtifact(ctx context.Context, env *Environment, a *store.Artifact) (bool, error) {
	switch a.Kind {
	case ArtifactSystemd:
		unit := filepath.Base(a.Path)
		// The unit may already be gone
		env.run(ctx, host.Command("systemctl", "disable", "--now", unit))

	case ArtifactTask:
		name := "apideploy-" + strings.TrimSuffix(filepath.Base(a.Path), ".xml")
		env.run(ctx, host.Command("schtasks", "/End", "/TN", name))
		env.run(ctx, host.Command("schtasks", "/Delete", "/TN", name, "/F"))

	case ArtifactManifest:
		// Manifests belong to the project repository and are left alone
		return false, nil
	}

	if err := env.Fs.Remove(a.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("could not remove %s: %w", a.Path, err)
	}

	if a.Kind == ArtifactSystemd {
		if _, err := env.run(ctx, host.Command("systemctl", "daemon-reload")); err != nil {
			return false, err
		}
	}

	return a.Kind == ArtifactNginx || a.Kind == ArtifactNginxLink, nil
}

// ReloadNginx checks the remaining config and reloads it
func ReloadNginx(ctx context.Context, env *Environment) error {
	if _, err := env.run(ctx, host.Command("nginx", "-t")); err != nil {
		return err
	}
	if env.Settings.TESTING {
		return nil
	}
	_, err := env.run(ctx, host.Command("nginx", "-s", "reload"))
	return err
}
