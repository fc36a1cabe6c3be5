package workers

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/kaif367/growupquotexapi/internal"
	"github.com/kaif367/growupquotexapi/store"
	"github.com/spf13/afero"
	"github.com/stephenafamo/janus/monitor"
	"github.com/stephenafamo/kronika"
)

// DirectoryWatcher keeps the ledger in sync with the deployment files
type DirectoryWatcher struct {
	Store    *store.Store
	Fs       afero.Fs
	Monitor  monitor.Monitor
	Settings internal.Settings
}

func (d DirectoryWatcher) Play(ctx context.Context) error {
	for range kronika.Every(ctx, time.Now(), d.Settings.CONFIG_RELOAD_TIME) {
		err := d.WalkDeploymentDirectory(context.Background()) // use new context
		if err != nil {
			err = fmt.Errorf("error walking deployment dir: %w", err)
			d.Monitor.CaptureException(err, nil)
		}
	}

	return nil
}

func (d DirectoryWatcher) WalkDeploymentDirectory(ctx context.Context) error {
	var paths []string

	err := afero.Walk(d.Fs, d.Settings.DEPLOY_DIR, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || filepath.Ext(path) != ".toml" {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return fmt.Errorf("error while walking deployment directory: %w", err)
	}

	// Sorted so a name declared twice always resolves to the same file
	sort.Strings(paths)

	type found struct {
		path       string
		deployment internal.Deployment
	}

	latest := map[string]found{}
	complete := true

	for _, path := range paths {
		deployments, err := d.readFile(path)
		if err != nil {
			// Keep what the broken file declared until it is fixed
			complete = false
			d.Monitor.CaptureException(err, map[string]string{"file": path})
			continue
		}

		for name, deployment := range deployments {
			if other, ok := latest[name]; ok {
				log.Printf("DUPLICATE: %s declared in %s and %s, using the latter\n", name, other.path, path)
			}
			latest[name] = found{path: path, deployment: deployment}
		}
	}

	names := make([]string, 0, len(latest))
	for name := range latest {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		f := latest[name]

		if err := f.deployment.WithDefaults(runtime.GOOS).Validate(); err != nil {
			complete = false
			d.Monitor.CaptureException(err, map[string]string{"file": f.path, "deployment": name})
			continue
		}

		changed, err := d.Store.UpsertDeployment(ctx, f.path, f.deployment)
		if err != nil {
			return fmt.Errorf("error saving deployment %q: %w", name, err)
		}
		if changed {
			log.Printf("UPDATED: %s from %s\n", name, f.path)
		}
	}

	if !complete {
		return nil
	}

	deleted, err := d.Store.DeleteDeploymentsNotIn(ctx, d.Settings.DEPLOY_DIR, names)
	if err != nil {
		return fmt.Errorf("error deleting removed deployments: %w", err)
	}
	if deleted > 0 {
		log.Printf("REMOVED: %d deployments from %s\n", deleted, d.Settings.DEPLOY_DIR)
	}

	return nil
}

func (d DirectoryWatcher) readFile(path string) (internal.DeploymentMap, error) {
	content, err := afero.ReadFile(d.Fs, path)
	if err != nil {
		return nil, fmt.Errorf("could not read %q: %w", path, err)
	}

	deployments, err := internal.Decode(content)
	if err != nil {
		return nil, fmt.Errorf("could not decode %q: %w", path, err)
	}

	return deployments, nil
}
