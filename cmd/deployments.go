package cmd

import (
	"fmt"
	"sort"

	"github.com/kaif367/growupquotexapi/internal"
)

// loadDeployments returns the named deployments of file, or all of them
// sorted by name when no name is given
func loadDeployments(file string, names []string) ([]internal.Deployment, error) {
	all, err := internal.LoadFile(file)
	if err != nil {
		return nil, err
	}

	if len(names) == 0 {
		for name := range all {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	deployments := make([]internal.Deployment, 0, len(names))
	for _, name := range names {
		d, ok := all[name]
		if !ok {
			return nil, fmt.Errorf("no deployment named %q in %s", name, file)
		}
		deployments = append(deployments, d)
	}

	if len(deployments) == 0 {
		return nil, fmt.Errorf("%s declares no deployments", file)
	}

	return deployments, nil
}

func loadDeployment(file, name string) (internal.Deployment, error) {
	deployments, err := loadDeployments(file, []string{name})
	if err != nil {
		return internal.Deployment{}, err
	}
	return deployments[0], nil
}
