package internal

import (
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

type blueprint struct {
	Services []blueprintService `yaml:"services"`
}

type blueprintService struct {
	Type         string         `yaml:"type"`
	Name         string         `yaml:"name"`
	Runtime      string         `yaml:"runtime"`
	BuildCommand string         `yaml:"buildCommand"`
	StartCommand string         `yaml:"startCommand"`
	HealthCheck  string         `yaml:"healthCheckPath,omitempty"`
	EnvVars      []blueprintEnv `yaml:"envVars"`
}

type blueprintEnv struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

// RenderBlueprint produces the render.yaml of a paas deployment
func RenderBlueprint(d Deployment) ([]byte, error) {
	if d.PaaS.Platform != "render" {
		return nil, fmt.Errorf("no blueprint format for platform %q", d.PaaS.Platform)
	}

	env := []blueprintEnv{
		{Key: "PORT", Value: strconv.Itoa(int(d.Port))},
		{Key: "PYTHON_VERSION", Value: d.PaaS.PythonVersion},
	}
	if d.Project.PlaywrightBrowsersPath != "" {
		env = append(env, blueprintEnv{Key: "PLAYWRIGHT_BROWSERS_PATH", Value: d.Project.PlaywrightBrowsersPath})
	}
	for _, key := range sortedKeys(d.Project.Env) {
		env = append(env, blueprintEnv{Key: key, Value: d.Project.Env[key]})
	}

	b := blueprint{
		Services: []blueprintService{{
			Type:         "web",
			Name:         d.Name,
			Runtime:      "python",
			BuildCommand: d.PaaS.BuildCommand,
			StartCommand: d.PaaS.StartCommand,
			HealthCheck:  d.Verify.Path,
			EnvVars:      env,
		}},
	}

	out, err := yaml.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("could not marshal blueprint: %w", err)
	}

	return out, nil
}
