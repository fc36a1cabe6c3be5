package host

import (
	"context"
	"fmt"
	"runtime"

	gohost "github.com/shirou/gopsutil/v3/host"
)

// Facts describes the machine being provisioned
type Facts struct {
	OS              string // linux, windows...
	Platform        string // ubuntu, debian, Microsoft Windows Server 2022...
	PlatformFamily  string // debian, rhel, Server...
	PlatformVersion string
	Hostname        string
}

func Detect(ctx context.Context) (Facts, error) {
	info, err := gohost.InfoWithContext(ctx)
	if err != nil {
		return Facts{OS: runtime.GOOS}, fmt.Errorf("could not read host info: %w", err)
	}

	return Facts{
		OS:              info.OS,
		Platform:        info.Platform,
		PlatformFamily:  info.PlatformFamily,
		PlatformVersion: info.PlatformVersion,
		Hostname:        info.Hostname,
	}, nil
}

func (f Facts) IsWindows() bool {
	return f.OS == "windows"
}

// UsesApt is true for the debian family (debian, ubuntu, raspbian...)
func (f Facts) UsesApt() bool {
	return f.OS == "linux" && f.PlatformFamily == "debian"
}

func (f Facts) String() string {
	if f.Platform == "" {
		return f.OS
	}
	return fmt.Sprintf("%s %s (%s)", f.Platform, f.PlatformVersion, f.OS)
}
