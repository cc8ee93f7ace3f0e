package engine

import (
	"time"

	"judgerunner/internal/judge/sandbox/spec"
)

const (
	defaultLauncherPath = "bwrap"
	defaultOutputBytes  = 64 * 1024
	defaultDriverGrace  = 2 * time.Second
)

// Config controls sandbox engine behavior.
type Config struct {
	// LauncherPath is the bubblewrap-compatible launcher.
	LauncherPath string `yaml:"launcherPath"`
	// SharedMounts are system paths every sandbox sees, usually read-only.
	SharedMounts   []spec.MountSpec `yaml:"sharedMounts"`
	StdoutMaxBytes int              `yaml:"stdoutMaxBytes"`
	StderrMaxBytes int              `yaml:"stderrMaxBytes"`
	// DriverGrace is how long a judge driver may take to exit and flush
	// stderr after its stdout closed.
	DriverGrace time.Duration `yaml:"driverGrace"`
}

func (c Config) withDefaults() Config {
	if c.LauncherPath == "" {
		c.LauncherPath = defaultLauncherPath
	}
	if c.StdoutMaxBytes <= 0 {
		c.StdoutMaxBytes = defaultOutputBytes
	}
	if c.StderrMaxBytes <= 0 {
		c.StderrMaxBytes = defaultOutputBytes
	}
	if c.DriverGrace <= 0 {
		c.DriverGrace = defaultDriverGrace
	}
	return c
}

// DefaultSharedMounts are the host paths a typical toolchain needs.
func DefaultSharedMounts() []spec.MountSpec {
	paths := []string{"/usr", "/bin", "/lib", "/lib64", "/etc/alternatives", "/etc/ssl", "/etc/ld.so.cache"}
	mounts := make([]spec.MountSpec, 0, len(paths))
	for _, p := range paths {
		mounts = append(mounts, spec.MountSpec{Source: p, Target: p, ReadOnly: true})
	}
	return mounts
}
