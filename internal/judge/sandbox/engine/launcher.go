package engine

import (
	"fmt"
	"strconv"
	"strings"

	"judgerunner/internal/judge/sandbox/process"
	"judgerunner/internal/judge/sandbox/profile"
	"judgerunner/internal/judge/sandbox/spec"
)

// Launcher descriptors. Everything at or above argsFd belongs to the
// launcher protocol.
const (
	argsFd      = 10
	firstFileFd = 11
)

// command builds the launcher invocation for runSpec. Mount and environment
// options travel NUL-separated on argsFd; each file gets its own descriptor.
func (e *engine) command(runSpec spec.RunSpec) (*process.Cmd, error) {
	if len(runSpec.Cmd) == 0 {
		return nil, fmt.Errorf("command is required")
	}
	argv := []string{"--args", strconv.Itoa(argsFd)}
	files := make(map[int][]byte, len(runSpec.Files))
	for i, f := range runSpec.Files {
		if !strings.HasPrefix(f.Path, "/") {
			return nil, fmt.Errorf("file path %q must be absolute", f.Path)
		}
		fd := firstFileFd + i
		argv = append(argv, "--file", strconv.Itoa(fd), f.Path)
		files[fd] = f.Data
	}
	argv = append(argv, "--")
	argv = append(argv, runSpec.Cmd...)

	cmd := process.Command(e.cfg.LauncherPath, argv...)
	cmd.Env = []string{}
	cmd.Input(argsFd, encodeArgs(e.options(runSpec)))
	// Files can outgrow a pipe buffer, so they are streamed while the
	// launcher copies them in.
	for fd, data := range files {
		cmd.Stream(fd, data)
	}
	if runSpec.Stdin != nil {
		cmd.Stream(process.Stdin, runSpec.Stdin)
	}
	return cmd, nil
}

func (e *engine) options(runSpec spec.RunSpec) []string {
	opts := []string{"--unshare-all", "--die-with-parent", "--new-session"}
	for _, m := range e.cfg.SharedMounts {
		opts = appendMount(opts, m)
	}
	if runSpec.Toolchain != "" {
		opts = appendMount(opts, spec.MountSpec{Source: runSpec.Toolchain, ReadOnly: true})
	}
	for _, m := range runSpec.BindMounts {
		opts = appendMount(opts, m)
	}
	opts = append(opts, "--tmpfs", "/tmp", "--proc", "/proc", "--dev", "/dev")
	if runSpec.WorkDir != "" {
		opts = append(opts, "--bind", runSpec.WorkDir, profile.SandboxDir)
	} else {
		opts = append(opts, "--dir", profile.SandboxDir)
	}
	for _, kv := range runSpec.Env {
		key, value, _ := strings.Cut(kv, "=")
		if key == "" {
			continue
		}
		opts = append(opts, "--setenv", key, value)
	}
	return append(opts, "--chdir", profile.SandboxDir)
}

func appendMount(opts []string, m spec.MountSpec) []string {
	target := m.Target
	if target == "" {
		target = m.Source
	}
	flag := "--bind"
	if m.ReadOnly {
		flag = "--ro-bind"
	}
	return append(opts, flag, m.Source, target)
}

func encodeArgs(opts []string) []byte {
	var b strings.Builder
	for _, o := range opts {
		b.WriteString(o)
		b.WriteByte(0)
	}
	return []byte(b.String())
}
