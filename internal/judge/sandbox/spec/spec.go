// Package spec defines what a single sandboxed launch looks like.
package spec

// ResourceLimit bounds what a launch may hand back.
type ResourceLimit struct {
	StdoutBytes int
	StderrBytes int
}

// MountSpec describes a bind mount inside the sandbox.
type MountSpec struct {
	Source   string `yaml:"source"`
	Target   string `yaml:"target"`
	ReadOnly bool   `yaml:"readOnly"`
}

// FileSpec is a file materialised inside the sandbox before the command runs.
type FileSpec struct {
	Path string
	Data []byte
}

// RunSpec is the unified execution specification for one launch.
type RunSpec struct {
	// Toolchain is the host directory of the installed toolchain. It is
	// mounted read-only at the same path.
	Toolchain string
	// WorkDir, when set, is a host directory bound read-write at the
	// sandbox working directory so several launches can share files.
	WorkDir    string
	Cmd        []string
	Env        []string
	Files      []FileSpec
	BindMounts []MountSpec
	// Stdin is streamed to the command. Nil means /dev/null.
	Stdin  []byte
	Limits ResourceLimit
}
