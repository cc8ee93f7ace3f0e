// Package profile defines the language catalogue used by the sandbox.
package profile

import (
	"fmt"
	"path"
	"strings"

	"judgerunner/internal/judge/sandbox/spec"
	"judgerunner/internal/judge/stopwatch"

	"github.com/google/shlex"
)

// SandboxDir is the working directory inside every sandbox.
const SandboxDir = "/sandbox"

// LanguageSpec defines how to install, compile and run a language.
type LanguageSpec struct {
	// ID is the toolchain plugin name and the lookup key.
	ID            string           `yaml:"id" json:"id"`
	Name          string           `yaml:"name" json:"name"`
	PluginURL     string           `yaml:"pluginUrl" json:"-"`
	LatestVersion string           `yaml:"latestVersion" json:"latest_version"`
	SourceFile    string           `yaml:"sourceFile" json:"source_file"`
	CompileCmdTpl string           `yaml:"compileCmd" json:"-"`
	RunCmdTpl     string           `yaml:"runCmd" json:"-"`
	Env           []string         `yaml:"env" json:"-"`
	ExtraMounts   []spec.MountSpec `yaml:"extraMounts" json:"-"`
	ExtraTime     stopwatch.Timers `yaml:"extraTime" json:"extra_time"`
}

// CompileEnabled reports whether the language has a separate compile step.
func (l LanguageSpec) CompileEnabled() bool {
	return strings.TrimSpace(l.CompileCmdTpl) != ""
}

// ResolveVersion returns version, or the latest one when empty.
func (l LanguageSpec) ResolveVersion(version string) string {
	if version == "" {
		return l.LatestVersion
	}
	return version
}

// SourcePath is where candidate code lives inside the sandbox.
func (l LanguageSpec) SourcePath() string {
	return path.Join(SandboxDir, l.SourceFile)
}

// CompileCmd renders the compile command for a toolchain directory.
func (l LanguageSpec) CompileCmd(toolchain string) ([]string, error) {
	if !l.CompileEnabled() {
		return nil, nil
	}
	return l.render(l.CompileCmdTpl, toolchain)
}

// RunCmd renders the run command for a toolchain directory.
func (l LanguageSpec) RunCmd(toolchain string) ([]string, error) {
	return l.render(l.RunCmdTpl, toolchain)
}

// RenderEnv expands placeholders in the language environment.
func (l LanguageSpec) RenderEnv(toolchain string) []string {
	r := l.replacer(toolchain)
	env := make([]string, 0, len(l.Env))
	for _, kv := range l.Env {
		env = append(env, r.Replace(kv))
	}
	return env
}

func (l LanguageSpec) render(tpl, toolchain string) ([]string, error) {
	args, err := shlex.Split(l.replacer(toolchain).Replace(tpl))
	if err != nil {
		return nil, fmt.Errorf("parse command template for %s: %w", l.ID, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("empty command template for %s", l.ID)
	}
	return args, nil
}

func (l LanguageSpec) replacer(toolchain string) *strings.Replacer {
	return strings.NewReplacer(
		"{source}", l.SourcePath(),
		"{dir}", SandboxDir,
		"{toolchain}", toolchain,
	)
}
