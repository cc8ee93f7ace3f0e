// Package toolchain installs language toolchains through an asdf-style
// version manager, at most once per plugin and version.
package toolchain

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"judgerunner/internal/common/cache"
	"judgerunner/internal/common/flight"
	"judgerunner/internal/judge/metrics"
	"judgerunner/internal/judge/sandbox/process"
	"judgerunner/internal/judge/sandbox/profile"
	appErr "judgerunner/pkg/errors"
	"judgerunner/pkg/utils/logger"

	"github.com/google/shlex"
	"go.uber.org/zap"
)

const (
	lockKeyPrefix   = "judgerunner:toolchain:lock:"
	lockPollEvery   = 200 * time.Millisecond
	installerOutput = 64 * 1024
)

// Config controls how toolchains are installed.
type Config struct {
	InstallerPath string `yaml:"installerPath"`
	// Dir is the version manager's data directory. Installs land in
	// <Dir>/installs/<plugin>/<version>.
	Dir          string `yaml:"dir"`
	AddPluginCmd string `yaml:"addPluginCmd"`
	InstallCmd   string `yaml:"installCmd"`
	// RetryFailedInstalls lets the next request retry a failed install
	// instead of failing fast for the life of the process.
	RetryFailedInstalls bool          `yaml:"retryFailedInstalls"`
	Timeout             time.Duration `yaml:"timeout"`
	LockTTL             time.Duration `yaml:"lockTtl"`
	LockWait            time.Duration `yaml:"lockWait"`
}

// DefaultConfig returns the settings for a stock asdf install.
func DefaultConfig() Config {
	return Config{
		InstallerPath:       "asdf",
		Dir:                 "/var/lib/judgerunner/asdf",
		AddPluginCmd:        "plugin add {plugin} {url}",
		InstallCmd:          "install {plugin} {version}",
		RetryFailedInstalls: true,
		Timeout:             10 * time.Minute,
		LockTTL:             15 * time.Minute,
		LockWait:            15 * time.Minute,
	}
}

// Installer resolves a language and version to an installed toolchain dir.
type Installer struct {
	cfg     Config
	lock    cache.LockOps
	policy  flight.FailurePolicy
	plugins *flight.Cache[string, *flight.Cache[string, string]]
}

// NewInstaller creates an installer. lock is optional; with it, several
// runner processes sharing Dir take turns installing.
func NewInstaller(cfg Config, lock cache.LockOps) *Installer {
	def := DefaultConfig()
	if cfg.InstallerPath == "" {
		cfg.InstallerPath = def.InstallerPath
	}
	if cfg.AddPluginCmd == "" {
		cfg.AddPluginCmd = def.AddPluginCmd
	}
	if cfg.InstallCmd == "" {
		cfg.InstallCmd = def.InstallCmd
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = def.LockWait
	}
	policy := flight.CacheFailures
	if cfg.RetryFailedInstalls {
		policy = flight.RetryFailures
	}
	return &Installer{
		cfg:     cfg,
		lock:    lock,
		policy:  policy,
		plugins: flight.New[string, *flight.Cache[string, string]](policy),
	}
}

// ToolchainDir is where plugin@version is installed.
func (i *Installer) ToolchainDir(plugin, version string) string {
	return filepath.Join(i.cfg.Dir, "installs", plugin, version)
}

// Ensure installs lang at version (the latest when empty) unless it is
// already there, and returns the toolchain directory.
func (i *Installer) Ensure(ctx context.Context, lang profile.LanguageSpec, version string) (string, error) {
	version = lang.ResolveVersion(version)
	if version == "" {
		return "", appErr.New(appErr.ToolchainInstallFailed).WithMessagef("no version for %s", lang.ID)
	}
	if strings.ContainsAny(version, "/\\") || strings.HasPrefix(version, ".") {
		return "", appErr.ValidationError("version", "invalid version string")
	}

	versions, err := i.plugins.Get(lang.ID).GetOrTryInit(ctx, func(ctx context.Context) (*flight.Cache[string, string], error) {
		if err := i.addPlugin(ctx, lang); err != nil {
			return nil, err
		}
		return flight.New[string, string](i.policy), nil
	})
	if err != nil {
		return "", err
	}
	return versions.Get(version).GetOrTryInit(ctx, func(ctx context.Context) (string, error) {
		return i.install(ctx, lang.ID, version)
	})
}

func (i *Installer) addPlugin(ctx context.Context, lang profile.LanguageSpec) error {
	pluginDir := filepath.Join(i.cfg.Dir, "plugins", lang.ID)
	added := func() bool { return exists(pluginDir) }
	if added() {
		return nil
	}
	return i.withLock(ctx, lang.ID, added, func(ctx context.Context) error {
		return i.exec(ctx, "add-plugin", lang.ID, i.cfg.AddPluginCmd, map[string]string{
			"{plugin}": lang.ID,
			"{url}":    lang.PluginURL,
		})
	})
}

func (i *Installer) install(ctx context.Context, plugin, version string) (string, error) {
	dir := i.ToolchainDir(plugin, version)
	installed := func() bool { return exists(dir) }
	if installed() {
		return dir, nil
	}
	err := i.withLock(ctx, plugin+":"+version, installed, func(ctx context.Context) error {
		return i.exec(ctx, "install", plugin, i.cfg.InstallCmd, map[string]string{
			"{plugin}":  plugin,
			"{version}": version,
		})
	})
	if err != nil {
		return "", err
	}
	if !installed() {
		return "", appErr.New(appErr.ToolchainInstallFailed).
			WithMessagef("installer reported success but %s is missing", dir)
	}
	return dir, nil
}

// withLock runs fn under the cross-process lock for key. A process that
// finds the lock taken polls until done reports the work finished elsewhere
// or the lock frees up.
func (i *Installer) withLock(ctx context.Context, key string, done func() bool, fn func(ctx context.Context) error) error {
	if i.lock == nil {
		return fn(ctx)
	}
	lockKey := lockKeyPrefix + key
	deadline := time.Now().Add(i.cfg.LockWait)
	for {
		if done() {
			return nil
		}
		locked, err := i.lock.TryLock(ctx, lockKey, i.cfg.LockTTL)
		if err != nil {
			return appErr.Wrapf(err, appErr.LockFailed, "acquire install lock failed")
		}
		if locked {
			defer func() {
				_ = i.lock.Unlock(context.WithoutCancel(ctx), lockKey)
			}()
			if done() {
				return nil
			}
			stop := i.keepLock(ctx, lockKey)
			defer stop()
			return fn(ctx)
		}
		if time.Now().After(deadline) {
			return appErr.New(appErr.Timeout).WithMessage("wait for toolchain install timeout")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockPollEvery):
		}
	}
}

// keepLock extends lockKey every third of its TTL until the returned stop
// func is called, so an install may outlast LockTTL.
func (i *Installer) keepLock(ctx context.Context, lockKey string) (stop func()) {
	hbCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		every := i.cfg.LockTTL / 3
		if every < lockPollEvery/10 {
			every = lockPollEvery / 10
		}
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := i.lock.ExtendLock(hbCtx, lockKey, i.cfg.LockTTL); err != nil && hbCtx.Err() == nil {
					logger.Warn(ctx, "extend install lock failed",
						zap.String("key", lockKey),
						zap.Error(err),
					)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (i *Installer) exec(ctx context.Context, step, plugin, tpl string, vars map[string]string) error {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, k, v)
	}
	args, err := shlex.Split(strings.NewReplacer(pairs...).Replace(tpl))
	if err != nil {
		return appErr.Wrapf(err, appErr.ToolchainInstallFailed, "parse %s command", step)
	}

	start := time.Now()
	logger.Info(ctx, "running toolchain installer",
		zap.String("step", step),
		zap.String("plugin", plugin),
		zap.Strings("args", args),
	)
	err = i.run(ctx, args)
	elapsed := time.Since(start)
	metrics.InstallDuration.WithLabelValues(plugin, step).Observe(elapsed.Seconds())
	if err != nil {
		metrics.InstallsTotal.WithLabelValues(plugin, step, "failed").Inc()
		logger.Error(ctx, "toolchain installer failed",
			zap.String("step", step),
			zap.String("plugin", plugin),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return err
	}
	metrics.InstallsTotal.WithLabelValues(plugin, step, "ok").Inc()
	logger.Info(ctx, "toolchain installer finished",
		zap.String("step", step),
		zap.String("plugin", plugin),
		zap.Duration("elapsed", elapsed),
	)
	return nil
}

func (i *Installer) run(ctx context.Context, args []string) error {
	cmd := process.Command(i.cfg.InstallerPath, args...)
	cmd.Env = append(os.Environ(), "ASDF_DATA_DIR="+i.cfg.Dir)
	cmd.Output(process.Stdout, installerOutput).Output(process.Stderr, installerOutput)

	child, err := cmd.Spawn()
	if err != nil {
		return appErr.Wrapf(err, appErr.ToolchainInstallFailed, "start installer")
	}
	defer child.Close()

	ctx, cancel := context.WithTimeout(ctx, i.cfg.Timeout)
	defer cancel()
	res, err := child.Wait(ctx)
	if err != nil {
		return appErr.Wrapf(err, appErr.ToolchainInstallFailed, "installer did not finish")
	}
	if !res.Status.Success() {
		return appErr.New(appErr.ToolchainInstallFailed).
			WithMessagef("%s %s: %s", filepath.Base(i.cfg.InstallerPath), strings.Join(args, " "), res.Status).
			WithDetail("stderr", res.Output(process.Stderr))
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
