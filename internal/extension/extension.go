// Package extension builds and loads kernel modules from generated sources.
//
// A Builder hashes the generated sources, consults the artifact cache, runs
// the backend's build step on a miss (an optional external build command
// and the backend's own artifact generator), stores the artifacts, and
// finally opens the module through the backend:
//
//	b := &extension.Builder{Backend: "cpu", Cache: c}
//	m, err := b.Load(ctx, "soft-rasterizer2d", []string{cppPath, cudaPath})
package extension

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/born-ml/diffrast/internal/cache"
	"github.com/born-ml/diffrast/internal/kernel"
	"github.com/born-ml/diffrast/internal/logging"
	"github.com/born-ml/diffrast/internal/toolchain"
)

// Common errors.
var (
	ErrUnknownBackend = errors.New("extension: unknown backend")
	ErrNoSources      = errors.New("extension: no sources")
	ErrInvalidName    = errors.New("extension: invalid module name")
)

// BuildError reports a failed external build command.
type BuildError struct {
	Module   string
	Command  []string
	ExitCode int
	Output   string // Combined stdout and stderr
}

// Error implements the error interface.
func (e *BuildError) Error() string {
	msg := fmt.Sprintf("extension: build of %s failed (%s) with exit code %d",
		e.Module, strings.Join(e.Command, " "), e.ExitCode)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + out
	}
	return msg
}

// BuildInfo is handed to a backend when artifacts are generated and when
// the module is opened.
type BuildInfo struct {
	Name    string    // Module name
	Sources []string  // Generated sources
	Key     cache.Key // Content key of name and sources
	Dir     string    // Directory holding the artifacts ("" without a cache)
	Env     []string  // Environment used for the build
}

// Builder builds and loads modules for one backend.
type Builder struct {
	// Backend names the registered backend. Defaults to "cpu".
	Backend string

	// Registry to resolve Backend in. Defaults to the package registry.
	Registry *Registry

	// Cache stores artifacts across runs. Optional.
	Cache *cache.Cache

	// Toolchain is appended to PATH in the build environment.
	Toolchain toolchain.Toolchain

	// BaseEnv is the environment the build starts from. Defaults to
	// os.Environ(). It is copied, never modified.
	BaseEnv []string

	// Command is an optional external build step. It runs in a scratch
	// directory with the source paths appended as arguments; every regular
	// file it leaves there becomes an artifact.
	Command []string
}

// BuildEnv returns the environment for build subprocesses:
// BaseEnv (or os.Environ) plus KMP_DUPLICATE_LIB_OK=TRUE, with the toolchain
// directory appended to PATH.
func (b *Builder) BuildEnv() []string {
	base := b.BaseEnv
	if base == nil {
		base = os.Environ()
	}
	env := make([]string, 0, len(base)+1)
	for _, kv := range base {
		if strings.HasPrefix(kv, "KMP_DUPLICATE_LIB_OK=") {
			continue
		}
		env = append(env, kv)
	}
	env = append(env, "KMP_DUPLICATE_LIB_OK=TRUE")
	return b.Toolchain.Env(env)
}

// Load builds (or fetches from cache) and opens the module name built from
// sources.
func (b *Builder) Load(ctx context.Context, name string, sources []string) (kernel.Module, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: module %s", ErrNoSources, name)
	}

	backendName := b.Backend
	if backendName == "" {
		backendName = "cpu"
	}
	reg := b.Registry
	if reg == nil {
		reg = defaultRegistry
	}
	backend, err := reg.Lookup(backendName)
	if err != nil {
		return nil, err
	}

	key, err := cache.KeyFor(backendName+"/"+name, sources...)
	if err != nil {
		return nil, fmt.Errorf("extension: %s: %w", name, err)
	}

	info := BuildInfo{
		Name:    name,
		Sources: append([]string(nil), sources...),
		Key:     key,
		Env:     b.BuildEnv(),
	}

	if b.Cache != nil {
		if _, err := b.Cache.Lookup(key); err == nil {
			info.Dir = b.Cache.EntryDir(key)
			return b.open(ctx, backend, info)
		} else if !errors.Is(err, cache.ErrMiss) {
			logging.Logger().Warn("extension: ignoring unreadable cache entry", "module", name, "err", err)
		}
	}

	artifacts, err := b.build(ctx, backend, info)
	if err != nil {
		return nil, err
	}

	if b.Cache != nil {
		entry, err := b.Cache.Store(cache.Entry{
			Key:     key,
			Module:  name,
			Backend: backendName,
			Sources: info.Sources,
		}, artifacts)
		if err != nil {
			return nil, fmt.Errorf("extension: %s: %w", name, err)
		}
		info.Dir = b.Cache.EntryDir(entry.Key)
	}

	return b.open(ctx, backend, info)
}

// build runs the external command and the backend generator.
func (b *Builder) build(ctx context.Context, backend Backend, info BuildInfo) (map[string][]byte, error) {
	artifacts := make(map[string][]byte)

	if len(b.Command) > 0 {
		out, err := b.runCommand(ctx, info)
		if err != nil {
			return nil, err
		}
		for k, v := range out {
			artifacts[k] = v
		}
	}

	if backend.Generate != nil {
		gen, err := backend.Generate(ctx, info)
		if err != nil {
			return nil, fmt.Errorf("extension: %s: generate artifacts: %w", info.Name, err)
		}
		for k, v := range gen {
			artifacts[k] = v
		}
	}

	logging.Logger().Info("extension: built module", "module", info.Name, "key", info.Key.Short(), "artifacts", len(artifacts))
	return artifacts, nil
}

// runCommand runs the external build step in a scratch directory and
// collects the files it produced.
func (b *Builder) runCommand(ctx context.Context, info BuildInfo) (map[string][]byte, error) {
	work, err := os.MkdirTemp("", "diffrast-build-*")
	if err != nil {
		return nil, fmt.Errorf("extension: %s: %w", info.Name, err)
	}
	defer func() { _ = os.RemoveAll(work) }()

	sources := make([]string, len(info.Sources))
	for i, src := range info.Sources {
		abs, err := filepath.Abs(src)
		if err != nil {
			return nil, fmt.Errorf("extension: %s: %w", info.Name, err)
		}
		sources[i] = abs
	}

	argv := append(append([]string(nil), b.Command...), sources...)
	logging.Logger().Debug("extension: running build command", "module", info.Name, "argv", argv)

	//nolint:gosec // G204: build command is configuration supplied by the caller
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = work
	cmd.Env = info.Env
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &BuildError{
				Module:   info.Name,
				Command:  argv,
				ExitCode: exitErr.ExitCode(),
				Output:   output.String(),
			}
		}
		return nil, fmt.Errorf("extension: %s: run build command: %w", info.Name, err)
	}

	entries, err := os.ReadDir(work)
	if err != nil {
		return nil, fmt.Errorf("extension: %s: %w", info.Name, err)
	}
	artifacts := make(map[string][]byte, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(work, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("extension: %s: %w", info.Name, err)
		}
		artifacts[e.Name()] = data
	}
	return artifacts, nil
}

func (b *Builder) open(ctx context.Context, backend Backend, info BuildInfo) (kernel.Module, error) {
	m, err := backend.Open(ctx, info)
	if err != nil {
		return nil, fmt.Errorf("extension: open %s: %w", info.Name, err)
	}
	logging.Logger().Info("extension: loaded module", "module", m.Name(), "backend", backend.Name)
	return m, nil
}
