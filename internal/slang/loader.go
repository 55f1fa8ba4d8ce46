// Package slang compiles a shader source with slangc and loads the result
// as a kernel module.
package slang

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/born-ml/diffrast/internal/cache"
	"github.com/born-ml/diffrast/internal/compiler"
	"github.com/born-ml/diffrast/internal/extension"
	"github.com/born-ml/diffrast/internal/kernel"
	"github.com/born-ml/diffrast/internal/logging"
	"github.com/born-ml/diffrast/internal/toolchain"
)

// Options configures LoadModule.
type Options struct {
	// Root is the slang installation holding bin/<platform>/slangc.
	// Ignored when Compiler is set.
	Root string

	// Compiler overrides the compiler derived from Root.
	Compiler *compiler.Compiler

	// Verbose logs the module path and compiler location before compiling.
	Verbose bool

	// Backend selects the extension backend. Defaults to "cpu".
	Backend string

	// Cache stores build artifacts. Optional.
	Cache *cache.Cache

	// Locator finds the host toolchain on Windows.
	Locator toolchain.Locator

	// Builder is a template for the build step. Backend, Cache and
	// Toolchain are filled in from the options; the template itself is
	// not modified.
	Builder *extension.Builder
}

// Targets lists the slangc targets in the order LoadModule runs them.
var Targets = []compiler.Target{compiler.HostBinding, compiler.Kernel}

// ModuleName returns the module name for a shader source: its file name
// without extension.
func ModuleName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// LoadModule compiles the shader at path to a host binding and a kernel
// source, resolves the host toolchain, and loads the generated sources as a
// kernel module named after the shader.
//
// The first failing step stops the load. Compiler failures are returned as
// *compiler.CompileError, a missing toolchain as toolchain.ErrNotFound.
func LoadModule(ctx context.Context, path string, opts Options) (kernel.Module, error) {
	c := opts.Compiler
	if c == nil {
		var err error
		if c, err = compiler.New(opts.Root); err != nil {
			return nil, fmt.Errorf("slang: %w", err)
		}
	}

	if opts.Verbose {
		logging.Logger().Info("slang: loading module", "path", path, "compiler", c.Path)
	}

	sources := make([]string, 0, len(Targets))
	for _, t := range Targets {
		out, err := c.Compile(ctx, path, t)
		if err != nil {
			return nil, fmt.Errorf("slang: compile %s: %w", path, err)
		}
		sources = append(sources, out)
	}

	tc, err := opts.Locator.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("slang: %w", err)
	}

	b := extension.Builder{}
	if opts.Builder != nil {
		b = *opts.Builder
	}
	if opts.Backend != "" {
		b.Backend = opts.Backend
	}
	if opts.Cache != nil {
		b.Cache = opts.Cache
	}
	b.Toolchain = tc

	name := ModuleName(path)
	m, err := b.Load(ctx, name, sources)
	if err != nil {
		return nil, fmt.Errorf("slang: load %s: %w", name, err)
	}
	return m, nil
}
