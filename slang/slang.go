// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package slang

import (
	"context"
	"log/slog"

	"github.com/born-ml/diffrast/internal/cache"
	"github.com/born-ml/diffrast/internal/compiler"
	"github.com/born-ml/diffrast/internal/extension"
	"github.com/born-ml/diffrast/internal/kernel"
	"github.com/born-ml/diffrast/internal/logging"
	"github.com/born-ml/diffrast/internal/slang"
	"github.com/born-ml/diffrast/internal/toolchain"
)

// Options configures LoadModule.
type Options = slang.Options

// Module is a loaded kernel module.
type Module = kernel.Module

// Compiler runs a slangc executable.
type Compiler = compiler.Compiler

// CompileError reports a non-zero slangc exit with its diagnostics.
type CompileError = compiler.CompileError

// BuildError reports a failed external build command.
type BuildError = extension.BuildError

// Builder builds and loads modules for one backend.
type Builder = extension.Builder

// Locator finds the MSVC host toolchain.
type Locator = toolchain.Locator

// Cache stores build artifacts keyed by source content.
type Cache = cache.Cache

// Errors.
var (
	ErrToolchainNotFound = toolchain.ErrNotFound
	ErrUnknownBackend    = extension.ErrUnknownBackend
	ErrUnsupportedOS     = compiler.ErrUnsupportedPlatform
)

// LoadModule compiles the shader at path and loads it as a module named
// after the file.
func LoadModule(ctx context.Context, path string, opts Options) (Module, error) {
	return slang.LoadModule(ctx, path, opts)
}

// ModuleName returns the module name LoadModule uses for path.
func ModuleName(path string) string {
	return slang.ModuleName(path)
}

// OpenCache opens the build cache at dir, or at the default location under
// the user cache directory when dir is empty.
func OpenCache(dir string) (*Cache, error) {
	if dir == "" {
		var err error
		if dir, err = cache.DefaultDir(); err != nil {
			return nil, err
		}
	}
	return cache.Open(dir)
}

// Backends returns the names of the registered kernel backends.
func Backends() []string {
	return extension.Backends()
}

// SetLogger installs the logger used by every package. nil restores the
// silent default.
func SetLogger(l *slog.Logger) {
	logging.SetLogger(l)
}

// Logger returns the current logger.
func Logger() *slog.Logger {
	return logging.Logger()
}
