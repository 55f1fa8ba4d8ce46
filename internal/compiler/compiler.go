// Package compiler drives the external slangc shader compiler.
//
// A shader source is compiled twice: once into a host-binding C++ file and
// once into a raw kernel source. Outputs are written next to the input:
//
//	shaders/soft-rasterizer2d.slang
//	shaders/soft-rasterizer2d.cpp       (HostBinding)
//	shaders/soft-rasterizer2d_cuda.cu   (Kernel)
package compiler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/born-ml/diffrast/internal/logging"
)

// Common errors.
var (
	ErrUnsupportedPlatform = errors.New("compiler: unsupported platform")
	ErrUnknownTarget       = errors.New("compiler: unknown target")
)

// Target selects what slangc generates.
type Target int

// Compilation targets, in the order the loader runs them.
const (
	HostBinding Target = iota // C++ host binding (-target torch-binding)
	Kernel                    // Raw kernel source
)

// String returns a human-readable target name.
func (t Target) String() string {
	switch t {
	case HostBinding:
		return "host-binding"
	case Kernel:
		return "kernel"
	default:
		return "unknown"
	}
}

// suffix returns the output file suffix that replaces the source extension.
func (t Target) suffix() (string, error) {
	switch t {
	case HostBinding:
		return ".cpp", nil
	case Kernel:
		return "_cuda.cu", nil
	default:
		return "", fmt.Errorf("%w: %d", ErrUnknownTarget, int(t))
	}
}

// Args returns the slangc arguments compiling src into out.
func (t Target) Args(src, out string) []string {
	args := []string{src, "-o", out}
	if t == HostBinding {
		args = append(args, "-target", "torch-binding")
	}
	return args
}

// OutputPath returns the path slangc writes for src and target: the source
// path with its extension replaced by the target suffix.
func OutputPath(src string, t Target) (string, error) {
	suffix, err := t.suffix()
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(src, filepath.Ext(src)) + suffix, nil
}

// PlatformDir returns the directory name holding the compiler build for goos.
func PlatformDir(goos string) (string, error) {
	switch goos {
	case "windows":
		return "win32", nil
	case "darwin":
		return "darwin", nil
	case "linux":
		return "linux", nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedPlatform, goos)
	}
}

// BinaryPath returns the location of slangc under root for goos:
// <root>/bin/<platform>/slangc[.exe].
func BinaryPath(root, goos string) (string, error) {
	dir, err := PlatformDir(goos)
	if err != nil {
		return "", err
	}
	name := "slangc"
	if goos == "windows" {
		name += ".exe"
	}
	return filepath.Join(root, "bin", dir, name), nil
}

// CompileError reports a non-zero compiler exit.
type CompileError struct {
	Source      string // Shader source file
	Target      Target // Target being generated
	ExitCode    int    // Compiler exit code
	Diagnostics string // Captured stderr
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	msg := fmt.Sprintf("compilation of %s (%s) failed with error %d", e.Source, e.Target, e.ExitCode)
	if d := strings.TrimSpace(e.Diagnostics); d != "" {
		msg += ": " + d
	}
	return msg
}

// Compiler runs a slangc executable.
type Compiler struct {
	Path string   // slangc executable
	Env  []string // Environment for the subprocess; nil inherits the process environment
}

// New returns a compiler for the slangc build shipped under root for the
// current platform.
func New(root string) (*Compiler, error) {
	path, err := BinaryPath(root, runtime.GOOS)
	if err != nil {
		return nil, err
	}
	return &Compiler{Path: path}, nil
}

// Compile generates the target output for src and returns its path.
//
// Compiler stderr is logged as a warning whenever it is non-empty, even on
// success. A non-zero exit returns *CompileError. Failures to start the
// executable are returned wrapped.
func (c *Compiler) Compile(ctx context.Context, src string, t Target) (string, error) {
	out, err := OutputPath(src, t)
	if err != nil {
		return "", err
	}
	args := t.Args(src, out)

	logging.Logger().Debug("compiler: running slangc", "path", c.Path, "args", args)

	//nolint:gosec // G204: compiler path and shader path are supplied by the caller
	cmd := exec.CommandContext(ctx, c.Path, args...)
	cmd.Env = c.Env
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	diagnostics := stderr.String()
	if strings.TrimSpace(diagnostics) != "" {
		logging.Logger().Warn("compiler: slangc diagnostics",
			"source", src, "target", t.String(), "stderr", strings.TrimSpace(diagnostics))
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) && exitErr.ExitCode() > 0 {
			return "", &CompileError{
				Source:      src,
				Target:      t,
				ExitCode:    exitErr.ExitCode(),
				Diagnostics: diagnostics,
			}
		}
		return "", fmt.Errorf("compiler: run %s: %w", c.Path, runErr)
	}

	return out, nil
}
