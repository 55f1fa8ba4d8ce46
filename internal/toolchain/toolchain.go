// Package toolchain resolves the native host compiler used to build kernel
// extensions.
//
// Only Windows needs resolution: the MSVC cl.exe directory is not on PATH
// by default, so it is located through vswhere and handed to the build step
// as data. Other platforms use whatever compiler is already on PATH.
package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/born-ml/diffrast/internal/logging"
)

// ErrNotFound is returned when no host compiler directory can be located.
var ErrNotFound = errors.New("cl.exe not found in default Visual Studio installation path")

// Toolchain describes a resolved host compiler.
// The zero value means "use the inherited PATH".
type Toolchain struct {
	BinDir string // Directory holding the compiler, appended to PATH for builds
}

// Env returns a copy of base with BinDir appended to PATH unless it is
// already listed. base is not modified.
func (tc Toolchain) Env(base []string) []string {
	env := make([]string, 0, len(base)+1)
	env = append(env, base...)
	if tc.BinDir == "" {
		return env
	}

	for i, kv := range env {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.EqualFold(key, "PATH") {
			continue
		}
		for _, dir := range filepath.SplitList(value) {
			if dir == tc.BinDir {
				return env
			}
		}
		if value == "" {
			env[i] = key + "=" + tc.BinDir
		} else {
			env[i] = key + "=" + value + string(os.PathListSeparator) + tc.BinDir
		}
		return env
	}
	return append(env, "PATH="+tc.BinDir)
}

// Locator finds the MSVC host compiler.
type Locator struct {
	// VSWhere is the vswhere executable. Defaults to
	// %ProgramFiles(x86)%\Microsoft Visual Studio\Installer\vswhere.exe.
	VSWhere string

	// GOOS overrides runtime.GOOS.
	GOOS string
}

// DefaultVSWhere returns the standard vswhere location.
func DefaultVSWhere() string {
	return os.Getenv("ProgramFiles(x86)") + `\Microsoft Visual Studio\Installer\vswhere.exe`
}

// Resolve returns the toolchain for the target platform. On non-Windows
// platforms it returns the zero Toolchain.
func (l Locator) Resolve(ctx context.Context) (Toolchain, error) {
	goos := l.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	if goos != "windows" {
		return Toolchain{}, nil
	}

	vswhere := l.VSWhere
	if vswhere == "" {
		vswhere = DefaultVSWhere()
	}

	installPath, err := l.installationPath(ctx, vswhere)
	if err != nil {
		return Toolchain{}, err
	}
	dir, err := FindHostCompiler(installPath)
	if err != nil {
		return Toolchain{}, err
	}

	logging.Logger().Info("toolchain: using host compiler", "dir", dir)
	return Toolchain{BinDir: dir}, nil
}

// installationPath asks vswhere for the latest Visual Studio installation.
func (l Locator) installationPath(ctx context.Context, vswhere string) (string, error) {
	//nolint:gosec // G204: vswhere path is configuration, arguments are fixed
	cmd := exec.CommandContext(ctx, vswhere, "-latest", "-property", "installationPath")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		// A missing or failing vswhere means no usable installation.
		return "", fmt.Errorf("%w: vswhere: %v: %s", ErrNotFound, err, strings.TrimSpace(stderr.String()))
	}

	path := strings.TrimRight(stdout.String(), "\r\n\t ")
	if path == "" {
		return "", fmt.Errorf("%w: vswhere reported no installation", ErrNotFound)
	}
	return path, nil
}

// FindHostCompiler walks installPath for VC/Tools/MSVC/<version>/bin/HostX64/x64
// directories and returns the most recently modified one. Path components
// are matched case-insensitively.
func FindHostCompiler(installPath string) (string, error) {
	var (
		best     string
		bestTime time.Time
	)

	err := filepath.WalkDir(installPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped.
			if d != nil && d.IsDir() && path != installPath {
				return fs.SkipDir
			}
			return err
		}
		if !d.IsDir() || !isHostCompilerDir(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if best == "" || info.ModTime().After(bestTime) {
			best, bestTime = path, info.ModTime()
		}
		return fs.SkipDir
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if best == "" {
		return "", ErrNotFound
	}
	return best, nil
}

// isHostCompilerDir matches .../VC/Tools/MSVC/<version>/.../bin/HostX64/x64.
func isHostCompilerDir(path string) bool {
	parts := strings.Split(filepath.ToSlash(path), "/")
	n := len(parts)
	if n < 7 {
		return false
	}
	if !strings.EqualFold(parts[n-1], "x64") ||
		!strings.EqualFold(parts[n-2], "HostX64") ||
		!strings.EqualFold(parts[n-3], "bin") {
		return false
	}
	for i := 0; i+3 < n-3; i++ {
		if strings.EqualFold(parts[i], "VC") &&
			strings.EqualFold(parts[i+1], "Tools") &&
			strings.EqualFold(parts[i+2], "MSVC") {
			return true
		}
	}
	return false
}
