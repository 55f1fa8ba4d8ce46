package toolchain_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/born-ml/diffrast/internal/toolchain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeMSVC creates install/VC/Tools/MSVC/<version>/bin/HostX64/x64 with the
// given modification time and returns its path.
func makeMSVC(t *testing.T, install, version string, mtime time.Time) string {
	t.Helper()
	dir := filepath.Join(install, "VC", "Tools", "MSVC", version, "bin", "HostX64", "x64")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.Chtimes(dir, mtime, mtime))
	return dir
}

func TestFindHostCompiler_PicksNewest(t *testing.T) {
	install := t.TempDir()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	makeMSVC(t, install, "14.29.30133", base)
	newest := makeMSVC(t, install, "14.38.33130", base.Add(48*time.Hour))
	makeMSVC(t, install, "14.36.32532", base.Add(24*time.Hour))

	got, err := toolchain.FindHostCompiler(install)
	require.NoError(t, err)
	assert.Equal(t, newest, got)
}

func TestFindHostCompiler_CaseInsensitive(t *testing.T) {
	install := t.TempDir()
	dir := filepath.Join(install, "Community", "vc", "tools", "msvc", "14.40", "bin", "Hostx64", "X64")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	got, err := toolchain.FindHostCompiler(install)
	require.NoError(t, err)
	assert.Equal(t, dir, got)
}

func TestFindHostCompiler_NotFound(t *testing.T) {
	install := t.TempDir()
	// HostX86 only, and an x64 directory outside an MSVC tree.
	require.NoError(t, os.MkdirAll(filepath.Join(install, "VC", "Tools", "MSVC", "14.38", "bin", "HostX86", "x86"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(install, "Other", "bin", "HostX64", "x64"), 0o755))

	_, err := toolchain.FindHostCompiler(install)
	require.ErrorIs(t, err, toolchain.ErrNotFound)

	_, err = toolchain.FindHostCompiler(filepath.Join(install, "does-not-exist"))
	require.ErrorIs(t, err, toolchain.ErrNotFound)
}

func TestResolve_NonWindowsIsZero(t *testing.T) {
	tc, err := toolchain.Locator{GOOS: "linux", VSWhere: "/nonexistent"}.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, toolchain.Toolchain{}, tc)
}

func fakeVSWhere(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake vswhere is a shell script")
	}
	path := filepath.Join(t.TempDir(), "vswhere")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestResolve_Windows(t *testing.T) {
	install := t.TempDir()
	dir := makeMSVC(t, install, "14.38.33130", time.Now())

	loc := toolchain.Locator{
		GOOS:    "windows",
		VSWhere: fakeVSWhere(t, `echo "`+install+`"`),
	}
	tc, err := loc.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dir, tc.BinDir)
}

func TestResolve_WindowsFailures(t *testing.T) {
	tests := map[string]string{
		"vswhere fails":     `echo "broken" >&2; exit 1`,
		"no installation":   `echo ""`,
		"install has no cl": `echo "` + t.TempDir() + `"`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			loc := toolchain.Locator{GOOS: "windows", VSWhere: fakeVSWhere(t, body)}
			_, err := loc.Resolve(context.Background())
			require.ErrorIs(t, err, toolchain.ErrNotFound)
		})
	}

	_, err := toolchain.Locator{GOOS: "windows", VSWhere: filepath.Join(t.TempDir(), "missing")}.Resolve(context.Background())
	require.ErrorIs(t, err, toolchain.ErrNotFound)
}

func TestToolchainEnv(t *testing.T) {
	sep := string(os.PathListSeparator)
	base := []string{"HOME=/home/u", "PATH=/usr/bin"}

	env := toolchain.Toolchain{BinDir: "/msvc/x64"}.Env(base)
	assert.Equal(t, []string{"HOME=/home/u", "PATH=/usr/bin" + sep + "/msvc/x64"}, env)
	assert.Equal(t, "PATH=/usr/bin", base[1], "base is not modified")

	// Already present: unchanged.
	present := []string{"PATH=/usr/bin" + sep + "/msvc/x64"}
	assert.Equal(t, present, toolchain.Toolchain{BinDir: "/msvc/x64"}.Env(present))

	// Windows spells it Path.
	assert.Equal(t, []string{"Path=C:\\bin" + sep + "/msvc/x64"},
		toolchain.Toolchain{BinDir: "/msvc/x64"}.Env([]string{"Path=C:\\bin"}))

	// No PATH at all.
	assert.Equal(t, []string{"A=1", "PATH=/msvc/x64"}, toolchain.Toolchain{BinDir: "/msvc/x64"}.Env([]string{"A=1"}))

	// Zero toolchain copies the environment.
	assert.Equal(t, base, toolchain.Toolchain{}.Env(base))
}
