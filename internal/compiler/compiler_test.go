package compiler_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/born-ml/diffrast/internal/compiler"
	"github.com/born-ml/diffrast/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputPath(t *testing.T) {
	tests := []struct {
		src    string
		target compiler.Target
		want   string
	}{
		{"shaders/soft-rasterizer2d.slang", compiler.HostBinding, "shaders/soft-rasterizer2d.cpp"},
		{"shaders/soft-rasterizer2d.slang", compiler.Kernel, "shaders/soft-rasterizer2d_cuda.cu"},
		{"noext", compiler.Kernel, "noext_cuda.cu"},
		{"a.b/c.slang", compiler.HostBinding, "a.b/c.cpp"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got, err := compiler.OutputPath(tt.src, tt.target)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := compiler.OutputPath("x.slang", compiler.Target(9))
	require.ErrorIs(t, err, compiler.ErrUnknownTarget)
}

func TestTargetArgs(t *testing.T) {
	assert.Equal(t,
		[]string{"a.slang", "-o", "a.cpp", "-target", "torch-binding"},
		compiler.HostBinding.Args("a.slang", "a.cpp"))
	assert.Equal(t,
		[]string{"a.slang", "-o", "a_cuda.cu"},
		compiler.Kernel.Args("a.slang", "a_cuda.cu"))
	assert.Equal(t, "host-binding", compiler.HostBinding.String())
	assert.Equal(t, "kernel", compiler.Kernel.String())
}

func TestBinaryPath(t *testing.T) {
	tests := []struct {
		goos string
		want string
	}{
		{"windows", filepath.Join("root", "bin", "win32", "slangc.exe")},
		{"darwin", filepath.Join("root", "bin", "darwin", "slangc")},
		{"linux", filepath.Join("root", "bin", "linux", "slangc")},
	}
	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			got, err := compiler.BinaryPath("root", tt.goos)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := compiler.BinaryPath("root", "plan9")
	require.ErrorIs(t, err, compiler.ErrUnsupportedPlatform)
}

// fakeSlangc writes a shell script standing in for slangc.
func fakeSlangc(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake compiler is a shell script")
	}
	path := filepath.Join(t.TempDir(), "slangc")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	logging.SetLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { logging.SetLogger(nil) })
	return &buf
}

func TestCompile_WritesOutput(t *testing.T) {
	// $3 is the output path.
	c := &compiler.Compiler{Path: fakeSlangc(t, `echo "// generated from $1" > "$3"`)}
	src := filepath.Join(t.TempDir(), "shader.slang")

	out, err := c.Compile(context.Background(), src, compiler.HostBinding)
	require.NoError(t, err)
	assert.Equal(t, strings.TrimSuffix(src, ".slang")+".cpp", out)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "generated from "+src)
}

func TestCompile_WarningsLoggedOnSuccess(t *testing.T) {
	logs := captureLogs(t)
	c := &compiler.Compiler{Path: fakeSlangc(t, `echo "warning: unused variable" >&2`)}

	_, err := c.Compile(context.Background(), "shader.slang", compiler.Kernel)
	require.NoError(t, err)
	assert.Contains(t, logs.String(), "unused variable")
	assert.Contains(t, logs.String(), "level=WARN")
}

func TestCompile_NonZeroExit(t *testing.T) {
	c := &compiler.Compiler{Path: fakeSlangc(t, `echo "error 30015: undefined identifier" >&2; exit 3`)}

	_, err := c.Compile(context.Background(), "shader.slang", compiler.HostBinding)
	var cerr *compiler.CompileError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, 3, cerr.ExitCode)
	assert.Equal(t, compiler.HostBinding, cerr.Target)
	assert.Contains(t, cerr.Diagnostics, "undefined identifier")
	assert.Contains(t, err.Error(), "failed with error 3")
}

func TestCompile_MissingExecutable(t *testing.T) {
	c := &compiler.Compiler{Path: filepath.Join(t.TempDir(), "missing", "slangc")}

	_, err := c.Compile(context.Background(), "shader.slang", compiler.Kernel)
	require.Error(t, err)
	var cerr *compiler.CompileError
	assert.False(t, errors.As(err, &cerr))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCompile_UsesEnvironment(t *testing.T) {
	c := &compiler.Compiler{
		Path: fakeSlangc(t, `echo "$DIFFRAST_MARKER" > "$3"`),
		Env:  []string{"DIFFRAST_MARKER=from-env"},
	}
	out, err := c.Compile(context.Background(), filepath.Join(t.TempDir(), "s.slang"), compiler.Kernel)
	require.NoError(t, err)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "from-env\n", string(data))
}
