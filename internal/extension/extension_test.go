package extension_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/born-ml/diffrast/internal/backend/webgpu"
	"github.com/born-ml/diffrast/internal/cache"
	"github.com/born-ml/diffrast/internal/extension"
	"github.com/born-ml/diffrast/internal/kernel"
	"github.com/born-ml/diffrast/internal/kernel/cpu"
	"github.com/born-ml/diffrast/internal/toolchain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// countingBackend records how often artifacts are generated.
type countingBackend struct {
	generated int
	opened    []extension.BuildInfo
}

func (c *countingBackend) backend() extension.Backend {
	return extension.Backend{
		Name: "counting",
		Generate: func(_ context.Context, info extension.BuildInfo) (map[string][]byte, error) {
			c.generated++
			return map[string][]byte{info.Name + ".bin": []byte("artifact")}, nil
		},
		Open: func(_ context.Context, info extension.BuildInfo) (kernel.Module, error) {
			c.opened = append(c.opened, info)
			return cpu.New(info.Name), nil
		},
	}
}

func newRegistry(c *countingBackend) *extension.Registry {
	r := extension.NewRegistry()
	r.Register(c.backend())
	return r
}

func TestDefaultBackends(t *testing.T) {
	names := extension.Backends()
	assert.Contains(t, names, "cpu")
	assert.Contains(t, names, "webgpu")
}

func TestLoad_CPUWithoutCache(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "soft.cpp", "host binding")

	b := &extension.Builder{BaseEnv: []string{}}
	m, err := b.Load(context.Background(), "soft", []string{src})
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, "soft", m.Name())
	_, err = m.Kernel(kernel.EntryRasterize)
	require.NoError(t, err)
}

func TestLoad_CacheHitSkipsBuild(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "soft.cpp", "v1")
	c, err := cache.Open(filepath.Join(dir, "cache"))
	require.NoError(t, err)

	counter := &countingBackend{}
	b := &extension.Builder{Backend: "counting", Registry: newRegistry(counter), Cache: c, BaseEnv: []string{}}

	_, err = b.Load(context.Background(), "soft", []string{src})
	require.NoError(t, err)
	_, err = b.Load(context.Background(), "soft", []string{src})
	require.NoError(t, err)

	assert.Equal(t, 1, counter.generated)
	require.Len(t, counter.opened, 2)
	assert.Equal(t, counter.opened[0].Key, counter.opened[1].Key)
	assert.FileExists(t, filepath.Join(counter.opened[1].Dir, "soft.bin"))

	entries, err := c.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "soft", entries[0].Module)
	assert.Equal(t, "counting", entries[0].Backend)
}

func TestLoad_SourceChangeRebuilds(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "soft.cpp", "v1")
	c, err := cache.Open(filepath.Join(dir, "cache"))
	require.NoError(t, err)

	counter := &countingBackend{}
	b := &extension.Builder{Backend: "counting", Registry: newRegistry(counter), Cache: c, BaseEnv: []string{}}

	_, err = b.Load(context.Background(), "soft", []string{src})
	require.NoError(t, err)
	writeSource(t, dir, "soft.cpp", "v2")
	_, err = b.Load(context.Background(), "soft", []string{src})
	require.NoError(t, err)

	assert.Equal(t, 2, counter.generated)
	assert.NotEqual(t, counter.opened[0].Key, counter.opened[1].Key)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "soft.cpp", "x")
	ctx := context.Background()

	_, err := (&extension.Builder{Backend: "nope"}).Load(ctx, "soft", []string{src})
	assert.ErrorIs(t, err, extension.ErrUnknownBackend)

	_, err = (&extension.Builder{}).Load(ctx, "soft", nil)
	assert.ErrorIs(t, err, extension.ErrNoSources)

	_, err = (&extension.Builder{}).Load(ctx, "a/b", []string{src})
	assert.ErrorIs(t, err, extension.ErrInvalidName)

	_, err = (&extension.Builder{}).Load(ctx, "soft", []string{filepath.Join(dir, "missing.cpp")})
	require.Error(t, err)
}

func TestLoad_GenerateErrorIsNotCached(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "soft.cpp", "x")
	c, err := cache.Open(filepath.Join(dir, "cache"))
	require.NoError(t, err)

	r := extension.NewRegistry()
	boom := errors.New("boom")
	r.Register(extension.Backend{
		Name: "broken",
		Generate: func(context.Context, extension.BuildInfo) (map[string][]byte, error) {
			return nil, boom
		},
		Open: func(context.Context, extension.BuildInfo) (kernel.Module, error) {
			t.Fatal("open must not be reached")
			return nil, nil
		},
	})

	b := &extension.Builder{Backend: "broken", Registry: r, Cache: c}
	_, err = b.Load(context.Background(), "soft", []string{src})
	require.ErrorIs(t, err, boom)

	entries, err := c.List()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBuildEnv(t *testing.T) {
	b := &extension.Builder{
		BaseEnv:   []string{"PATH=/usr/bin", "KMP_DUPLICATE_LIB_OK=FALSE", "HOME=/home/x"},
		Toolchain: toolchain.Toolchain{BinDir: "/opt/msvc"},
	}
	env := b.BuildEnv()

	assert.Contains(t, env, "KMP_DUPLICATE_LIB_OK=TRUE")
	assert.NotContains(t, env, "KMP_DUPLICATE_LIB_OK=FALSE")
	assert.Contains(t, env, "HOME=/home/x")
	assert.Contains(t, env, "PATH=/usr/bin"+string(os.PathListSeparator)+"/opt/msvc")

	// The base environment is left untouched.
	assert.Equal(t, "KMP_DUPLICATE_LIB_OK=FALSE", b.BaseEnv[1])
	assert.Equal(t, "PATH=/usr/bin", b.BaseEnv[0])
}

func TestLoad_BuildCommand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("build command test uses sh")
	}
	dir := t.TempDir()
	src := writeSource(t, dir, "soft.cpp", "host binding")
	c, err := cache.Open(filepath.Join(dir, "cache"))
	require.NoError(t, err)

	counter := &countingBackend{}
	b := &extension.Builder{
		Backend:  "counting",
		Registry: newRegistry(counter),
		Cache:    c,
		BaseEnv:  []string{"PATH=" + os.Getenv("PATH")},
		Command:  []string{"sh", "-c", `cp "$1" copied.cpp && printf %s "$KMP_DUPLICATE_LIB_OK" > env.txt`, "build"},
	}
	_, err = b.Load(context.Background(), "soft", []string{src})
	require.NoError(t, err)

	info := counter.opened[0]
	copied, err := os.ReadFile(filepath.Join(info.Dir, "copied.cpp"))
	require.NoError(t, err)
	assert.Equal(t, "host binding", string(copied))

	env, err := os.ReadFile(filepath.Join(info.Dir, "env.txt"))
	require.NoError(t, err)
	assert.Equal(t, "TRUE", string(env))

	// Generated artifacts sit next to the command's output.
	assert.FileExists(t, filepath.Join(info.Dir, "soft.bin"))
}

func TestLoad_BuildCommandFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("build command test uses sh")
	}
	dir := t.TempDir()
	src := writeSource(t, dir, "soft.cpp", "x")

	b := &extension.Builder{
		BaseEnv: []string{"PATH=" + os.Getenv("PATH")},
		Command: []string{"sh", "-c", "echo 'undefined symbol' >&2; exit 3", "build"},
	}
	_, err := b.Load(context.Background(), "soft", []string{src})
	require.Error(t, err)

	var buildErr *extension.BuildError
	require.ErrorAs(t, err, &buildErr)
	assert.Equal(t, 3, buildErr.ExitCode)
	assert.Equal(t, "soft", buildErr.Module)
	assert.True(t, strings.Contains(buildErr.Output, "undefined symbol"))
	assert.Contains(t, err.Error(), "exit code 3")
}

func TestOpen_Direct(t *testing.T) {
	m, err := extension.Open(context.Background(), "cpu", "direct")
	require.NoError(t, err)
	assert.Equal(t, "direct", m.Name())

	_, err = extension.Open(context.Background(), "missing", "direct")
	require.ErrorIs(t, err, extension.ErrUnknownBackend)
}

func TestLoad_WebGPUStoresValidatedShaders(t *testing.T) {
	if _, err := webgpu.CompileSPIRV(); err != nil {
		t.Skipf("naga cannot compile the shaders: %v", err)
	}
	c, err := cache.Open(t.TempDir())
	require.NoError(t, err)
	src := writeSource(t, t.TempDir(), "soft.cpp", "host binding")

	b := &extension.Builder{Backend: "webgpu", Cache: c, BaseEnv: []string{}}
	m, err := b.Load(context.Background(), "soft", []string{src})
	if err != nil {
		// Headless machines have no adapter; the entry is stored before Open.
		require.ErrorIs(t, err, webgpu.ErrUnavailable)
	} else {
		defer m.Close()
	}

	entries, err := c.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "webgpu", entries[0].Backend)
	assert.ElementsMatch(t, []string{
		kernel.EntryRasterize + ".spv",
		kernel.EntryRasterize + ".bwd.spv",
		kernel.EntryRasterizeForwardDiff + ".spv",
	}, entries[0].Artifacts)
}
