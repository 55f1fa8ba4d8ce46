//go:build windows

package webgpu

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/born-ml/diffrast/internal/kernel"
	"github.com/born-ml/diffrast/internal/logging"
	"github.com/born-ml/diffrast/internal/tensor"
	"github.com/go-webgpu/webgpu/wgpu"
	"github.com/gogpu/gputypes"
)

// Module runs the rasterizer entry points as WebGPU compute pipelines.
type Module struct {
	name     string
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	pipelines map[string]*wgpu.ComputePipeline
	shaders   []*wgpu.ShaderModule
	mu        sync.Mutex // Serializes dispatches on the queue
	closed    atomic.Bool
}

// New creates the WebGPU module and builds a pipeline per entry point.
// Returns an error wrapping ErrUnavailable if the native library or an
// adapter is missing.
func New(name string) (module kernel.Module, err error) {
	// Recover from panic if wgpu_native library is not found.
	defer func() {
		if r := recover(); r != nil {
			module = nil
			err = fmt.Errorf("%w: native library not available: %v", ErrUnavailable, r)
		}
	}()

	instance, instanceErr := wgpu.CreateInstance(nil)
	if instanceErr != nil {
		return nil, fmt.Errorf("%w: failed to create instance: %v", ErrUnavailable, instanceErr)
	}
	adapter, adapterErr := instance.RequestAdapter(nil)
	if adapterErr != nil {
		instance.Release()
		return nil, fmt.Errorf("%w: failed to request adapter: %v", ErrUnavailable, adapterErr)
	}

	device, deviceErr := adapter.RequestDevice(nil)
	if deviceErr != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("%w: failed to request device: %v", ErrUnavailable, deviceErr)
	}

	queue := device.GetQueue()
	if queue == nil {
		device.Release()
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("%w: failed to get queue", ErrUnavailable)
	}

	m := &Module{
		name:      name,
		instance:  instance,
		adapter:   adapter,
		device:    device,
		queue:     queue,
		pipelines: make(map[string]*wgpu.ComputePipeline),
	}
	for entry, code := range Shaders() {
		shader := device.CreateShaderModuleWGSL(code)
		m.shaders = append(m.shaders, shader)
		m.pipelines[entry] = device.CreateComputePipelineSimple(nil, shader, "main")
	}

	logging.Logger().Info("webgpu: module ready", "module", name, "pipelines", len(m.pipelines))
	return m, nil
}

// IsAvailable checks if WebGPU is available on this system.
func IsAvailable() (available bool) {
	defer func() {
		if r := recover(); r != nil {
			available = false
		}
	}()

	instance, err := wgpu.CreateInstance(nil)
	if err != nil {
		return false
	}
	defer instance.Release()

	adapter, err := instance.RequestAdapter(nil)
	if err != nil {
		return false
	}
	adapter.Release()
	return true
}

// Name returns the module name.
func (m *Module) Name() string {
	return m.name
}

// Kernel looks up an entry point.
func (m *Module) Kernel(entry string) (kernel.Kernel, error) {
	if m.closed.Load() {
		return nil, kernel.ErrModuleClosed
	}
	switch entry {
	case kernel.EntryRasterize:
		return &gpuKernel{m: m, entry: entry}, nil
	case kernel.EntryRasterizeForwardDiff:
		return &gpuForwardDiffKernel{base: &gpuKernel{m: m, entry: entry}}, nil
	default:
		return nil, fmt.Errorf("%w: %s.%s", kernel.ErrUnknownEntry, m.name, entry)
	}
}

// Close releases pipelines and the device.
func (m *Module) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.pipelines {
		p.Release()
	}
	for _, s := range m.shaders {
		s.Release()
	}
	m.queue.Release()
	m.device.Release()
	m.adapter.Release()
	m.instance.Release()
	return nil
}

// createBuffer creates a GPU buffer and uploads initial data.
func (m *Module) createBuffer(data []byte, usage gputypes.BufferUsage) *wgpu.Buffer {
	size := uint64(len(data))
	buffer := m.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            usage,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})

	mappedPtr := buffer.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	mappedSlice := unsafe.Slice((*byte)(mappedPtr), size)
	copy(mappedSlice, data)
	buffer.Unmap()

	return buffer
}

// createStorage creates an uninitialized read-write storage buffer.
func (m *Module) createStorage(size uint64) *wgpu.Buffer {
	return m.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
		Size:  size,
	})
}

// readBuffer reads data back from a GPU buffer through a staging buffer.
func (m *Module) readBuffer(src *wgpu.Buffer, size uint64) ([]byte, error) {
	staging := m.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
		Size:  size,
	})
	defer staging.Release()

	encoder := m.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(src, 0, staging, 0, size)
	m.queue.Submit(encoder.Finish(nil))

	if err := staging.MapAsync(m.device, wgpu.MapModeRead, 0, size); err != nil {
		return nil, fmt.Errorf("webgpu: failed to map staging buffer: %w", err)
	}
	mappedPtr := staging.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	mapped := unsafe.Slice((*byte)(mappedPtr), size)
	result := make([]byte, size)
	copy(result, mapped)
	staging.Unmap()

	return result, nil
}

// dispatch binds buffers in order and runs pipeline over cfg.Grid workgroups.
func (m *Module) dispatch(entry string, cfg kernel.LaunchConfig, buffers []*wgpu.Buffer, sizes []uint64) {
	pipeline := m.pipelines[entry]
	entries := make([]wgpu.BindGroupEntry, len(buffers))
	for i, buf := range buffers {
		//nolint:gosec // G115: binding index is small
		entries[i] = wgpu.BufferBindingEntry(uint32(i), buf, 0, sizes[i])
	}
	bindGroup := m.device.CreateBindGroupSimple(pipeline.GetBindGroupLayout(0), entries)
	defer bindGroup.Release()

	encoder := m.device.CreateCommandEncoder(nil)
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	//nolint:gosec // G115: grid extents are validated positive
	pass.DispatchWorkgroups(uint32(cfg.Grid.X), uint32(cfg.Grid.Y), uint32(cfg.Grid.Z))
	pass.End()
	m.queue.Submit(encoder.Finish(nil))
}

// checkLaunch validates cfg against the workgroup size compiled into the shaders.
func checkLaunch(cfg kernel.LaunchConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	want := kernel.Dim3{X: workgroupEdge, Y: workgroupEdge, Z: 1}
	if cfg.Block != want {
		return fmt.Errorf("%w: block %+v, shaders are compiled for %+v", kernel.ErrInvalidLaunch, cfg.Block, want)
	}
	return nil
}

// gpuKernel is the rasterize entry point.
type gpuKernel struct {
	m     *Module
	entry string
}

func (k *gpuKernel) Name() string { return k.entry }

func (k *gpuKernel) LaunchRaw(ctx context.Context, args kernel.Args, cfg kernel.LaunchConfig) error {
	return k.launch(ctx, args, cfg, 0)
}

func (k *gpuKernel) launch(ctx context.Context, args kernel.Args, cfg kernel.LaunchConfig, fdStep float32) error {
	if err := checkLaunch(cfg); err != nil {
		return err
	}
	if err := args.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	k.m.mu.Lock()
	defer k.m.mu.Unlock()

	params := encodeParams(args, fdStep)
	vertexData := args.Vertices.Contiguous().Data()

	bufVerts := k.m.createBuffer(vertexData, gputypes.BufferUsageStorage|gputypes.BufferUsageCopySrc)
	defer bufVerts.Release()
	bufParams := k.m.createBuffer(params, gputypes.BufferUsageUniform|gputypes.BufferUsageCopyDst)
	defer bufParams.Release()

	//nolint:gosec // G115: ByteSize is non-negative
	outSize := uint64(args.Output.ByteSize())
	bufOut := k.m.createStorage(outSize)
	defer bufOut.Release()

	k.m.dispatch(k.entry, cfg,
		[]*wgpu.Buffer{bufVerts, bufParams, bufOut},
		//nolint:gosec // G115: sizes are non-negative
		[]uint64{uint64(len(vertexData)), paramsSize, outSize})

	data, err := k.m.readBuffer(bufOut, outSize)
	if err != nil {
		return err
	}
	copy(args.Output.Data(), data)
	return nil
}

// Bwd runs the reverse-mode shader and reduces per-pixel contributions.
func (k *gpuKernel) Bwd(ctx context.Context, args kernel.BwdArgs, cfg kernel.LaunchConfig) error {
	if err := checkLaunch(cfg); err != nil {
		return err
	}
	if err := args.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	fwd := args.Forward()
	w, h := fwd.Camera.Width(), fwd.Camera.Height()
	nv := fwd.Vertices.Shape()[0]

	k.m.mu.Lock()
	defer k.m.mu.Unlock()

	params := encodeParams(fwd, 0)
	vertexData := fwd.Vertices.Contiguous().Data()
	gradData := args.Output.Grad.Contiguous().Data()

	bufVerts := k.m.createBuffer(vertexData, gputypes.BufferUsageStorage|gputypes.BufferUsageCopySrc)
	defer bufVerts.Release()
	bufParams := k.m.createBuffer(params, gputypes.BufferUsageUniform|gputypes.BufferUsageCopyDst)
	defer bufParams.Release()
	bufGrad := k.m.createBuffer(gradData, gputypes.BufferUsageStorage|gputypes.BufferUsageCopySrc)
	defer bufGrad.Release()

	//nolint:gosec // G115: sizes are non-negative
	contribSize := uint64(w * h * (2*nv + 3) * tensor.Float32.Size())
	bufContrib := k.m.createStorage(contribSize)
	defer bufContrib.Release()

	k.m.dispatch(entryBwd, cfg,
		[]*wgpu.Buffer{bufVerts, bufParams, bufGrad, bufContrib},
		//nolint:gosec // G115: sizes are non-negative
		[]uint64{uint64(len(vertexData)), paramsSize, uint64(len(gradData)), contribSize})

	raw, err := k.m.readBuffer(bufContrib, contribSize)
	if err != nil {
		return err
	}
	//nolint:gosec // unsafe.Slice for zero-copy reinterpretation of float32 bytes
	contrib := unsafe.Slice((*float32)(unsafe.Pointer(&raw[0])), len(raw)/4)
	total := reduceContributions(contrib, w, h, nv)

	gradV := args.Vertices.Grad.AsFloat32()
	for i := 0; i < 2*nv; i++ {
		gradV[i] += float32(total[i])
	}
	gradC := args.Color.Grad.AsFloat32()
	for c := 0; c < 3; c++ {
		gradC[c] += float32(total[2*nv+c])
	}
	return nil
}

// gpuForwardDiffKernel is the rasterize_forward_diff entry point.
// It has no reverse-mode derivative.
type gpuForwardDiffKernel struct {
	base *gpuKernel
}

func (k *gpuForwardDiffKernel) Name() string { return k.base.entry }

func (k *gpuForwardDiffKernel) LaunchRaw(ctx context.Context, args kernel.Args, cfg kernel.LaunchConfig) error {
	return k.base.launch(ctx, args, cfg, DefaultForwardDiffStep)
}

// Compile-time interface checks.
var (
	_ kernel.Module         = (*Module)(nil)
	_ kernel.Differentiable = (*gpuKernel)(nil)
	_ kernel.Kernel         = (*gpuForwardDiffKernel)(nil)
)
