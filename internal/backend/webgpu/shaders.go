package webgpu

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/born-ml/diffrast/internal/kernel"
	"github.com/gogpu/naga"
)

// WGSL compute shaders for the soft rasterizer.
// Every shader runs one invocation per pixel in 16x16 workgroups, matching
// kernel.LaunchFor, and shares the Params layout written by encodeParams.

// workgroupEdge is the workgroup edge length declared by every shader.
const workgroupEdge = kernel.BlockEdge

// paramsSize is the byte size of the Params uniform (16-byte aligned).
const paramsSize = 64

// rasterCommon declares the Params uniform and the polygon helpers.
const rasterCommon = `
struct Params {
    origin: vec2<f32>,
    scale: vec2<f32>,
    frame: vec2<u32>,
    sigma: f32,
    num_vertices: u32,
    color: vec4<f32>,
    fd_step: f32,
    pad0: f32,
    pad1: f32,
    pad2: f32,
}

@group(0) @binding(0) var<storage, read> vertices: array<f32>;
@group(0) @binding(1) var<uniform> params: Params;

fn pixel_center(px: u32, py: u32) -> vec2<f32> {
    let frame = vec2<f32>(f32(params.frame.x), f32(params.frame.y));
    let uv = (vec2<f32>(f32(px), f32(py)) + vec2<f32>(0.5, 0.5)) / frame;
    return (uv * 2.0 - vec2<f32>(1.0, 1.0)) * params.scale + params.origin;
}

fn vertex_at(i: u32, dx: f32) -> vec2<f32> {
    return vec2<f32>(vertices[2u * i] + dx, vertices[2u * i + 1u]);
}

fn orientation() -> f32 {
    let n = params.num_vertices;
    if (n < 3u) {
        return 0.0;
    }
    var area = 0.0;
    for (var i = 0u; i < n; i = i + 1u) {
        let a = vertex_at(i, 0.0);
        let b = vertex_at((i + 1u) % n, 0.0);
        area = area + a.x * b.y - b.x * a.y;
    }
    if (abs(area) < 1e-12) {
        return 0.0;
    }
    return sign(area);
}

// x: signed distance to the nearest edge line, y: edge index (-1 if none).
fn signed_distance(p: vec2<f32>, orient: f32, dx: f32) -> vec2<f32> {
    let n = params.num_vertices;
    var best = 3.0e38;
    var edge = -1.0;
    for (var k = 0u; k < n; k = k + 1u) {
        let a = vertex_at(k, dx);
        let b = vertex_at((k + 1u) % n, dx);
        let u = b - a;
        let edge_len = length(u);
        if (edge_len < 1e-12) {
            continue;
        }
        let w = p - a;
        let e = orient * (u.x * w.y - u.y * w.x) / edge_len;
        if (e < best) {
            best = e;
            edge = f32(k);
        }
    }
    return vec2<f32>(best, edge);
}

fn coverage(p: vec2<f32>, orient: f32, dx: f32) -> f32 {
    if (orient == 0.0) {
        return 0.0;
    }
    let sd = signed_distance(p, orient, dx);
    if (sd.y < 0.0) {
        return 0.0;
    }
    return 1.0 / (1.0 + exp(-sd.x / params.sigma));
}

fn in_frame(gid: vec3<u32>) -> bool {
    return gid.x < params.frame.x && gid.y < params.frame.y && gid.z == 0u;
}
`

// rasterizeShader renders coverage times color into output (W, H, 3).
const rasterizeShader = rasterCommon + `
@group(0) @binding(2) var<storage, read_write> output: array<f32>;

@compute @workgroup_size(16, 16, 1)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    if (!in_frame(gid)) {
        return;
    }
    let alpha = coverage(pixel_center(gid.x, gid.y), orientation(), 0.0);
    let base = (gid.x * params.frame.y + gid.y) * 3u;
    output[base] = alpha * params.color.x;
    output[base + 1u] = alpha * params.color.y;
    output[base + 2u] = alpha * params.color.z;
}
`

// rasterizeForwardDiffShader renders the one-sided finite difference of the
// image for a +x translation of every vertex by params.fd_step.
const rasterizeForwardDiffShader = rasterCommon + `
@group(0) @binding(2) var<storage, read_write> output: array<f32>;

@compute @workgroup_size(16, 16, 1)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    if (!in_frame(gid)) {
        return;
    }
    let p = pixel_center(gid.x, gid.y);
    let orient = orientation();
    let d_alpha = (coverage(p, orient, params.fd_step) - coverage(p, orient, 0.0)) / params.fd_step;
    let base = (gid.x * params.frame.y + gid.y) * 3u;
    output[base] = d_alpha * params.color.x;
    output[base + 1u] = d_alpha * params.color.y;
    output[base + 2u] = d_alpha * params.color.z;
}
`

// rasterizeBwdShader writes each pixel's contribution to the vertex and
// color gradients: 2*N vertex entries followed by 3 color entries per pixel.
// Contributions are summed on the host in block order.
const rasterizeBwdShader = rasterCommon + `
@group(0) @binding(2) var<storage, read> grad_output: array<f32>;
@group(0) @binding(3) var<storage, read_write> contrib: array<f32>;

@compute @workgroup_size(16, 16, 1)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    if (!in_frame(gid)) {
        return;
    }
    let n = params.num_vertices;
    let stride = 2u * n + 3u;
    let pixel = gid.x * params.frame.y + gid.y;
    let base = pixel * stride;
    for (var i = 0u; i < stride; i = i + 1u) {
        contrib[base + i] = 0.0;
    }

    let orient = orientation();
    if (orient == 0.0) {
        return;
    }
    let p = pixel_center(gid.x, gid.y);
    let sd = signed_distance(p, orient, 0.0);
    if (sd.y < 0.0) {
        return;
    }
    let alpha = 1.0 / (1.0 + exp(-sd.x / params.sigma));
    let g = vec3<f32>(grad_output[pixel * 3u], grad_output[pixel * 3u + 1u], grad_output[pixel * 3u + 2u]);

    contrib[base + 2u * n] = g.x * alpha;
    contrib[base + 2u * n + 1u] = g.y * alpha;
    contrib[base + 2u * n + 2u] = g.z * alpha;

    let d_dist = dot(g, params.color.xyz) * alpha * (1.0 - alpha) / params.sigma;
    let k = u32(sd.y);
    let j = (k + 1u) % n;
    let a = vertex_at(k, 0.0);
    let b = vertex_at(j, 0.0);
    let u = b - a;
    let w = p - a;
    let l = length(u);
    let c = u.x * w.y - u.y * w.x;
    let l3 = l * l * l;

    contrib[base + 2u * k] = d_dist * orient * ((u.y - w.y) / l + c * u.x / l3);
    contrib[base + 2u * k + 1u] = d_dist * orient * ((w.x - u.x) / l + c * u.y / l3);
    contrib[base + 2u * j] = d_dist * orient * (w.y / l - c * u.x / l3);
    contrib[base + 2u * j + 1u] = d_dist * orient * (-w.x / l - c * u.y / l3);
}
`

// entryBwd names the reverse-mode shader.
const entryBwd = kernel.EntryRasterize + ".bwd"

// Shaders returns the WGSL source of every entry point, keyed by entry name.
func Shaders() map[string]string {
	return map[string]string{
		kernel.EntryRasterize:            rasterizeShader,
		kernel.EntryRasterizeForwardDiff: rasterizeForwardDiffShader,
		entryBwd:                         rasterizeBwdShader,
	}
}

// CompileSPIRV compiles every shader to SPIR-V with naga, validating it on
// the way. Artifacts are keyed "<entry>.spv". New does not read them back:
// pipelines are always created from the WGSL in Shaders.
func CompileSPIRV() (map[string][]byte, error) {
	shaders := Shaders()
	names := make([]string, 0, len(shaders))
	for name := range shaders {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string][]byte, len(shaders))
	for _, name := range names {
		spirv, err := naga.Compile(shaders[name])
		if err != nil {
			return nil, fmt.Errorf("webgpu: compile shader %s: %w", name, err)
		}
		out[name+".spv"] = spirv
	}
	return out, nil
}

// encodeParams packs the Params uniform.
func encodeParams(args kernel.Args, fdStep float32) []byte {
	buf := make([]byte, paramsSize)
	le := binary.LittleEndian
	putF := func(off int, v float32) { le.PutUint32(buf[off:], math.Float32bits(v)) }

	cam := args.Camera
	color := args.Color.AsFloat32()

	putF(0, cam.Origin[0])
	putF(4, cam.Origin[1])
	putF(8, cam.Scale[0])
	putF(12, cam.Scale[1])
	//nolint:gosec // G115: frame dimensions are validated positive
	le.PutUint32(buf[16:], uint32(cam.Width()))
	//nolint:gosec // G115: frame dimensions are validated positive
	le.PutUint32(buf[20:], uint32(cam.Height()))
	putF(24, args.Sigma)
	//nolint:gosec // G115: vertex count is validated positive
	le.PutUint32(buf[28:], uint32(args.Vertices.Shape()[0]))
	putF(32, color[0])
	putF(36, color[1])
	putF(40, color[2])
	putF(48, fdStep)
	return buf
}

// reduceContributions sums the per-pixel gradient contributions written by
// the reverse-mode shader. Pixels are visited block by block in launch
// order, so the result is independent of GPU scheduling.
func reduceContributions(contrib []float32, width, height, numVertices int) []float64 {
	stride := 2*numVertices + 3
	total := make([]float64, stride)
	grid := kernel.GridFor(width, height, kernel.Dim3{X: workgroupEdge, Y: workgroupEdge, Z: 1})

	for by := 0; by < grid.Y; by++ {
		for bx := 0; bx < grid.X; bx++ {
			for ty := 0; ty < workgroupEdge; ty++ {
				py := by*workgroupEdge + ty
				if py >= height {
					break
				}
				for tx := 0; tx < workgroupEdge; tx++ {
					px := bx*workgroupEdge + tx
					if px >= width {
						break
					}
					base := (px*height + py) * stride
					for i := 0; i < stride; i++ {
						total[i] += float64(contrib[base+i])
					}
				}
			}
		}
	}
	return total
}
