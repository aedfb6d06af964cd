package webgpu

// workgroupSize is the side of the 2-D workgroup used by tileShader.
const workgroupSize = 8

// tileShader computes one systolic pass on a T×T tile:
// result[r][c] = sum_k weights[r][k] * activations[c][k].
// Operands arrive widened to i32; i32 arithmetic wraps like the
// hardware accumulator.
const tileShader = `
@group(0) @binding(0) var<storage, read> weights: array<i32>;
@group(0) @binding(1) var<storage, read> activations: array<i32>;
@group(0) @binding(2) var<storage, read_write> result: array<i32>;

struct Params {
    T: u32,  // side of the tile
}
@group(0) @binding(3) var<uniform> params: Params;

@compute @workgroup_size(8, 8)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let row = global_id.y;
    let col = global_id.x;

    if (row >= params.T || col >= params.T) {
        return;
    }

    var sum: i32 = 0;
    for (var k: u32 = 0u; k < params.T; k = k + 1u) {
        sum = sum + weights[row * params.T + k] * activations[col * params.T + k];
    }

    result[row * params.T + col] = sum;
}
`
