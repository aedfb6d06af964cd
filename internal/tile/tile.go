// Package tile decomposes a matrix multiply into the fixed square tiles
// a systolic array processes in one pass.
package tile

import (
	"fmt"

	"github.com/born-ml/systolic/internal/tensor"
)

// Tile is one output block. Row0 and Col0 locate it in the output; Rows and
// Cols give its extent, which is smaller than the array size only for the
// last tile in a row or column.
type Tile struct {
	Row0 int
	Col0 int
	Rows int
	Cols int
}

// String returns the tile origin, e.g. "(4,0)".
func (t Tile) String() string {
	return fmt.Sprintf("(%d,%d)", t.Row0, t.Col0)
}

// Steps returns the number of tiles of side size needed to cover n.
func Steps(n, size int) int {
	return (n + size - 1) / size
}

// Scheduler yields the output tiles of a rows×cols result in row-major
// order: all tiles of the first tile row left to right, then the next.
// Reassembly relies on this order.
//
// A Scheduler is not safe for concurrent use. Reset restarts the sequence.
type Scheduler struct {
	rows, cols int
	size       int
	next       int
}

// NewScheduler creates a scheduler for a rows×cols output and array size.
func NewScheduler(rows, cols, size int) (*Scheduler, error) {
	if size <= 0 {
		return nil, fmt.Errorf("tile size must be positive, got %d", size)
	}
	if rows < 0 || cols < 0 {
		return nil, fmt.Errorf("invalid output shape [%d, %d]", rows, cols)
	}
	return &Scheduler{rows: rows, cols: cols, size: size}, nil
}

// Count returns the total number of tiles: ceil(rows/T) * ceil(cols/T).
func (s *Scheduler) Count() int {
	return Steps(s.rows, s.size) * Steps(s.cols, s.size)
}

// Next returns the next tile, or false once the sequence is exhausted.
func (s *Scheduler) Next() (Tile, bool) {
	if s.next >= s.Count() {
		return Tile{}, false
	}
	perRow := Steps(s.cols, s.size)
	row0 := (s.next / perRow) * s.size
	col0 := (s.next % perRow) * s.size
	s.next++

	return Tile{
		Row0: row0,
		Col0: col0,
		Rows: min(s.size, s.rows-row0),
		Cols: min(s.size, s.cols-col0),
	}, true
}

// Reset restarts the sequence from the first tile.
func (s *Scheduler) Reset() {
	s.next = 0
}

// PackWeights copies the size×size block of a starting at (row0, k0) into
// dst in row-major order: dst[r*size+k] = a[row0+r][k0+k]. Elements past
// the matrix edge are zero.
func PackWeights(dst []int16, a *tensor.Matrix, row0, k0, size int) {
	src := a.AsInt16()
	cols := a.Cols()
	clear(dst[:size*size])

	rows := min(size, a.Rows()-row0)
	ks := min(size, cols-k0)
	for r := 0; r < rows; r++ {
		base := (row0+r)*cols + k0
		copy(dst[r*size:r*size+ks], src[base:base+ks])
	}
}

// PackActivations copies the size×size block of b starting at (k0, col0)
// into dst transposed, so each column of b is contiguous:
// dst[c*size+k] = b[k0+k][col0+c]. Elements past the matrix edge are zero.
func PackActivations(dst []int16, b *tensor.Matrix, k0, col0, size int) {
	src := b.AsInt16()
	cols := b.Cols()
	clear(dst[:size*size])

	ks := min(size, b.Rows()-k0)
	cs := min(size, cols-col0)
	for k := 0; k < ks; k++ {
		row := (k0 + k) * cols
		for c := 0; c < cs; c++ {
			dst[c*size+k] = src[row+col0+c]
		}
	}
}

// Accumulate adds the valid region of a size×size result tile into out,
// a row-major accumulator with outCols columns. Padding is discarded.
func Accumulate(out []int64, outCols int, result []int32, t Tile, size int) {
	for r := 0; r < t.Rows; r++ {
		dst := out[(t.Row0+r)*outCols+t.Col0:]
		src := result[r*size:]
		for c := 0; c < t.Cols; c++ {
			dst[c] += int64(src[c])
		}
	}
}
