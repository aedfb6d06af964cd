package matmul

import "fmt"

// RowPartition is the contiguous row range [Start, End) of the left
// operand assigned to one device.
type RowPartition struct {
	Device int // Index into the device set
	Start  int
	End    int
}

// Len returns the number of rows in the partition.
func (p RowPartition) Len() int {
	return p.End - p.Start
}

// String returns the partition as "rows [start, end)".
func (p RowPartition) String() string {
	return fmt.Sprintf("rows [%d, %d)", p.Start, p.End)
}

// Partition splits rows into n contiguous ranges in device order.
//
// Every range gets rows/n rows and the first rows%n ranges get one more,
// so sizes differ by at most one and the ranges cover [0, rows) exactly.
// When rows < n the trailing ranges are empty.
func Partition(rows, n int) []RowPartition {
	if n <= 0 {
		return nil
	}
	base, extra := rows/n, rows%n

	parts := make([]RowPartition, n)
	start := 0
	for i := range parts {
		size := base
		if i < extra {
			size++
		}
		parts[i] = RowPartition{Device: i, Start: start, End: start + size}
		start += size
	}
	return parts
}
