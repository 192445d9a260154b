package tslab

import "sort"

// defaultClassSizes is the size-class table in ascending object-size
// order. Boundaries are a geometric-ish progression the way
// kernel/threads/arena lays out buddy orders, stopping well short of
// handle.MaxClass (63) so a caller-supplied table can still grow.
var defaultClassSizes = []uint32{
	8, 16, 24, 32, 48, 64, 96, 128, 192, 256,
	384, 512, 768, 1024, 1536, 2048, 3072, 4096,
}

// classForSize maps a requested byte size to the smallest class whose
// object size can hold it, rejecting anything larger than the largest
// class. Lookup is O(log classes) via binary search over the sorted
// table — effectively O(1) for the table sizes this allocator uses.
func classForSize(sizes []uint32, size uint32) (int, bool) {
	i := sort.Search(len(sizes), func(i int) bool { return sizes[i] >= size })
	if i == len(sizes) {
		return 0, false
	}
	return i, true
}
