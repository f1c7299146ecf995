package allocator

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/diskfs/vdiskfs/diskview"
	"github.com/diskfs/vdiskfs/storage"
	"github.com/diskfs/vdiskfs/storage/ramstore"
)

func newTestAllocator(t *testing.T, firstFree, count uint64) *Allocator {
	t.Helper()
	store, err := ramstore.New(storage.Geometry{Cylinders: 64, SectorsPerCylinder: 16, BytesPerSector: 256})
	if err != nil {
		t.Fatalf("ramstore.New() error = %v", err)
	}
	v := diskview.New(store)
	a, err := Format(v, 1, firstFree, count)
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	return a
}

func TestNewBlockSequential(t *testing.T) {
	a := newTestAllocator(t, 2, 5)
	var got []uint64
	for i := 0; i < 5; i++ {
		b, err := a.NewBlock()
		if err != nil {
			t.Fatalf("NewBlock() error = %v", err)
		}
		got = append(got, b)
	}
	want := []uint64{2, 3, 4, 5, 6}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("block %d = %d, want %d", i, got[i], want[i])
		}
	}
	if _, err := a.NewBlock(); err == nil {
		t.Fatal("NewBlock() on exhausted pool expected error, got nil")
	}
}

func TestDeleteBlockCoalescesWithNeighbor(t *testing.T) {
	a := newTestAllocator(t, 10, 4) // free: [10,14)
	b1, _ := a.NewBlock()           // 10
	b2, _ := a.NewBlock()           // 11
	if b1 != 10 || b2 != 11 {
		t.Fatalf("unexpected allocation order: %d, %d", b1, b2)
	}
	free, err := a.FreeBlocks()
	if err != nil {
		t.Fatalf("FreeBlocks() error = %v", err)
	}
	if free != 2 {
		t.Fatalf("FreeBlocks() = %d, want 2", free)
	}

	if err := a.DeleteBlock(b2); err != nil {
		t.Fatalf("DeleteBlock() error = %v", err)
	}
	if err := a.DeleteBlock(b1); err != nil {
		t.Fatalf("DeleteBlock() error = %v", err)
	}
	free, err = a.FreeBlocks()
	if err != nil {
		t.Fatalf("FreeBlocks() error = %v", err)
	}
	if free != 4 {
		t.Fatalf("FreeBlocks() after returning both blocks = %d, want 4", free)
	}

	// the pool should again be one contiguous run starting at 10
	addr, err := a.NewBlock()
	if err != nil {
		t.Fatalf("NewBlock() error = %v", err)
	}
	if addr != 10 {
		t.Fatalf("NewBlock() after coalescing = %d, want 10", addr)
	}
}

func TestNewExtentContiguous(t *testing.T) {
	a := newTestAllocator(t, 100, 20)
	ext, err := a.NewExtent(8)
	if err != nil {
		t.Fatalf("NewExtent() error = %v", err)
	}
	if len(ext) != 1 || ext[0].Addr != 100 || ext[0].Len != 8 {
		t.Fatalf("NewExtent() = %+v, want single [100,108)", ext)
	}
	free, err := a.FreeBlocks()
	if err != nil {
		t.Fatalf("FreeBlocks() error = %v", err)
	}
	if free != 12 {
		t.Fatalf("FreeBlocks() = %d, want 12", free)
	}
}

func TestNewExtentFragmented(t *testing.T) {
	a := newTestAllocator(t, 0, 40)

	// allocate the entire pool, then free back two 3-block gaps
	for i := 0; i < 40; i++ {
		if _, err := a.NewBlock(); err != nil {
			t.Fatalf("NewBlock() error = %v", err)
		}
	}
	for _, addr := range []uint64{10, 11, 12, 25, 26, 27} {
		if err := a.DeleteBlock(addr); err != nil {
			t.Fatalf("DeleteBlock(%d) error = %v", addr, err)
		}
	}

	ext, err := a.NewExtent(6)
	if err != nil {
		t.Fatalf("NewExtent() error = %v", err)
	}
	var total uint64
	for _, e := range ext {
		total += e.Len
	}
	if total != 6 {
		t.Fatalf("NewExtent() returned total len %d, want 6", total)
	}
}

func TestSplitAndMergeAcrossManyFragments(t *testing.T) {
	a := newTestAllocator(t, 0, 200)

	var allocated []uint64
	for i := 0; i < 200; i++ {
		b, err := a.NewBlock()
		require.NoError(t, err)
		allocated = append(allocated, b)
	}

	// free every other block: forces >13 disjoint free extents, which
	// must split the leaf (and possibly grow a root) to hold them all
	for i := 0; i < len(allocated); i += 2 {
		require.NoError(t, a.DeleteBlock(allocated[i]))
	}

	free, err := a.FreeBlocks()
	require.NoError(t, err)
	require.Equal(t, uint64(100), free)

	// now return the other half too: every adjacent pair should
	// re-coalesce back down as merges propagate
	for i := 1; i < len(allocated); i += 2 {
		require.NoError(t, a.DeleteBlock(allocated[i]))
	}

	free, err = a.FreeBlocks()
	require.NoError(t, err)
	require.Equal(t, uint64(200), free, "FreeBlocks() after returning everything")

	// the whole range should again be available as one contiguous run
	ext, err := a.NewExtent(200)
	require.NoError(t, err)
	sort.Slice(ext, func(i, j int) bool { return ext[i].Addr < ext[j].Addr })
	require.Len(t, ext, 1, "NewExtent(200) should return one contiguous extent")
}
