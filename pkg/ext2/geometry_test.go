package ext2

import "testing"

func TestGeometryInvariant(t *testing.T) {

	// every group must account for exactly blocksPerGroup blocks
	sizes := []int64{
		16 * 1024 * 1024,
		32 * 1024 * 1024,
		64 * 1024 * 1024,
		256 * 1024 * 1024,
		1024 * 1024 * 1024,
	}

	for _, size := range sizes {
		geo, err := CalcGeometry(size)
		if err != nil {
			t.Fatalf("CalcGeometry(%d) failed: %v", size, err)
		}

		sum := 3 + geo.GroupDescBlocks + geo.InodeTableBlocks + geo.DataBlocks
		if sum != geo.BlocksPerGroup {
			t.Fatalf("CalcGeometry(%d): group accounting sums to %d, want %d", size, sum, geo.BlocksPerGroup)
		}

		if geo.BlocksPerGroup != MaxBlocksPerGroup {
			t.Fatalf("CalcGeometry(%d): blocks per group %d, want %d", size, geo.BlocksPerGroup, int64(MaxBlocksPerGroup))
		}

		expectGroups := (size/BlockSize - 1) / MaxBlocksPerGroup
		if geo.Groups != expectGroups {
			t.Fatalf("CalcGeometry(%d): %d groups, want %d", size, geo.Groups, expectGroups)
		}
	}
}

func TestGeometryInodeSpace(t *testing.T) {

	geo, err := CalcGeometry(64 * 1024 * 1024)
	if err != nil {
		t.Fatal(err)
	}

	// the inode table plus the data each inode is presumed to address must
	// fit in the non-metadata span of the group
	used := geo.InodesPerGroup * (BytesPerInode + InodeSize)
	space := (geo.BlocksPerGroup - 3 - geo.GroupDescBlocks) * BlockSize
	if used > space {
		t.Fatalf("inodes per group oversubscribes the group: %d > %d", used, space)
	}
	if (geo.InodesPerGroup+1)*(BytesPerInode+InodeSize) <= space {
		t.Fatalf("inodes per group leaves room for another inode")
	}

	if geo.InodesPerGroup > 8*BlockSize {
		t.Fatalf("inodes per group %d exceeds the inode bitmap capacity", geo.InodesPerGroup)
	}
}

func TestGeometryTooSmall(t *testing.T) {

	// one full group needs the boot block plus 8*BlockSize blocks
	_, err := CalcGeometry(8 * 1024 * 1024)
	if err == nil {
		t.Fatalf("CalcGeometry accepted a disk with no room for a full group")
	}

	if _, ok := err.(ErrGeometry); !ok {
		t.Fatalf("expected ErrGeometry, got %T", err)
	}
}
