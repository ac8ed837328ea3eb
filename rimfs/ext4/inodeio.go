package ext4

import "github.com/mkidv/rimgo/rimio"

// inodeOffset returns the absolute byte offset of inode's on-disk slot
// in its group's inode table.
func inodeOffset(meta Meta, inode uint32) uint64 {
	group, idx := meta.groupOfInode(inode)
	layout := ComputeGroupLayout(meta, group)
	return meta.UnitOffset(layout.InodeTableBlock) + uint64(idx)*uint64(meta.inodeSize)
}

func writeInodeAt(rio rimio.RimIO, meta Meta, inode uint32, in rawInode) error {
	return rio.WriteAt(inodeOffset(meta, inode), packInode(in))
}

func readInodeAt(rio rimio.RimIO, meta Meta, inode uint32) (rawInode, error) {
	buf := make([]byte, rawInodeEncodedSize)
	if err := rio.ReadAt(inodeOffset(meta, inode), buf); err != nil {
		return rawInode{}, err
	}
	return unpackInode(buf), nil
}
