package ext4

import (
	"time"

	"github.com/mkidv/rimgo/rimfs"
)

// modeFor derives the on-disk i_mode for a node: the S_IFDIR/S_IFREG
// high bits plus whatever permission bits the source attributes carry,
// unlike exFAT/FAT32 where only a read-only/directory bit survives.
func modeFor(isDir bool, fa rimfs.FileAttributes) uint16 {
	perm := uint16(fa.Mode & 0o7777)
	if isDir {
		return modeDir | perm
	}
	return modeFile | perm
}

func toFileAttributes(mode uint16) rimfs.FileAttributes {
	var fa rimfs.FileAttributes
	if mode&0xF000 == modeDir {
		fa = rimfs.DefaultDirAttributes()
	} else {
		fa = rimfs.DefaultFileAttributes()
	}
	fa.Mode = uint32(mode & 0o7777)
	return fa
}

// timestampOr returns t's Unix seconds, or now if t is nil — ext4
// stores every inode timestamp, unlike exFAT/FAT32 which only track a
// subset, so a missing source field always needs a concrete fallback.
func timestampOr(t *int64, now int64) uint32 {
	if t == nil {
		return uint32(now)
	}
	return uint32(*t)
}

func applyTimestamps(in *rawInode, fa rimfs.FileAttributes) {
	now := time.Now().Unix()
	in.CTime = timestampOr(fa.Created, now)
	in.MTime = timestampOr(fa.Modified, now)
	in.ATime = timestampOr(fa.Accessed, now)
}
