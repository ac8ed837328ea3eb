package exfat

import "github.com/mkidv/rimgo/rimfs"

// fileAttrFor derives the exFAT FileAttributes word for a node:
// directories get attrDirectory, files get attrArchive plus
// attrReadOnly when the mode has no owner-write bit.
func fileAttrFor(isDir bool, fa rimfs.FileAttributes) uint16 {
	if isDir {
		return attrDirectory
	}
	a := attrArchive
	if fa.Mode&0o200 == 0 {
		a |= attrReadOnly
	}
	return a
}

func isDirAttr(a uint16) bool { return a&attrDirectory != 0 }

// toFileAttributes reconstructs a rimfs.FileAttributes from an on-disk
// FileAttributes word. Only the read-only/directory bit is
// recoverable; the rest of Mode falls back to the engine defaults.
func toFileAttributes(a uint16) rimfs.FileAttributes {
	if isDirAttr(a) {
		return rimfs.DefaultDirAttributes()
	}
	fa := rimfs.DefaultFileAttributes()
	if a&attrReadOnly != 0 {
		fa.Mode &^= 0o200
	}
	return fa
}
