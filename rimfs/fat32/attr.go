package fat32

import "github.com/mkidv/rimgo/rimfs"

// attr is the on-disk DIR_Attr byte. Grounded on the teacher's fileattr
// accessor style (sectors.go), generalized to the handful of bits the
// injector/resolver actually set or test.
type attr byte

const (
	attrReadOnly attr = 1 << 0
	attrHidden   attr = 1 << 1
	attrSystem   attr = 1 << 2
	attrVolumeID attr = 1 << 3
	attrDir      attr = 1 << 4
	attrArchive  attr = 1 << 5
	attrLongName attr = attrReadOnly | attrHidden | attrSystem | attrVolumeID
)

func (a attr) IsLongName() bool { return a == attrLongName }
func (a attr) IsVolumeID() bool { return a&attrVolumeID != 0 }
func (a attr) IsDir() bool      { return a&attrDir != 0 }

// dirAttrFor derives the DIR_Attr byte for a node: directories get
// attrDir, files get attrArchive plus attrReadOnly when the mode has
// no owner-write bit.
func dirAttrFor(isDir bool, fa rimfs.FileAttributes) attr {
	if isDir {
		return attrDir
	}
	a := attrArchive
	if fa.Mode&0o200 == 0 {
		a |= attrReadOnly
	}
	return a
}

// toFileAttributes reconstructs a rimfs.FileAttributes from an on-disk
// attr byte. Only the read-only/directory bit is recoverable; the rest
// of Mode falls back to the engine defaults.
func toFileAttributes(a attr) rimfs.FileAttributes {
	if a.IsDir() {
		return rimfs.DefaultDirAttributes()
	}
	fa := rimfs.DefaultFileAttributes()
	if a&attrReadOnly != 0 {
		fa.Mode &^= 0o200
	}
	return fa
}
