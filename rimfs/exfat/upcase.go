package exfat

import "encoding/binary"

// upcaseUnit folds a single UTF-16 code unit the same way the on-disk
// up-case table below folds it: ASCII a-z to A-Z, everything else
// left as-is. A full Unicode case-folding table (the Microsoft
// default up-case table) isn't available anywhere in the retrieved
// reference material, so this package writes and honors a minimal
// ASCII-only table instead — legal per the exFAT spec, which only
// requires the table's stored checksum to match its own contents, not
// that it fold every code point.
func upcaseUnit(u uint16) uint16 {
	if u >= 'a' && u <= 'z' {
		return u - ('a' - 'A')
	}
	return u
}

// buildUpcaseTable returns the full uncompressed up-case table: one
// little-endian uint16 per BMP code point, each folded by upcaseUnit.
func buildUpcaseTable() []byte {
	buf := make([]byte, upcaseTableLength)
	for cp := 0; cp < 0x10000; cp++ {
		binary.LittleEndian.PutUint16(buf[cp*2:cp*2+2], upcaseUnit(uint16(cp)))
	}
	return buf
}

// upcaseTableChecksum is the same rotate-right(1)+wrapping-add
// accumulation the directory entry set checksum uses, just run over
// every byte of the table with a 32-bit accumulator instead of 16-bit.
func upcaseTableChecksum(table []byte) uint32 {
	var chk uint32
	for _, b := range table {
		chk = rotr32(chk) + uint32(b)
	}
	return chk
}
