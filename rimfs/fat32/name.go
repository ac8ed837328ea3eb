package fat32

import (
	"strings"
	"unicode/utf16"
)

// lfnChecksum is the standard FAT LFN checksum over the 11-byte SFN,
// used to tie every LFN piece back to its SFN entry.
func lfnChecksum(sfn [11]byte) byte {
	var sum byte
	for _, b := range sfn {
		sum = (sum>>1 | sum<<7) + b
	}
	return sum
}

// needsLongName reports whether name can't be represented as a plain
// 8.3 short name: length, forbidden characters, any lowercase letter,
// or an extension past the first dot.
func needsLongName(name string) bool {
	if name == "" || len(name) > 12 {
		return true
	}
	base, ext, hasExt := strings.Cut(name, ".")
	if hasExt && strings.Contains(ext, ".") {
		return true
	}
	if len(base) > 8 || len(ext) > 3 {
		return true
	}
	for _, r := range name {
		if r == '.' {
			continue
		}
		if r < 0x20 || r > 0x7E {
			return true
		}
		if strings.ContainsRune(`"*+,/:;<=>?[\]|`, r) {
			return true
		}
		if r >= 'a' && r <= 'z' {
			return true
		}
	}
	return false
}

// toShortName produces the 11-byte padded SFN and reports whether an
// LFN set is also required. When name doesn't fit 8.3, a numbered tail
// (~N) is synthesized from the first 6 uppercased base characters —
// the classic Windows basis-name scheme.
func toShortName(name string, ordinal int) (sfn [11]byte, isLFN bool) {
	for i := range sfn {
		sfn[i] = ' '
	}
	if !needsLongName(name) {
		base, ext, _ := strings.Cut(name, ".")
		copy(sfn[0:8], strings.ToUpper(base))
		copy(sfn[8:11], strings.ToUpper(ext))
		return sfn, false
	}

	base, ext, _ := strings.Cut(name, ".")
	base = sanitizeBasis(base)
	ext = sanitizeBasis(ext)
	if len(ext) > 3 {
		ext = ext[:3]
	}

	tail := numericTail(ordinal)
	keep := 8 - len(tail)
	if keep > len(base) {
		keep = len(base)
	}
	if keep < 0 {
		keep = 0
	}
	copy(sfn[0:8], base[:keep]+tail)
	copy(sfn[8:11], ext)
	return sfn, true
}

func sanitizeBasis(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		switch {
		case r == ' ', r == '.':
			continue
		case r < 0x20 || r > 0x7E:
			b.WriteByte('_')
		case strings.ContainsRune(`"*+,/:;<=>?[\]|`, r):
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func numericTail(ordinal int) string {
	return "~" + itoaSmall(ordinal)
}

func itoaSmall(n int) string {
	if n <= 0 {
		n = 1
	}
	var digits [6]byte
	i := len(digits)
	for n > 0 {
		i--
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	return string(digits[i:])
}

// lfnPieceCount returns how many 13-UTF16-unit pieces name needs.
func lfnPieceCount(units []uint16) int {
	n := (len(units) + 12) / 13
	if n == 0 {
		n = 1
	}
	return n
}

// buildLFNEntries encodes name into its on-disk LFN pieces, ordered
// last-piece-first as the directory expects them written (the SFN
// follows immediately after). Each piece is padded with a 0x0000
// terminator then 0xFFFF filler past the name's end, per the FAT spec.
func buildLFNEntries(name string, sfn [11]byte) []lfnEntry {
	units := utf16.Encode([]rune(name))
	pieces := lfnPieceCount(units)
	chk := lfnChecksum(sfn)

	out := make([]lfnEntry, pieces)
	for p := 0; p < pieces; p++ {
		start := p * 13
		end := start + 13
		var chunk [13]uint16
		for i := range chunk {
			chunk[i] = 0xFFFF
		}
		for i := 0; start+i < len(units) && i < 13; i++ {
			chunk[i] = units[start+i]
		}
		if end >= len(units) {
			term := len(units) - start
			if term >= 0 && term < 13 {
				chunk[term] = 0x0000
			}
		}
		order := byte(p + 1)
		last := p == pieces-1
		out[pieces-1-p] = newLFNEntry(order, last, chunk, chk)
	}
	return out
}

// decodeLFN reconstructs a name from LFN pieces in on-disk order
// (first piece on disk carries the LAST flag and the tail of the
// name); pieces is expected newest-first as the resolver collects
// them walking forward through a directory.
func decodeLFN(pieces []lfnEntry) string {
	if len(pieces) == 0 {
		return ""
	}
	units := make([]uint16, 0, len(pieces)*13)
	for i := len(pieces) - 1; i >= 0; i-- {
		chunk := pieces[i].extractUTF16()
		for _, u := range chunk {
			if u == 0x0000 {
				return string(utf16.Decode(units))
			}
			units = append(units, u)
		}
	}
	return string(utf16.Decode(units))
}

func decodeSFN(sfn [11]byte) string {
	base := strings.TrimRight(string(sfn[0:8]), " ")
	ext := strings.TrimRight(string(sfn[8:11]), " ")
	name := strings.ToLower(base)
	if ext != "" {
		name += "." + strings.ToLower(ext)
	}
	return name
}
