package exfat

import "time"

// packTimestamp lays out exFAT's 32-bit DOS-derived timestamp: 7 bits
// year-from-1980, 4 bits month, 5 bits day, 5 bits hour, 6 bits
// minute, 5 bits double-seconds. The 10ms increment recovers the
// second's odd half and sub-second precision that the 2-second
// granularity of the packed field throws away.
func packTimestamp(t time.Time) (ts uint32, tenMS uint8) {
	hour, min, sec := t.Clock()
	ts = uint32(t.Year()-1980)<<25 |
		uint32(t.Month())<<21 |
		uint32(t.Day())<<16 |
		uint32(hour)<<11 |
		uint32(min)<<5 |
		uint32(sec/2)
	tenMS = uint8(t.Nanosecond()/10_000_000) + 100*uint8(sec%2)
	return
}

// unpackTimestamp reverses packTimestamp. UTC offset fields are
// intentionally left unmodeled: this package always writes an
// unspecified ("OffsetValid" clear) UTC offset, the same simplified
// posture most minimal exFAT writers take.
func unpackTimestamp(ts uint32) time.Time {
	year := 1980 + int(ts>>25)
	month := time.Month((ts >> 21) & 0xF)
	day := int((ts >> 16) & 0x1F)
	hour := int((ts >> 11) & 0x1F)
	min := int((ts >> 5) & 0x3F)
	sec := 2 * int(ts&0x1F)
	return time.Date(year, month, day, hour, min, sec, 0, time.UTC)
}
