package fat32

import "time"

// packedDate/packedTime are the on-disk DOS date/time halves shared by
// DIR_CrtDate/DIR_WrtDate/DIR_LstAccDate and DIR_CrtTime/DIR_WrtTime.
// Bit layout and the newDatetime construction are ported from the
// teacher's datetime type (sectors.go).
type packedDate uint16
type packedTime uint16

func newPackedDateTime(t time.Time) (date packedDate, clock packedTime, tenths uint8) {
	hour, min, sec := t.Clock()
	clock = packedTime(hour<<11 | min<<5 | sec/2)
	date = packedDate(uint16(t.Year()-1980)<<9 | uint16(t.Month())<<5 | uint16(t.Day()))
	tenths = uint8(t.Nanosecond()/10e6) + 100*uint8(sec%2)
	return
}

func dateTimeOf(date packedDate, clock packedTime) (year int, month time.Month, day, hour, min, sec int) {
	year = 1980 + int(date>>9)
	month = time.Month((date >> 5) & 0xf)
	day = int(date & 0x1f)
	hour = int(clock >> 11)
	min = int((clock >> 5) & 0x3f)
	sec = 2 * int(clock&0x1f)
	return
}
