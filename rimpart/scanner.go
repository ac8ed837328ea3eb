package rimpart

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mkidv/rimgo/rimio"
)

// PartitionInfo is one scanned GPT entry, with byte offsets already
// derived from the sector size so callers don't have to.
type PartitionInfo struct {
	Index      int
	Kind       GptPartitionKind
	UniqueGUID [16]byte
	StartLBA   uint64
	EndLBA     uint64
	StartBytes uint64
	SizeBytes  uint64
	Attributes uint64
	Name       string
}

// DiskInfo is the result of a read-only partition-table scan: an
// existing disk image or block device is never modified by Scan.
type DiskInfo struct {
	MbrKind    MbrKind
	SectorSize uint64
	GptHeader  *GptHeader
	Partitions []PartitionInfo
}

// String renders a human-readable disk layout table, used by CLI
// front-ends and debug logging.
func (d DiskInfo) String() string {
	var b strings.Builder
	gptState := "absent"
	if d.GptHeader != nil {
		gptState = "present"
	}
	fmt.Fprintf(&b, "disk layout: sector=%s mbr=%s gpt=%s\n",
		humanize.Comma(int64(d.SectorSize)), d.MbrKind, gptState)
	for _, p := range d.Partitions {
		fmt.Fprintf(&b, "  + part[%d] name=%q type=%s lba=%d..%d size=%s\n",
			p.Index, p.Name, p.Kind, p.StartLBA, p.EndLBA, humanize.Bytes(p.SizeBytes))
	}
	return b.String()
}

// ScanWithSector detects the MBR kind, and if it's protective, reads and
// decodes the GPT header and partition table. It never fails merely
// because no GPT is present — only on I/O errors or a corrupt GPT that
// the protective MBR claims exists.
func ScanWithSector(rio rimio.RimIO, sectorSize uint64) (DiskInfo, error) {
	_, kind, err := ReadMBR(rio)
	if err != nil {
		return DiskInfo{}, wrap("scan", err)
	}

	info := DiskInfo{MbrKind: kind, SectorSize: sectorSize}
	if kind != MbrProtective {
		return info, nil
	}

	h, entries, err := ReadGptWithSector(rio, sectorSize)
	if err != nil {
		return DiskInfo{}, wrap("scan", err)
	}
	info.GptHeader = &h

	for idx, e := range entries {
		startBytes := e.StartLBA * sectorSize
		sizeLBA := e.EndLBA - e.StartLBA + 1
		sizeBytes := sizeLBA * sectorSize
		info.Partitions = append(info.Partitions, PartitionInfo{
			Index:      idx,
			Kind:       e.Kind(),
			UniqueGUID: e.UniqueGUID,
			StartLBA:   e.StartLBA,
			EndLBA:     e.EndLBA,
			StartBytes: startBytes,
			SizeBytes:  sizeBytes,
			Attributes: e.Attributes,
			Name:       DecodeGptName(e.Name),
		})
	}
	return info, nil
}

// Scan scans at the 512-byte default sector size.
func Scan(rio rimio.RimIO) (DiskInfo, error) {
	return ScanWithSector(rio, mbrSectorSize)
}
