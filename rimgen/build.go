package rimgen

import (
	"context"

	"github.com/dsoprea/go-logging"
	"github.com/dustin/go-humanize"

	"github.com/mkidv/rimgo/rimfs"
	"github.com/mkidv/rimgo/rimfs/ext4"
	"github.com/mkidv/rimgo/rimfs/exfat"
	"github.com/mkidv/rimgo/rimfs/fat32"
	"github.com/mkidv/rimgo/rimio"
	"github.com/mkidv/rimgo/rimpart"
)

var rlog = log.NewLogger("rimgo.rimgen")

var bgCtx = context.Background()

// estimateSizeBytes returns a rough but safe minimum partition footprint
// for a tree an engine hasn't sized yet: fixed metadata overhead plus one
// allocation unit's worth of slack per file/directory, so a SizeBytes of
// 0 in a PartitionSpec can be resolved before any engine-specific Meta
// exists to ask.
func estimateSizeBytes(node *rimfs.FsNode) uint64 {
	const baseOverhead = 16 * 1024 * 1024
	const perEntrySlack = 4096

	var counts rimfs.NodeCounts
	if node != nil {
		counts = node.Counts()
	}
	return baseOverhead + counts.Bytes + uint64(counts.Files+counts.Dirs)*perEntrySlack
}

func (p PartitionSpec) sizeBytes() uint64 {
	if p.SizeBytes != 0 {
		return p.SizeBytes
	}
	return estimateSizeBytes(p.Source)
}

// Build writes a protective MBR and a primary+backup GPT onto rio, then
// formats and populates every partition in plan.Partitions, in order.
// Partitions are placed greedily via rimpart.MakeAlignedEntriesFit; a
// request that doesn't fit the remaining usable range or entry table
// causes Build to fail with ErrNoSlotsLeft rather than silently dropping
// it.
func Build(rio rimio.RimIO, plan Plan) (*BuildReport, error) {
	if len(plan.Partitions) == 0 {
		return nil, wrap("build", ErrNoPartitions)
	}

	sectorSize := plan.sectorSize()
	totalSectors := plan.TotalBytes / sectorSize
	diskGUID := plan.DiskGUID
	if diskGUID == ([16]byte{}) {
		diskGUID = rimpart.NewDiskGUID()
	}

	rlog.Debugf(bgCtx, "planning image: capacity=%s sector_size=%d partitions=%d",
		humanize.Bytes(plan.TotalBytes), sectorSize, len(plan.Partitions))

	header, err := rimpart.NewGptHeaderWithTable(sectorSize, totalSectors, diskGUID,
		rimpart.GptDefaultNumEntries, rimpart.GptDefaultEntrySize)
	if err != nil {
		return nil, wrap("build", err)
	}

	reqs := make([]rimpart.PartitionRequest, len(plan.Partitions))
	for i, spec := range plan.Partitions {
		if spec.Engine == EngineRaw && spec.SizeBytes == 0 {
			return nil, wrap("build", ErrAutoSizeNotSupported)
		}
		unique := spec.UniqueGUID
		if unique == ([16]byte{}) {
			unique = rimpart.NewPartitionGUID()
		}
		sectors := (spec.sizeBytes() + sectorSize - 1) / sectorSize
		reqs[i] = rimpart.PartitionRequest{
			TypeGUID:   spec.TypeGUID,
			UniqueGUID: unique,
			LenSectors: sectors,
			Attributes: spec.Attributes,
			Name:       spec.Name,
		}
	}

	entries := rimpart.MakeAlignedEntriesFit(header, sectorSize, reqs)
	if len(entries) != len(reqs) {
		return nil, wrap("build", ErrNoSlotsLeft)
	}

	var lastUsedLBA uint64
	for _, e := range entries {
		if e.EndLBA > lastUsedLBA {
			lastUsedLBA = e.EndLBA
		}
	}

	if plan.Truncate {
		entriesSectors := (uint64(header.NumEntries)*uint64(header.EntrySize) + sectorSize - 1) / sectorSize
		tail := entriesSectors + 1
		finalTotalSectors := lastUsedLBA + 1 + tail
		if finalTotalSectors < totalSectors {
			header.BackupLBA = finalTotalSectors - 1
			totalSectors = finalTotalSectors
			if sizer, ok := rio.(rimio.SetLenner); ok {
				if err := sizer.SetLen(totalSectors * sectorSize); err != nil {
					return nil, wrap("build", err)
				}
			}
			rlog.Debugf(bgCtx, "truncating image to %s", humanize.Bytes(totalSectors*sectorSize))
		}
	}

	if err := rimpart.WriteMBRProtective(rio, totalSectors); err != nil {
		return nil, wrap("build", err)
	}
	if err := rimpart.WriteGptWithHeader(rio, header, entries, sectorSize); err != nil {
		return nil, wrap("build", err)
	}

	report := &BuildReport{TotalBytes: totalSectors * sectorSize}
	for i, spec := range plan.Partitions {
		entry := entries[i]
		sizeBytes := (entry.EndLBA - entry.StartLBA + 1) * sectorSize

		rlog.Infof(bgCtx, "partition %q: engine=%s lba=%d..%d size=%s",
			spec.Name, spec.Engine, entry.StartLBA, entry.EndLBA, humanize.Bytes(sizeBytes))

		rio.SetOffset(entry.StartLBA * sectorSize)
		findings, err := buildPartition(rio, spec, sizeBytes)
		if err != nil {
			return nil, wrap("build_partition["+spec.Name+"]", err)
		}

		report.Partitions = append(report.Partitions, PartitionReport{
			Name:         spec.Name,
			Engine:       spec.Engine,
			StartLBA:     entry.StartLBA,
			EndLBA:       entry.EndLBA,
			BytesWritten: sizeBytes,
			Findings:     findings,
		})
	}
	rio.SetOffset(0)

	if err := rio.Flush(); err != nil {
		return nil, wrap("build", err)
	}
	return report, nil
}

// buildPartition runs one partition's format -> inject -> check
// sequence against rio, already rebased to that partition's start.
func buildPartition(rio rimio.RimIO, spec PartitionSpec, sizeBytes uint64) (*rimfs.Report, error) {
	switch spec.Engine {
	case EngineRaw:
		if spec.FullFormat {
			if err := rimio.ZeroFill(rio, 0, int(sizeBytes)); err != nil {
				return nil, err
			}
		}
		return nil, nil

	case EngineFAT32:
		meta := fat32.NewMeta(sizeBytes, spec.Label)
		if err := fat32.Format(rio, meta, spec.Label, spec.FullFormat); err != nil {
			return nil, err
		}
		alloc := fat32.NewAllocator(meta)
		inj := fat32.NewInjector(rio, meta, alloc)
		if err := inj.BuildTree(rootOrEmpty(spec.Source)); err != nil {
			return nil, err
		}
		checker := fat32.NewChecker(rio, meta, fat32.DefaultCheckOptions())
		return checker.FastCheck()

	case EngineExFAT:
		meta := exfat.NewMeta(sizeBytes, spec.Label)
		if err := exfat.Format(rio, meta, spec.Label, spec.FullFormat); err != nil {
			return nil, err
		}
		alloc := exfat.NewAllocator(meta)
		inj := exfat.NewInjector(rio, meta, alloc)
		if err := inj.BuildTree(rootOrEmpty(spec.Source)); err != nil {
			return nil, err
		}
		checker := exfat.NewChecker(rio, meta, exfat.DefaultCheckOptions())
		return checker.FastCheck()

	case EngineEXT4:
		meta := ext4.NewMeta(sizeBytes, spec.Label)
		if err := ext4.Format(rio, meta, spec.Label, spec.FullFormat); err != nil {
			return nil, err
		}
		alloc := ext4.NewAllocator(meta)
		inj, err := ext4.NewInjector(rio, meta, alloc)
		if err != nil {
			return nil, err
		}
		if err := inj.BuildTree(rootOrEmpty(spec.Source)); err != nil {
			return nil, err
		}
		opts := ext4.DefaultCheckOptions()
		opts.WalkReachability = true
		checker := ext4.NewChecker(rio, meta, opts)
		return checker.FastCheck()

	default:
		return nil, ErrEngineUnsupported
	}
}

func rootOrEmpty(node *rimfs.FsNode) *rimfs.FsNode {
	if node != nil {
		return node
	}
	return rimfs.NewContainer(nil, rimfs.DefaultDirAttributes())
}
