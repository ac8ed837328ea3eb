package rimgen

import "github.com/mkidv/rimgo/rimfs"

// PartitionReport summarizes one partition's build: its placement, the
// engine that formatted it, and the checker findings collected against
// the freshly written partition.
type PartitionReport struct {
	Name         string
	Engine       EngineKind
	StartLBA     uint64
	EndLBA       uint64
	BytesWritten uint64
	Findings     *rimfs.Report
}

// BuildReport is Build's richer result type: which partitions landed
// where, what each engine's checker found, and the image's final size
// after optional truncation.
type BuildReport struct {
	TotalBytes uint64
	Partitions []PartitionReport
}

// HasError reports whether any partition's checker findings contain an
// Err-severity finding.
func (r *BuildReport) HasError() bool {
	for _, p := range r.Partitions {
		if p.Findings != nil && p.Findings.HasError() {
			return true
		}
	}
	return false
}
