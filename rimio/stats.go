package rimio

// IoStats counts calls and bytes moved through a StatsIO decorator.
// Useful for the checker's "deep FAT walk" cost accounting (spec §9 open
// question: "a bounded sampling heuristic could be added" — exposing the
// counters is the minimal building block for that).
type IoStats struct {
	Reads, ReadBytes   uint64
	Writes, WriteBytes uint64
	Flushes            uint64
	MaxRead, MaxWrite  uint64
}

func (s *IoStats) reset() { *s = IoStats{} }

func (s *IoStats) IsEmpty() bool {
	return s.Reads == 0 && s.Writes == 0 && s.Flushes == 0
}

func (s *IoStats) AvgRead() uint64 {
	if s.Reads == 0 {
		return 0
	}
	return s.ReadBytes / s.Reads
}

func (s *IoStats) AvgWrite() uint64 {
	if s.Writes == 0 {
		return 0
	}
	return s.WriteBytes / s.Writes
}

func (s *IoStats) Merge(other *IoStats) {
	s.Reads += other.Reads
	s.ReadBytes += other.ReadBytes
	s.Writes += other.Writes
	s.WriteBytes += other.WriteBytes
	s.Flushes += other.Flushes
	if other.MaxRead > s.MaxRead {
		s.MaxRead = other.MaxRead
	}
	if other.MaxWrite > s.MaxWrite {
		s.MaxWrite = other.MaxWrite
	}
}

// StatsIO wraps a RimIO and transparently records IoStats for every
// call, passing through to the wrapped backend unmodified.
type StatsIO struct {
	Inner RimIO
	Stats IoStats
}

func NewStatsIO(inner RimIO) *StatsIO {
	return &StatsIO{Inner: inner}
}

func (s *StatsIO) ReadAt(offset uint64, buf []byte) error {
	err := s.Inner.ReadAt(offset, buf)
	if err == nil {
		s.Stats.Reads++
		s.Stats.ReadBytes += uint64(len(buf))
		if uint64(len(buf)) > s.Stats.MaxRead {
			s.Stats.MaxRead = uint64(len(buf))
		}
	}
	return err
}

func (s *StatsIO) WriteAt(offset uint64, data []byte) error {
	err := s.Inner.WriteAt(offset, data)
	if err == nil {
		s.Stats.Writes++
		s.Stats.WriteBytes += uint64(len(data))
		if uint64(len(data)) > s.Stats.MaxWrite {
			s.Stats.MaxWrite = uint64(len(data))
		}
	}
	return err
}

func (s *StatsIO) Flush() error {
	err := s.Inner.Flush()
	if err == nil {
		s.Stats.Flushes++
	}
	return err
}

func (s *StatsIO) SetOffset(partitionOffset uint64) uint64 {
	return s.Inner.SetOffset(partitionOffset)
}

func (s *StatsIO) PartitionOffset() uint64 { return s.Inner.PartitionOffset() }

// ResetStats zeroes the accumulated counters.
func (s *StatsIO) ResetStats() { s.Stats.reset() }

var _ RimIO = (*StatsIO)(nil)
