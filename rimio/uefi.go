package rimio

// BlockDevice is a block-addressed device contract, modeled on the
// block-I/O firmware services a UEFI boot loader would call (and, in
// this module, on the embedded flash contract the teacher package
// exposes as its own BlockDevice interface). Go code has no portable way
// to issue real UEFI Block I/O Protocol calls without cgo, so
// UefiRimIO targets this interface instead; a firmware shim satisfying
// it is the integration point for an actual UEFI build.
type BlockDevice interface {
	// ReadBlocks reads len(dst)/BlockSize() blocks starting at
	// startBlock.
	ReadBlocks(dst []byte, startBlock int64) (int, error)
	// WriteBlocks writes len(data)/BlockSize() blocks starting at
	// startBlock.
	WriteBlocks(data []byte, startBlock int64) (int, error)
	// BlockSize returns the device's native block size in bytes.
	BlockSize() int64
}

// UefiRimIO adapts a block-addressed BlockDevice to RimIO, performing
// read-modify-write on unaligned heads/tails with a scratch buffer
// covering every block the request touches (spec §4.1: "stack buffer ... heap for
// larger sector sizes when allocation is available").
type UefiRimIO struct {
	dev    BlockDevice
	offset uint64
}

func NewUefiRimIO(dev BlockDevice) *UefiRimIO {
	return &UefiRimIO{dev: dev}
}

func (u *UefiRimIO) blockSize() int64 { return u.dev.BlockSize() }

func (u *UefiRimIO) ReadAt(offset uint64, buf []byte) error {
	bs := u.blockSize()
	abs := int64(offset + u.offset)
	startBlock := abs / bs
	endBlock := (abs + int64(len(buf)) + bs - 1) / bs
	nblocks := endBlock - startBlock

	scratch := make([]byte, nblocks*bs)
	if _, err := u.dev.ReadBlocks(scratch, startBlock); err != nil {
		return wrap("uefi.read_at", err)
	}
	skip := abs - startBlock*bs
	copy(buf, scratch[skip:skip+int64(len(buf))])
	return nil
}

func (u *UefiRimIO) WriteAt(offset uint64, data []byte) error {
	bs := u.blockSize()
	abs := int64(offset + u.offset)
	startBlock := abs / bs
	endBlock := (abs + int64(len(data)) + bs - 1) / bs
	nblocks := endBlock - startBlock

	aligned := abs == startBlock*bs && int64(len(data))%bs == 0
	if aligned {
		_, err := u.dev.WriteBlocks(data, startBlock)
		return wrap("uefi.write_at", err)
	}

	// Unaligned head/tail: read-modify-write the covering block range.
	scratch := make([]byte, nblocks*bs)
	if _, err := u.dev.ReadBlocks(scratch, startBlock); err != nil {
		return wrap("uefi.write_at.rmw_read", err)
	}
	skip := abs - startBlock*bs
	copy(scratch[skip:skip+int64(len(data))], data)
	if _, err := u.dev.WriteBlocks(scratch, startBlock); err != nil {
		return wrap("uefi.write_at.rmw_write", err)
	}
	return nil
}

func (u *UefiRimIO) Flush() error { return nil }

func (u *UefiRimIO) SetOffset(partitionOffset uint64) uint64 {
	prev := u.offset
	u.offset = partitionOffset
	return prev
}

func (u *UefiRimIO) PartitionOffset() uint64 { return u.offset }

var _ RimIO = (*UefiRimIO)(nil)
