package rimio

import (
	"encoding/binary"

	"github.com/go-restruct/restruct"
)

// ReadStruct reads the on-disk C-layout representation of a struct into
// out (which must be a pointer), the little-endian analogue of the
// teacher pack's zerocopy::FromBytes contract. Structs are declared with
// `struct:"..."` field tags where a fixed layout isn't implied by the
// Go type alone (see rimpart.GptHeader, fat32's on-disk entries, etc).
func ReadStruct(rio RimIO, offset uint64, out interface{}) error {
	size, err := restruct.SizeOf(out)
	if err != nil {
		return wrap("read_struct.sizeof", err)
	}
	buf := make([]byte, size)
	if err := rio.ReadAt(offset, buf); err != nil {
		return wrap("read_struct.read", err)
	}
	if err := restruct.Unpack(buf, binary.LittleEndian, out); err != nil {
		return wrap("read_struct.unpack", err)
	}
	return nil
}

// WriteStruct packs val (the C-layout on-disk representation) and writes
// it at offset.
func WriteStruct(rio RimIO, offset uint64, val interface{}) error {
	buf, err := restruct.Pack(binary.LittleEndian, val)
	if err != nil {
		return wrap("write_struct.pack", err)
	}
	return wrap("write_struct.write", rio.WriteAt(offset, buf))
}
