package rimpart

import "github.com/google/uuid"

// toMixedEndian converts a standard (big-endian, RFC 4122) UUID into the
// mixed-endian wire layout the GPT spec uses for disk_guid, unique_guid,
// and partition_type_guid fields: the first three fields are stored
// little-endian, the last two (clock-seq + node) are stored as-is.
func toMixedEndian(u uuid.UUID) [16]byte {
	var b [16]byte
	b[0], b[1], b[2], b[3] = u[3], u[2], u[1], u[0]
	b[4], b[5] = u[5], u[4]
	b[6], b[7] = u[7], u[6]
	copy(b[8:], u[8:16])
	return b
}

func fromMixedEndian(b [16]byte) uuid.UUID {
	var u uuid.UUID
	u[0], u[1], u[2], u[3] = b[3], b[2], b[1], b[0]
	u[4], u[5] = b[5], b[4]
	u[6], u[7] = b[7], b[6]
	copy(u[8:16], b[8:])
	return u
}

func mustParseGUID(s string) [16]byte {
	return toMixedEndian(uuid.MustParse(s))
}

// NewDiskGUID mints a fresh random GPT disk GUID.
func NewDiskGUID() [16]byte { return toMixedEndian(uuid.New()) }

// NewPartitionGUID mints a fresh random unique partition GUID.
func NewPartitionGUID() [16]byte { return toMixedEndian(uuid.New()) }

// GUIDString formats a wire-layout GUID field for display/logging.
func GUIDString(b [16]byte) string { return fromMixedEndian(b).String() }

// Well-known GPT partition type GUIDs.
var (
	GptPartitionTypeESP         = mustParseGUID("C12A7328-F81F-11D2-BA4B-00A0C93EC93B")
	GptPartitionTypeMSBasicData = mustParseGUID("EBD0A0A2-B9E5-4433-87C0-68B6B72699C7")
	GptPartitionTypeLinuxFS     = mustParseGUID("0FC63DAF-8483-4772-8E79-3D69D8477DE4")
	GptPartitionTypeLinuxSwap   = mustParseGUID("0657FD6D-A4AB-43C4-84E5-0933C84B4F4F")
	GptPartitionTypeLinuxLVM    = mustParseGUID("E6D6D379-F507-44C2-A23C-238F2A3DF928")
)

// GptPartitionKind classifies a partition type GUID into a human name,
// falling back to the raw GUID string when it isn't one of the
// well-known kinds.
type GptPartitionKind struct {
	name    string
	unknown [16]byte
	isKnown bool
}

func (k GptPartitionKind) String() string {
	if k.isKnown {
		return k.name
	}
	return "unknown (" + GUIDString(k.unknown) + ")"
}

func (k GptPartitionKind) IsKnown() bool { return k.isKnown }

// GptKindFromGUID classifies a raw wire-layout type GUID.
func GptKindFromGUID(g [16]byte) GptPartitionKind {
	switch g {
	case GptPartitionTypeESP:
		return GptPartitionKind{name: "EFI System Partition", isKnown: true}
	case GptPartitionTypeMSBasicData:
		return GptPartitionKind{name: "Microsoft Basic Data", isKnown: true}
	case GptPartitionTypeLinuxFS:
		return GptPartitionKind{name: "Linux Filesystem Data", isKnown: true}
	case GptPartitionTypeLinuxSwap:
		return GptPartitionKind{name: "Linux Swap", isKnown: true}
	case GptPartitionTypeLinuxLVM:
		return GptPartitionKind{name: "Linux LVM", isKnown: true}
	default:
		return GptPartitionKind{unknown: g}
	}
}
