package types

import "strconv"

// HandleID is the opaque identifier a caller uses to refer to an open dataset
// file across calls. Zero is never a valid handle.
type HandleID uint64

// ModelID names a storage-backend family implementing the dispatch contract.
//
// The enumeration is append-only and part of the compatibility surface:
// identifiers are never renumbered or reused. New backends add new values.
type ModelID int32

const (
	ModelUnknown   ModelID = 0
	ModelClassic   ModelID = 1 // flat binary, 32-bit offsets
	ModelClassic64 ModelID = 2 // flat binary, 64-bit offsets
	ModelEnhanced  ModelID = 3 // hierarchical container
	ModelRemote2   ModelID = 4 // remote protocol, revision 2
	ModelRemote4   ModelID = 5 // remote protocol, revision 4
	ModelParallel  ModelID = 6 // parallel I/O over the flat binary layout
)

// String returns the model's canonical name.
func (m ModelID) String() string {
	switch m {
	case ModelClassic:
		return "classic"
	case ModelClassic64:
		return "classic64"
	case ModelEnhanced:
		return "enhanced"
	case ModelRemote2:
		return "remote2"
	case ModelRemote4:
		return "remote4"
	case ModelParallel:
		return "parallel"
	default:
		return "unknown"
	}
}

// DataType enumerates the primitive element kinds usable as either a variable
// or attribute storage type or as a caller's in-memory buffer type.
type DataType int32

const (
	TypeNone    DataType = 0
	TypeByte    DataType = 1  // int8
	TypeUByte   DataType = 2  // uint8
	TypeInt16   DataType = 3
	TypeUInt16  DataType = 4
	TypeInt32   DataType = 5
	TypeUInt32  DataType = 6
	TypeInt64   DataType = 7
	TypeUInt64  DataType = 8
	TypeFloat32 DataType = 9
	TypeFloat64 DataType = 10
	TypeChar    DataType = 11 // single byte character
	TypeString  DataType = 12 // variable-length string

	// TypeNativeInt is the platform-native-width integer. It never reaches a
	// backend: Normalize maps it to TypeInt32 or TypeInt64 depending on the
	// platform word size, so backends need no platform special-casing.
	TypeNativeInt DataType = 13
)

// String returns the type's canonical name.
func (t DataType) String() string {
	switch t {
	case TypeByte:
		return "byte"
	case TypeUByte:
		return "ubyte"
	case TypeInt16:
		return "int16"
	case TypeUInt16:
		return "uint16"
	case TypeInt32:
		return "int32"
	case TypeUInt32:
		return "uint32"
	case TypeInt64:
		return "int64"
	case TypeUInt64:
		return "uint64"
	case TypeFloat32:
		return "float32"
	case TypeFloat64:
		return "float64"
	case TypeChar:
		return "char"
	case TypeString:
		return "string"
	case TypeNativeInt:
		return "int"
	default:
		return "none"
	}
}

// Normalize maps the platform-native integer type to its fixed-width
// equivalent. All other types pass through unchanged.
func (t DataType) Normalize() DataType {
	if t == TypeNativeInt {
		if strconv.IntSize == 64 {
			return TypeInt64
		}
		return TypeInt32
	}
	return t
}

// Valid reports whether t is a member of the enumeration (after normalization).
func (t DataType) Valid() bool {
	return t >= TypeByte && t <= TypeNativeInt
}

// IsNumeric reports whether t is an integer or floating-point kind.
func (t DataType) IsNumeric() bool {
	switch t.Normalize() {
	case TypeByte, TypeUByte, TypeInt16, TypeUInt16, TypeInt32, TypeUInt32,
		TypeInt64, TypeUInt64, TypeFloat32, TypeFloat64:
		return true
	default:
		return false
	}
}

// CreateFlags is the creation-mode flag bitset accepted by the create entry
// point.
type CreateFlags uint32

const (
	// CreateEnhanced selects the hierarchical (enhanced) storage model.
	CreateEnhanced CreateFlags = 1 << 0
	// Create64BitOffset selects the 64-bit-offset flat binary variant.
	Create64BitOffset CreateFlags = 1 << 1
	// CreateClassicModel restricts an enhanced file to the classic data model.
	CreateClassicModel CreateFlags = 1 << 2
	// CreateParallel selects the parallel I/O backend.
	CreateParallel CreateFlags = 1 << 3
	// CreateDiskless keeps the file in memory and never persists it.
	CreateDiskless CreateFlags = 1 << 4
	// CreateRemoteV4 selects protocol revision 4 for URL-shaped paths.
	CreateRemoteV4 CreateFlags = 1 << 5
	// CreateNoClobber refuses to overwrite an existing file.
	CreateNoClobber CreateFlags = 1 << 6
)

// Has reports whether all bits of mask are set.
func (f CreateFlags) Has(mask CreateFlags) bool { return f&mask == mask }

// OpenFlags is the open-mode flag bitset accepted by the open entry point.
type OpenFlags uint32

const (
	// OpenWrite opens the file for modification; absent it, the handle is
	// read-only.
	OpenWrite OpenFlags = 1 << 0
	// OpenShare relaxes consistency for concurrent readers.
	OpenShare OpenFlags = 1 << 1
	// OpenParallel selects the parallel I/O backend.
	OpenParallel OpenFlags = 1 << 2
	// OpenEnhanced asserts the file uses the enhanced layout; contradicting
	// the probed on-disk format is a hard error.
	OpenEnhanced OpenFlags = 1 << 3
	// Open64BitOffset asserts the file uses the 64-bit-offset flat layout;
	// contradicting the probed on-disk format is a hard error.
	Open64BitOffset OpenFlags = 1 << 4
	// OpenRemoteV4 selects protocol revision 4 for URL-shaped paths.
	OpenRemoteV4 OpenFlags = 1 << 5
	// OpenDiskless loads the file into memory and never writes it back.
	OpenDiskless OpenFlags = 1 << 6
)

// Has reports whether all bits of mask are set.
func (f OpenFlags) Has(mask OpenFlags) bool { return f&mask == mask }

// OpenParams carries the union of create/open parameters understood by any
// backend. Each backend ignores the fields it does not need; Params is the
// open-ended blob for backend-specific settings.
type OpenParams struct {
	CreateFlags CreateFlags
	OpenFlags   OpenFlags

	InitialSize   int64
	BasePE        int
	ChunkSizeHint int64
	UseParallel   bool

	Params map[string]interface{}
}

// GlobalVar is the variable id addressing file-global attributes.
const GlobalVar = -1

// DimInfo describes a declared dimension.
type DimInfo struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// VarInfo describes a declared variable: its storage type and shape.
type VarInfo struct {
	ID     int      `json:"id"`
	Name   string   `json:"name"`
	Type   DataType `json:"type"`
	DimIDs []int    `json:"dim_ids"`
	Shape  []int64  `json:"shape"`
}

// AttInfo describes an attribute: its storage type and element count.
type AttInfo struct {
	Name string   `json:"name"`
	Type DataType `json:"type"`
	Len  int      `json:"len"`
}
