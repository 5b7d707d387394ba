package keys

import "fmt"

// Kind identifies which variant a Record holds.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindNamed
	KindChunk
	KindActor
	KindActorDigest
	KindVillage
)

func (k Kind) String() string {
	switch k {
	case KindNamed:
		return "named"
	case KindChunk:
		return "chunk"
	case KindActor:
		return "actor"
	case KindActorDigest:
		return "actor_digest"
	case KindVillage:
		return "village"
	default:
		return "unknown"
	}
}

// Kinds lists every Kind in display order.
func Kinds() []Kind {
	return []Kind{KindNamed, KindChunk, KindActor, KindActorDigest, KindVillage, KindUnknown}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if k.String() == s {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("unknown key kind %q", s)
}

// ChunkSubtype is the record tag byte that follows the chunk coordinates.
type ChunkSubtype uint8

const (
	Data3D ChunkSubtype = 43 + iota
	Version
	Data2D
	Data2DLegacy
	SubChunkPrefix
	LegacyTerrain
	BlockEntity
	Entity
	PendingTicks
	LegacyBlockExtraData
	BiomeState
	FinalizedState
	ConversionData
	BorderBlocks
	HardcodedSpawners
	RandomTicks
	CheckSums
	GenerationSeed
	GeneratedPreCavesAndCliffsBlending
	BlendingBiomeHeight
	MetaDataHash
	BlendingData
	ActorDigestVersion
)

const (
	VersionEnchant    ChunkSubtype = 110
	VersionMarkInsert ChunkSubtype = 111
	LegacyVersion     ChunkSubtype = 118
)

var chunkSubtypeNames = map[ChunkSubtype]string{
	Data3D:                             "Data3D",
	Version:                            "Version",
	Data2D:                             "Data2D",
	Data2DLegacy:                       "Data2DLegacy",
	SubChunkPrefix:                     "SubChunkPrefix",
	LegacyTerrain:                      "LegacyTerrain",
	BlockEntity:                        "BlockEntity",
	Entity:                             "Entity",
	PendingTicks:                       "PendingTicks",
	LegacyBlockExtraData:               "LegacyBlockExtraData",
	BiomeState:                         "BiomeState",
	FinalizedState:                     "FinalizedState",
	ConversionData:                     "ConversionData",
	BorderBlocks:                       "BorderBlocks",
	HardcodedSpawners:                  "HardcodedSpawners",
	RandomTicks:                        "RandomTicks",
	CheckSums:                          "CheckSums",
	GenerationSeed:                     "GenerationSeed",
	GeneratedPreCavesAndCliffsBlending: "GeneratedPreCavesAndCliffsBlending",
	BlendingBiomeHeight:                "BlendingBiomeHeight",
	MetaDataHash:                       "MetaDataHash",
	BlendingData:                       "BlendingData",
	ActorDigestVersion:                 "ActorDigestVersion",
	VersionEnchant:                     "VersionEnchant",
	VersionMarkInsert:                  "VersionMarkInsert",
	LegacyVersion:                      "LegacyVersion",
}

func (s ChunkSubtype) String() string {
	if name, ok := chunkSubtypeNames[s]; ok {
		return name
	}
	return fmt.Sprintf("ChunkSubtype(%d)", uint8(s))
}

// Valid reports whether s is a chunk record tag the format defines:
// 43 through 65 inclusive, plus the reserved codes 110, 111 and 118.
func (s ChunkSubtype) Valid() bool {
	if s >= Data3D && s <= ActorDigestVersion {
		return true
	}
	return s == VersionEnchant || s == VersionMarkInsert || s == LegacyVersion
}

// VillageSubtype is the suffix of a village record key.
type VillageSubtype uint8

const (
	VillageUnknown VillageSubtype = iota
	VillageDwellers
	VillageInfo
	VillagePlayers
	VillagePOI
)

func (s VillageSubtype) String() string {
	switch s {
	case VillageDwellers:
		return "DWELLERS"
	case VillageInfo:
		return "INFO"
	case VillagePlayers:
		return "PLAYERS"
	case VillagePOI:
		return "POI"
	default:
		return "Unknown"
	}
}

func parseVillageSubtype(s string) VillageSubtype {
	switch s {
	case "DWELLERS":
		return VillageDwellers
	case "INFO":
		return VillageInfo
	case "PLAYERS":
		return VillagePlayers
	case "POI":
		return VillagePOI
	default:
		return VillageUnknown
	}
}
