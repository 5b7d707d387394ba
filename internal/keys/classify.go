package keys

import (
	"bytes"
	"encoding/binary"
)

// Key layout constants. Keys carry no self-describing tag; they are told apart
// by length and prefix, so these values are part of the on-disk contract.
const (
	chunkKeyLen            = 9  // x, z, tag
	chunkSubchunkKeyLen    = 10 // x, z, tag, index
	chunkDimKeyLen         = 13 // x, z, dimension, tag
	chunkDimSubchunkKeyLen = 14 // x, z, dimension, tag, index

	actorKeyLen = 19

	digestKeyLen    = 12
	digestDimKeyLen = 16

	villageUUIDLen = 36
)

var (
	actorPrefix   = []byte("actorprefix")
	digestPrefix  = []byte("digp")
	villagePrefix = []byte("VILLAGE_")

	villageDimensions = []string{"Overworld_", "Nether_", "End_"}
)

var namedKeys = map[string]struct{}{
	"AutonomousEntities":           {},
	"BiomeData":                    {},
	"LevelChunkMetaDataDictionary": {},
	"Nether":                       {},
	"Overworld":                    {},
	"TheEnd":                       {},
	"dimension0":                   {},
	"dimension1":                   {},
	"dimension2":                   {},
	"game_flatworldlayers":         {},
	"mVillages":                    {},
	"mobevents":                    {},
	"portals":                      {},
	"schedulerWT":                  {},
	"scoreboard":                   {},
	"~local_player":                {},
}

// Classify decodes a raw store key. It never fails: keys that match no known
// layout come back as Unknown. The returned record owns a copy of key.
func Classify(key []byte) Record {
	k := raw(bytes.Clone(key))
	if k == nil {
		k = raw{}
	}

	if _, ok := namedKeys[string(k)]; ok {
		return Named{raw: k, Name: string(k)}
	}

	switch n := len(k); {
	case n == chunkKeyLen || n == chunkSubchunkKeyLen || n == chunkDimKeyLen || n == chunkDimSubchunkKeyLen:
		return classifyChunk(k)
	case n == actorKeyLen && bytes.HasPrefix(k, actorPrefix):
		return Actor{raw: k, ID: int64(binary.LittleEndian.Uint64(k[len(actorPrefix):]))}
	case (n == digestKeyLen || n == digestDimKeyLen) && bytes.HasPrefix(k, digestPrefix):
		d := ActorDigest{
			raw: k,
			X:   int32(binary.LittleEndian.Uint32(k[4:8])),
			Z:   int32(binary.LittleEndian.Uint32(k[8:12])),
		}
		if n == digestDimKeyLen {
			d.Dimension = int32(binary.LittleEndian.Uint32(k[12:16]))
		}
		return d
	case bytes.HasPrefix(k, villagePrefix):
		return classifyVillage(k)
	}
	return Unknown{raw: k}
}

func classifyChunk(k raw) Record {
	n := len(k)
	c := Chunk{
		raw: k,
		X:   int32(binary.LittleEndian.Uint32(k[0:4])),
		Z:   int32(binary.LittleEndian.Uint32(k[4:8])),
	}
	tag := 8
	if n == chunkDimKeyLen || n == chunkDimSubchunkKeyLen {
		c.Dimension = int32(binary.LittleEndian.Uint32(k[8:12]))
		tag = 12
	}
	if c.Dimension < 0 {
		return Unknown{raw: k}
	}

	c.Subtype = ChunkSubtype(k[tag])
	if !c.Subtype.Valid() {
		return Unknown{raw: k}
	}

	if n == chunkSubchunkKeyLen || n == chunkDimSubchunkKeyLen {
		if c.Subtype != SubChunkPrefix {
			return Unknown{raw: k}
		}
		c.HasSubchunk = true
		c.SubchunkIndex = int8(k[n-1])
	}
	return c
}

func classifyVillage(k raw) Record {
	rest := k[len(villagePrefix):]
	v := Village{raw: k}
	for _, dim := range villageDimensions {
		if bytes.HasPrefix(rest, []byte(dim)) {
			v.Dimension = dim
			rest = rest[len(dim):]
			break
		}
	}

	// uuid, one separator byte, then the subtype suffix
	if len(rest) < villageUUIDLen+1 {
		return Unknown{raw: k}
	}
	v.UUID = string(rest[:villageUUIDLen])
	v.Subtype = parseVillageSubtype(string(rest[villageUUIDLen+1:]))
	return v
}
