package keys

import (
	"github.com/google/uuid"
)

// Record is a decoded store key. The concrete type is one of Named, Chunk,
// Actor, ActorDigest, Village or Unknown; Kind reports which.
type Record interface {
	Kind() Kind
	// Raw returns the original key bytes. Callers must not modify them.
	Raw() []byte
	sealed()
}

type raw []byte

func (r raw) Raw() []byte { return r }
func (raw) sealed()       {}

// Named is one of the fixed world singleton keys.
type Named struct {
	raw
	Name string
}

func (Named) Kind() Kind { return KindNamed }

// Chunk addresses one record of a terrain chunk.
type Chunk struct {
	raw
	Dimension int32
	X         int32
	Z         int32
	Subtype   ChunkSubtype
	// HasSubchunk is set for SubChunkPrefix keys that carry a trailing index.
	HasSubchunk   bool
	SubchunkIndex int8
}

func (Chunk) Kind() Kind { return KindChunk }

// Actor references a stored entity by its unique id.
type Actor struct {
	raw
	ID int64
}

func (Actor) Kind() Kind { return KindActor }

// ActorDigest lists the actors that live in one chunk.
type ActorDigest struct {
	raw
	Dimension int32
	X         int32
	Z         int32
}

func (ActorDigest) Kind() Kind { return KindActorDigest }

// Village is a settlement record. Dimension keeps the literal key prefix
// ("Overworld_", "Nether_", "End_" or empty).
type Village struct {
	raw
	Dimension string
	UUID      string
	Subtype   VillageSubtype
}

func (Village) Kind() Kind { return KindVillage }

// ParseUUID parses the textual UUID carried in the key.
func (v Village) ParseUUID() (uuid.UUID, error) {
	return uuid.Parse(v.UUID)
}

// Unknown is any key that matched no known layout.
type Unknown struct {
	raw
}

func (Unknown) Kind() Kind { return KindUnknown }
