// Package resource opens paths found on disk as game-save resources: single
// leaf files (NBT documents, region files) or key-value store folders.
package resource

import "fmt"

// Kind is the closed set of resource shapes a path can resolve to.
type Kind uint8

const (
	LeafFile Kind = iota
	PlainFolder
	StoreFolder
)

func (k Kind) String() string {
	switch k {
	case LeafFile:
		return "file"
	case PlainFolder:
		return "folder"
	case StoreFolder:
		return "store"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Format identifies the content of a leaf file.
type Format string

const (
	FormatNBT    Format = "nbt"
	FormatRegion Format = "region"
)

// Edition is the byte order an NBT document was written in.
type Edition string

const (
	EditionJava    Edition = "java"    // big-endian
	EditionBedrock Edition = "bedrock" // little-endian
)
