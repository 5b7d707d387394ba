package resource

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sandertv/gophertunnel/minecraft/nbt"
	"github.com/worldlens/worldlens/pkg/compression"
)

// Leaf is an opened single-file resource.
type Leaf interface {
	Path() string
	Name() string
	Format() Format
	Size() int64
	Describe() string
}

// File is the Leaf produced by the built-in probes.
type File struct {
	path        string
	size        int64
	modTime     time.Time
	format      Format
	compression compression.Algorithm

	// NBT documents
	edition        Edition
	rootName       string
	storageVersion int32

	// region files
	chunks int
}

func (f *File) Path() string                       { return f.path }
func (f *File) Name() string                       { return filepath.Base(f.path) }
func (f *File) Format() Format                     { return f.format }
func (f *File) Size() int64                        { return f.size }
func (f *File) ModTime() time.Time                 { return f.modTime }
func (f *File) Compression() compression.Algorithm { return f.compression }
func (f *File) Edition() Edition                   { return f.edition }
func (f *File) RootName() string                   { return f.rootName }

// StorageVersion is the version field of a Bedrock level.dat header, or 0.
func (f *File) StorageVersion() int32 { return f.storageVersion }

// Chunks is the number of populated chunk slots in a region file.
func (f *File) Chunks() int { return f.chunks }

func (f *File) Describe() string {
	switch f.format {
	case FormatRegion:
		return fmt.Sprintf("%s (region, %d chunks)", f.Name(), f.chunks)
	case FormatNBT:
		return fmt.Sprintf("%s (nbt, %s, %s)", f.Name(), f.edition, f.compression)
	default:
		return f.Name()
	}
}

// Probe recognizes one leaf format.
type Probe struct {
	Name string
	Open func(ctx context.Context, path string, info os.FileInfo) (*File, error)
}

// DefaultProbes tries NBT first and region files second.
func DefaultProbes() []Probe {
	return []Probe{
		{Name: "nbt", Open: probeNBT},
		{Name: "region", Open: probeRegion},
	}
}

// ==================== NBT ====================

const (
	tagCompound      = 0x0a
	bedrockHeaderLen = 8
)

var errNotNBT = errors.New("not an NBT document")

// probeNBT accepts a file when its (possibly compressed) content decodes as
// exactly one compound, big-endian for Java and little-endian for Bedrock.
func probeNBT(ctx context.Context, path string, info os.FileInfo) (*File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	br := bufio.NewReader(fh)
	head, _ := br.Peek(2)
	alg := compression.Detect(head)

	rc, err := compression.NewReader(br, alg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errNotNBT, err)
	}
	defer rc.Close()
	r := bufio.NewReader(rc)

	file := &File{
		path:        path,
		size:        info.Size(),
		modTime:     info.ModTime(),
		format:      FormatNBT,
		compression: alg,
	}

	// Bedrock level.dat: int32 version, int32 payload length, then the
	// little-endian document.
	bedrockHeader := false
	if alg == compression.None && info.Size() > bedrockHeaderLen {
		if hdr, err := r.Peek(bedrockHeaderLen); err == nil {
			if int64(binary.LittleEndian.Uint32(hdr[4:8])) == info.Size()-bedrockHeaderLen {
				bedrockHeader = true
				file.storageVersion = int32(binary.LittleEndian.Uint32(hdr[0:4]))
				if _, err := r.Discard(bedrockHeaderLen); err != nil {
					return nil, err
				}
			}
		}
	}

	if first, err := r.Peek(1); err != nil {
		return nil, fmt.Errorf("%w: empty", errNotNBT)
	} else if first[0] != tagCompound {
		return nil, fmt.Errorf("%w: root tag 0x%02x is not a compound", errNotNBT, first[0])
	}

	data, err := io.ReadAll(io.LimitReader(r, compression.DefaultMaxSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errNotNBT, err)
	}
	if len(data) > compression.DefaultMaxSize {
		return nil, fmt.Errorf("%w: document exceeds %d bytes", errNotNBT, compression.DefaultMaxSize)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	editions := []Edition{EditionJava, EditionBedrock}
	if bedrockHeader {
		editions = []Edition{EditionBedrock}
	}
	var reasons []error
	for _, edition := range editions {
		name, err := decodeRoot(data, edition)
		if err != nil {
			reasons = append(reasons, fmt.Errorf("%s: %w", edition, err))
			continue
		}
		file.edition = edition
		file.rootName = name
		return file, nil
	}
	return nil, fmt.Errorf("%w: %w", errNotNBT, errors.Join(reasons...))
}

// decodeRoot decodes data as a single compound in the byte order of edition
// and returns the compound's name.
func decodeRoot(data []byte, edition Edition) (string, error) {
	var (
		enc   nbt.Encoding     = nbt.BigEndian
		order binary.ByteOrder = binary.BigEndian
	)
	if edition == EditionBedrock {
		enc, order = nbt.LittleEndian, binary.LittleEndian
	}

	buf := bytes.NewBuffer(data)
	root := make(map[string]any)
	if err := nbt.NewDecoderWithEncoding(buf, enc).Decode(&root); err != nil {
		return "", err
	}
	if buf.Len() > 0 {
		return "", fmt.Errorf("%d trailing bytes after root compound", buf.Len())
	}

	n := int(order.Uint16(data[1:3]))
	return string(data[3 : 3+n]), nil
}

// ==================== Region ====================

const (
	sectorSize    = 4096
	regionEntries = sectorSize / 4
)

var (
	errNotRegion     = errors.New("not a region file")
	regionExtensions = map[string]bool{".mca": true, ".mcr": true}
)

func probeRegion(ctx context.Context, path string, info os.FileInfo) (*File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !regionExtensions[ext] {
		return nil, fmt.Errorf("%w: extension %q", errNotRegion, ext)
	}
	size := info.Size()
	if size < 2*sectorSize || size%sectorSize != 0 {
		return nil, fmt.Errorf("%w: size %d is not a whole number of sectors", errNotRegion, size)
	}

	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	table := make([]byte, sectorSize)
	if _, err := io.ReadFull(fh, table); err != nil {
		return nil, fmt.Errorf("%w: %w", errNotRegion, err)
	}

	sectors := size / sectorSize
	chunks := 0
	for i := 0; i < regionEntries; i++ {
		entry := binary.BigEndian.Uint32(table[i*4:])
		if entry == 0 {
			continue
		}
		offset := int64(entry >> 8)
		count := int64(entry & 0xff)
		if offset < 2 || count == 0 || offset+count > sectors {
			return nil, fmt.Errorf("%w: chunk %d points outside the file", errNotRegion, i)
		}
		chunks++
	}

	return &File{
		path:    path,
		size:    size,
		modTime: info.ModTime(),
		format:  FormatRegion,
		chunks:  chunks,
	}, nil
}
