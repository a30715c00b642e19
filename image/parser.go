package image

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Constants for the image binary format. All integers are little-endian.
const (
	// HeaderSize is the size of the image header
	HeaderSize = 512

	// MetaRecordSize is the size of one metadata record
	MetaRecordSize = 160

	// MagicSize is the width of the magic field in the header and records
	MagicSize = 8

	// NameSize is the width of the header strings and the component name
	NameSize = 64

	// PartitionFieldSize is the width of the partition list field
	PartitionFieldSize = 64

	// PartitionSeparator separates duplicate partition names
	PartitionSeparator = ";"

	// HeaderMagic identifies an upgrade image
	HeaderMagic = "AIC.FW"

	// MetaMagic identifies a metadata record
	MetaMagic = "META"

	// MaxComponents bounds the number of metadata records in an image
	MaxComponents = 256

	// AttrBlockDevice marks a component for a raw block device.
	// Page-addressed devices (NOR, NAND) leave it clear.
	AttrBlockDevice = 1 << 0
)

// header field offsets
const (
	hdrPlatform   = MagicSize
	hdrProduct    = hdrPlatform + NameSize
	hdrVersion    = hdrProduct + NameSize
	hdrMediaType  = hdrVersion + NameSize
	hdrMediaDevID = hdrMediaType + NameSize
	hdrMetaOffset = hdrMediaDevID + 4
	hdrMetaSize   = hdrMetaOffset + 4
	hdrFileOffset = hdrMetaSize + 4
	hdrFileSize   = hdrFileOffset + 4
)

// metadata record field offsets
const (
	metaName      = MagicSize
	metaPartition = metaName + NameSize
	metaSize      = metaPartition + PartitionFieldSize
	metaOffset    = metaSize + 4
	metaAttr      = metaOffset + 4
	metaCRC       = metaAttr + 4
	metaRAM       = metaCRC + 4
)

// Parse parses the upgrade image at the given file path.
// Components with an empty partition field are dropped.
//
// Example:
//
//	img, err := image.Parse("d21x_demo.img")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, c := range img.Components {
//	    fmt.Printf("%s -> %s (%d bytes)\n", c.Name, c.Partition, c.Size)
//	}
func Parse(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer func() { _ = f.Close() }()

	return ParseReader(f)
}

// ParseReader parses an upgrade image from any io.ReaderAt.
// Only the header and the metadata table are read.
//
// Example:
//
//	img, err := image.ParseReader(bytes.NewReader(blob))
func ParseReader(r io.ReaderAt) (*Image, error) {
	buf := make([]byte, HeaderSize)
	if _, err := r.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	hdr, err := ParseHeader(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	blob := make([]byte, hdr.MetaSize)
	if _, err := r.ReadAt(blob, int64(hdr.MetaOffset)); err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	comps, err := ParseMeta(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}

	return &Image{Header: hdr, Components: comps}, nil
}

// ParseHeader decodes an image header. data must hold at least HeaderSize bytes.
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: got %d bytes, expected %d", len(data), HeaderSize)
	}

	if magic := cString(data[:MagicSize]); magic != HeaderMagic {
		return nil, fmt.Errorf("invalid image magic: %q", magic)
	}

	le := binary.LittleEndian
	hdr := &Header{
		Platform:   cString(data[hdrPlatform : hdrPlatform+NameSize]),
		Product:    cString(data[hdrProduct : hdrProduct+NameSize]),
		Version:    cString(data[hdrVersion : hdrVersion+NameSize]),
		MediaType:  cString(data[hdrMediaType : hdrMediaType+NameSize]),
		MediaDevID: le.Uint32(data[hdrMediaDevID:]),
		MetaOffset: le.Uint32(data[hdrMetaOffset:]),
		MetaSize:   le.Uint32(data[hdrMetaSize:]),
		FileOffset: le.Uint32(data[hdrFileOffset:]),
		FileSize:   le.Uint32(data[hdrFileSize:]),
	}

	if hdr.MetaSize%MetaRecordSize != 0 {
		return nil, fmt.Errorf("metadata size %d is not a multiple of %d", hdr.MetaSize, MetaRecordSize)
	}
	if hdr.MetaOffset < HeaderSize {
		return nil, fmt.Errorf("metadata offset 0x%X overlaps the header", hdr.MetaOffset)
	}
	if hdr.MetaSize > MaxComponents*MetaRecordSize {
		return nil, fmt.Errorf("metadata size %d exceeds %d records", hdr.MetaSize, MaxComponents)
	}
	if end := uint64(hdr.MetaOffset) + uint64(hdr.MetaSize); end > uint64(hdr.FileSize) {
		return nil, fmt.Errorf("metadata end 0x%X is past the file size 0x%X", end, hdr.FileSize)
	}

	return hdr, nil
}

// ParseMeta decodes the metadata table and returns the components to
// upgrade, in table order. The record count is len(blob)/MetaRecordSize.
//
// A record is skipped when its partition field is empty or when the
// protection list covers any of its partitions.
func ParseMeta(blob []byte, protect ProtectionList) ([]*Component, error) {
	all, err := ParseMetaAll(blob)
	if err != nil {
		return nil, err
	}

	comps := make([]*Component, 0, len(all))
	for _, c := range all {
		if c.Partition == "" || protect.Protects(c) {
			continue
		}
		comps = append(comps, c)
	}
	return comps, nil
}

// ParseMetaAll decodes every record of the metadata table without filtering.
func ParseMetaAll(blob []byte) ([]*Component, error) {
	n := len(blob) / MetaRecordSize
	comps := make([]*Component, 0, n)

	for i := 0; i < n; i++ {
		c, err := parseRecord(blob[i*MetaRecordSize : (i+1)*MetaRecordSize])
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		comps = append(comps, c)
	}
	return comps, nil
}

// parseRecord decodes one metadata record.
//
// Record format:
//
//	[MAGIC(8)][NAME(64)][PARTITION(64)][SIZE(4)][OFFSET(4)][ATTR(4)][CRC(4)][RAM(4)][RESERVED(12)]
func parseRecord(rec []byte) (*Component, error) {
	if magic := cString(rec[:MagicSize]); magic != MetaMagic {
		return nil, fmt.Errorf("invalid metadata magic: %q", magic)
	}

	le := binary.LittleEndian
	return &Component{
		Name:      cString(rec[metaName : metaName+NameSize]),
		Partition: cString(rec[metaPartition : metaPartition+PartitionFieldSize]),
		Size:      le.Uint32(rec[metaSize:]),
		Offset:    le.Uint32(rec[metaOffset:]),
		Attr:      le.Uint32(rec[metaAttr:]),
		CRC:       le.Uint32(rec[metaCRC:]),
		RAM:       le.Uint32(rec[metaRAM:]),
	}, nil
}

// cString returns the bytes of a fixed-width field up to the first NUL.
func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
