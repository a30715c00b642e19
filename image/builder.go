package image

import (
	"fmt"
)

// DefaultAlign is the payload alignment used by Builder.
const DefaultAlign = 2048

// Builder assembles an upgrade image from component payloads.
//
// Layout:
//
//	[HEADER(512)][METADATA(n*160)][pad][PAYLOAD 0][pad][PAYLOAD 1]...
//
// Every payload starts on a DefaultAlign boundary.
//
// Example:
//
//	b := image.NewBuilder(image.Header{Platform: "d21x", MediaType: "spi-nor"})
//	b.AddComponent("target.spl", "spl0;spl1", spl, 0)
//	b.AddComponent("image.rootfs", "rootfs", rootfs, 0)
//	blob, err := b.Bytes()
type Builder struct {
	header  Header
	entries []builderEntry
	align   int
}

type builderEntry struct {
	comp Component
	data []byte
}

// NewBuilder returns a builder for an image with the given header strings.
// Offsets and sizes in hdr are computed by Bytes.
func NewBuilder(hdr Header) *Builder {
	return &Builder{header: hdr, align: DefaultAlign}
}

// SetAlign changes the payload alignment. align must be a positive power of two.
func (b *Builder) SetAlign(align int) error {
	if align <= 0 || align&(align-1) != 0 {
		return fmt.Errorf("alignment %d is not a power of two", align)
	}
	b.align = align
	return nil
}

// AddComponent appends a component. Its CRC, size and offset are filled in
// by Bytes. An empty partition list yields a record that parsers skip.
func (b *Builder) AddComponent(name, partitions string, data []byte, attr uint32) {
	b.entries = append(b.entries, builderEntry{
		comp: Component{Name: name, Partition: partitions, Attr: attr},
		data: data,
	})
}

// Components returns the metadata records as Bytes lays them out.
func (b *Builder) Components() []*Component {
	comps, _ := b.layout()
	return comps
}

// Bytes returns the encoded image.
func (b *Builder) Bytes() ([]byte, error) {
	if len(b.entries) > MaxComponents {
		return nil, fmt.Errorf("%d components, at most %d fit the metadata table", len(b.entries), MaxComponents)
	}
	comps, fileOffset := b.layout()

	hdr := b.header
	hdr.MetaOffset = HeaderSize
	hdr.MetaSize = uint32(len(comps) * MetaRecordSize)
	hdr.FileOffset = uint32(fileOffset)
	hdr.FileSize = uint32(fileOffset)
	if n := len(comps); n > 0 {
		hdr.FileSize = uint32(comps[n-1].End())
	}

	hbuf, err := hdr.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	meta, err := MarshalMeta(comps)
	if err != nil {
		return nil, err
	}

	out := make([]byte, hdr.FileSize)
	copy(out, hbuf)
	copy(out[HeaderSize:], meta)
	for i, c := range comps {
		copy(out[c.Offset:], b.entries[i].data)
	}
	return out, nil
}

// layout assigns offsets, sizes and CRCs and returns the offset of the
// first payload.
func (b *Builder) layout() ([]*Component, int) {
	off := alignUp(HeaderSize+len(b.entries)*MetaRecordSize, b.align)
	first := off

	comps := make([]*Component, len(b.entries))
	for i, e := range b.entries {
		c := e.comp
		c.Size = uint32(len(e.data))
		c.Offset = uint32(off)
		c.CRC = Checksum(e.data)
		comps[i] = &c
		off = alignUp(off+len(e.data), b.align)
	}
	return comps, first
}

func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}
