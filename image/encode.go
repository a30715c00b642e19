package image

import (
	"encoding/binary"
	"fmt"
)

// MarshalBinary encodes the header into HeaderSize bytes.
func (h *Header) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HeaderSize)
	copy(buf, HeaderMagic)

	fields := []struct {
		off int
		val string
	}{
		{hdrPlatform, h.Platform},
		{hdrProduct, h.Product},
		{hdrVersion, h.Version},
		{hdrMediaType, h.MediaType},
	}
	for _, f := range fields {
		if err := putString(buf[f.off:f.off+NameSize], f.val); err != nil {
			return nil, err
		}
	}

	le := binary.LittleEndian
	le.PutUint32(buf[hdrMediaDevID:], h.MediaDevID)
	le.PutUint32(buf[hdrMetaOffset:], h.MetaOffset)
	le.PutUint32(buf[hdrMetaSize:], h.MetaSize)
	le.PutUint32(buf[hdrFileOffset:], h.FileOffset)
	le.PutUint32(buf[hdrFileSize:], h.FileSize)
	return buf, nil
}

// MarshalBinary encodes the component into one MetaRecordSize record.
func (c *Component) MarshalBinary() ([]byte, error) {
	rec := make([]byte, MetaRecordSize)
	copy(rec, MetaMagic)

	if err := putString(rec[metaName:metaName+NameSize], c.Name); err != nil {
		return nil, fmt.Errorf("name: %w", err)
	}
	if err := putString(rec[metaPartition:metaPartition+PartitionFieldSize], c.Partition); err != nil {
		return nil, fmt.Errorf("partition: %w", err)
	}

	le := binary.LittleEndian
	le.PutUint32(rec[metaSize:], c.Size)
	le.PutUint32(rec[metaOffset:], c.Offset)
	le.PutUint32(rec[metaAttr:], c.Attr)
	le.PutUint32(rec[metaCRC:], c.CRC)
	le.PutUint32(rec[metaRAM:], c.RAM)
	return rec, nil
}

// MarshalMeta encodes a metadata table.
func MarshalMeta(comps []*Component) ([]byte, error) {
	blob := make([]byte, 0, len(comps)*MetaRecordSize)
	for i, c := range comps {
		rec, err := c.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		blob = append(blob, rec...)
	}
	return blob, nil
}

func putString(field []byte, s string) error {
	if len(s) > len(field) {
		return fmt.Errorf("%q exceeds %d bytes", s, len(field))
	}
	copy(field, s)
	return nil
}
