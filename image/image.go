package image

import "strings"

// Header is the fixed-size block at the start of every upgrade image.
type Header struct {
	// Platform is the SoC family the image was built for
	Platform string

	// Product is the board or product name
	Product string

	// Version is a free-form firmware version string
	Version string

	// MediaType names the boot medium ("spi-nor", "spi-nand", "mmc")
	MediaType string

	// MediaDevID selects the controller instance of MediaType
	MediaDevID uint32

	// MetaOffset is the byte offset of the metadata table
	MetaOffset uint32

	// MetaSize is the size of the metadata table in bytes
	MetaSize uint32

	// FileOffset is the byte offset of the first component payload
	FileOffset uint32

	// FileSize is the total size of the image in bytes
	FileSize uint32
}

// Component is one entry of the metadata table.
type Component struct {
	// Name is the human-readable component name ("target.spl", "image.rootfs")
	Name string

	// Partition lists the target partitions, separated by ';'.
	// Every name receives an identical copy of the component.
	Partition string

	// Size is the byte size of the component payload
	Size uint32

	// Offset is the byte offset of the payload within the image
	Offset uint32

	// Attr carries attribute flags, see AttrBlockDevice
	Attr uint32

	// CRC is the expected CRC-32 of the payload
	CRC uint32

	// RAM is a load address for components executed from RAM, 0 otherwise
	RAM uint32
}

// Image is a parsed upgrade image.
type Image struct {
	Header     *Header
	Components []*Component
}

// Partitions returns the duplicate target names of the component in order.
// Empty entries are dropped.
func (c *Component) Partitions() []string {
	var names []string
	for _, p := range strings.Split(c.Partition, PartitionSeparator) {
		if p = strings.TrimSpace(p); p != "" {
			names = append(names, p)
		}
	}
	return names
}

// IsBlockDevice reports whether the component targets a raw block device.
func (c *Component) IsBlockDevice() bool {
	return c.Attr&AttrBlockDevice != 0
}

// End returns the image offset just past the component payload.
func (c *Component) End() int64 {
	return int64(c.Offset) + int64(c.Size)
}

// TotalSize returns the sum of the payload sizes of the listed components.
func (img *Image) TotalSize() int64 {
	var total int64
	for _, c := range img.Components {
		total += int64(c.Size)
	}
	return total
}

// Filter returns the components not excluded by the protection list.
func (img *Image) Filter(protect ProtectionList) []*Component {
	out := make([]*Component, 0, len(img.Components))
	for _, c := range img.Components {
		if !protect.Protects(c) {
			out = append(out, c)
		}
	}
	return out
}
