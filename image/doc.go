// Package image parses and builds AICUPG firmware upgrade images.
//
// An image is a fixed header, a metadata table and the component payloads:
//
//	[HEADER(512)][META 0(160)][META 1(160)]...[PAYLOAD 0][PAYLOAD 1]...
//
// Each metadata record (Component) names the partitions that receive the
// payload, where it lives in the image and its expected CRC-32. A record can
// list several partitions separated by ';' to keep redundant copies, for
// example "spl0;spl1".
//
// # Parsing
//
//	img, err := image.Parse("firmware.img")
//	upgradable := img.Filter(image.ParseProtection("user;env"))
//
// ParseMeta applies the same filtering directly to a metadata blob. That is
// the form used when the table arrives through a streamed transfer.
//
// # Building
//
// Builder lays out the header, table and payloads and fills in offsets and
// CRCs. LoadPayload accepts raw binaries and Intel HEX files.
package image
