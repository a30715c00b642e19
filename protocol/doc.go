// Package protocol implements the AICUPG transfer-layer framing.
//
// This package provides functions to build and parse the two fixed-size
// blocks that frame every transfer cycle. The framing is modeled on USB
// Mass-Storage Bulk-Only Transport.
//
// # Protocol Overview
//
// Each cycle consists of a command block, an optional data phase and a
// status block:
//
//	Command: [SIGNATURE(4)][TAG(4)][LENGTH(4)][FLAGS][LUN][CBLEN][CMD][PARAMS(15)]
//	Status:  [SIGNATURE(4)][TAG(4)][RESIDUE(4)][STATUS]
//
// Where:
//   - All multi-byte fields are little-endian
//   - SIGNATURE is SignatureCommand ("USBC") or SignatureStatus ("USBS")
//   - TAG correlates a status block with its command block
//   - LENGTH is the number of bytes in the data phase
//   - RESIDUE is the number of bytes not consumed by the device
//
// # Command Builders
//
// Use the Build* functions on the host side:
//
//	frame, err := protocol.BuildWriteCmd(tag, uint32(len(data)))
//	frame, err := protocol.BuildReadCmd(tag, 4096)
//
// # Parsers
//
// The device side decodes command blocks and encodes status blocks:
//
//	cb, err := protocol.ParseCommandBlock(frame)
//	csw := protocol.NewStatusBlock(cb)
//	out, _ := csw.MarshalBinary()
//
// The host decodes status blocks with ParseStatusBlock and turns a FAILED
// status into a StatusError:
//
//	csw, err := protocol.ParseStatusBlock(frame)
//	if err := csw.Err(); err != nil {
//	    // err is a *StatusError
//	}
package protocol
