package protocol

import (
	"encoding/binary"
	"fmt"
)

// BuildWriteCmd constructs a WRITE command block announcing length bytes of
// host-to-device data.
//
// Frame structure:
//
//	[SIG(4)][TAG(4)][LENGTH(4)][0x00][LUN][CBLEN][0x01][PARAMS(15)]
func BuildWriteCmd(tag, length uint32) ([]byte, error) {
	cb := &CommandBlock{
		Signature:          SignatureCommand,
		Tag:                tag,
		DataTransferLength: length,
		Flags:              FlagDataOut,
		CBLength:           DefaultCBLength,
		Command:            CmdWrite,
	}
	return cb.MarshalBinary()
}

// BuildReadCmd constructs a READ command block requesting length bytes of
// device-to-host data.
//
// Frame structure:
//
//	[SIG(4)][TAG(4)][LENGTH(4)][0x80][LUN][CBLEN][0x02][PARAMS(15)]
func BuildReadCmd(tag, length uint32) ([]byte, error) {
	cb := &CommandBlock{
		Signature:          SignatureCommand,
		Tag:                tag,
		DataTransferLength: length,
		Flags:              FlagDataIn,
		CBLength:           DefaultCBLength,
		Command:            CmdRead,
	}
	return cb.MarshalBinary()
}

// MarshalBinary encodes the command block into CommandBlockSize bytes.
func (c *CommandBlock) MarshalBinary() ([]byte, error) {
	frame := make([]byte, CommandBlockSize)
	binary.LittleEndian.PutUint32(frame[0:4], c.Signature)
	binary.LittleEndian.PutUint32(frame[4:8], c.Tag)
	binary.LittleEndian.PutUint32(frame[8:12], c.DataTransferLength)
	frame[12] = c.Flags
	frame[13] = c.LUN
	frame[14] = c.CBLength
	frame[15] = c.Command
	copy(frame[16:], c.Params[:])
	return frame, nil
}

// Validate checks the fields a device needs before dispatching the command:
// a known command code, a direction flag matching it and a non-zero
// command length. The signature is checked by ParseCommandBlock.
func (c *CommandBlock) Validate() error {
	switch c.Command {
	case CmdWrite:
		if c.Flags != FlagDataOut {
			return &FrameError{Field: "flags", Got: uint32(c.Flags), Want: FlagDataOut}
		}
	case CmdRead:
		if c.Flags != FlagDataIn {
			return &FrameError{Field: "flags", Got: uint32(c.Flags), Want: FlagDataIn}
		}
	default:
		return fmt.Errorf("%w: 0x%02X", ErrUnknownCommand, c.Command)
	}
	if c.CBLength == 0 {
		return &FrameError{Field: "command length", Got: 0, Want: DefaultCBLength}
	}
	return nil
}

// IsWrite reports whether the command moves data from host to device.
func (c *CommandBlock) IsWrite() bool {
	return c.Command == CmdWrite
}

// IsRead reports whether the command moves data from device to host.
func (c *CommandBlock) IsRead() bool {
	return c.Command == CmdRead
}
