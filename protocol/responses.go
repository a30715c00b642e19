package protocol

import (
	"encoding/binary"
)

// ParseCommandBlock decodes a command block received by the device.
// Validates frame length and signature.
//
// A frame of the wrong size returns ErrFrameSize; callers treat that as a
// stray packet. A bad signature returns a *FrameError.
func ParseCommandBlock(frame []byte) (*CommandBlock, error) {
	if len(frame) != CommandBlockSize {
		return nil, ErrFrameSize
	}

	cb := &CommandBlock{
		Signature:          binary.LittleEndian.Uint32(frame[0:4]),
		Tag:                binary.LittleEndian.Uint32(frame[4:8]),
		DataTransferLength: binary.LittleEndian.Uint32(frame[8:12]),
		Flags:              frame[12],
		LUN:                frame[13],
		CBLength:           frame[14],
		Command:            frame[15],
	}
	copy(cb.Params[:], frame[16:])

	if cb.Signature != SignatureCommand {
		return cb, &FrameError{Field: "signature", Got: cb.Signature, Want: SignatureCommand}
	}

	return cb, nil
}

// MarshalBinary encodes the status block into StatusBlockSize bytes.
func (s *StatusBlock) MarshalBinary() ([]byte, error) {
	frame := make([]byte, StatusBlockSize)
	s.put(frame)
	return frame, nil
}

// AppendTo encodes the status block into buf, which must hold at least
// StatusBlockSize bytes, and returns the encoded slice. It avoids an
// allocation on the device side.
func (s *StatusBlock) AppendTo(buf []byte) []byte {
	frame := buf[:StatusBlockSize]
	s.put(frame)
	return frame
}

func (s *StatusBlock) put(frame []byte) {
	binary.LittleEndian.PutUint32(frame[0:4], s.Signature)
	binary.LittleEndian.PutUint32(frame[4:8], s.Tag)
	binary.LittleEndian.PutUint32(frame[8:12], s.DataResidue)
	frame[12] = s.Status
}

// ParseStatusBlock decodes a status block received by the host.
// Validates frame length and signature.
func ParseStatusBlock(frame []byte) (*StatusBlock, error) {
	if len(frame) != StatusBlockSize {
		return nil, ErrFrameSize
	}

	csw := &StatusBlock{
		Signature:   binary.LittleEndian.Uint32(frame[0:4]),
		Tag:         binary.LittleEndian.Uint32(frame[4:8]),
		DataResidue: binary.LittleEndian.Uint32(frame[8:12]),
		Status:      frame[12],
	}

	if csw.Signature != SignatureStatus {
		return nil, &FrameError{Field: "signature", Got: csw.Signature, Want: SignatureStatus}
	}

	return csw, nil
}
