package protocol

// CommandBlock describes one request. It is parsed once per transfer cycle
// and treated as immutable afterwards.
type CommandBlock struct {
	// Signature must equal SignatureCommand
	Signature uint32

	// Tag is echoed in the matching status block
	Tag uint32

	// DataTransferLength is the number of bytes in the data phase
	DataTransferLength uint32

	// Flags carries the transfer direction (FlagDataOut or FlagDataIn)
	Flags byte

	// LUN is reserved and carried through unchanged
	LUN byte

	// CBLength is the command length, must be non-zero
	CBLength byte

	// Command is the operation code (CmdWrite or CmdRead)
	Command byte

	// Params are the trailing command bytes, unused by the transfer layer
	Params [ParamsSize]byte
}

// StatusBlock reports the outcome of one transfer cycle.
type StatusBlock struct {
	// Signature must equal SignatureStatus
	Signature uint32

	// Tag is copied from the command block
	Tag uint32

	// DataResidue is the number of bytes that were not transferred
	DataResidue uint32

	// Status is StatusPassed or one of the failure codes
	Status byte
}

// NewStatusBlock returns a status block pre-initialized from cb: the tag is
// echoed and the residue starts at the full declared length.
func NewStatusBlock(cb *CommandBlock) *StatusBlock {
	return &StatusBlock{
		Signature:   SignatureStatus,
		Tag:         cb.Tag,
		DataResidue: cb.DataTransferLength,
		Status:      StatusPassed,
	}
}

// Passed reports whether the status is StatusPassed.
func (s *StatusBlock) Passed() bool {
	return s.Status == StatusPassed
}

// Err returns a *StatusError for a failed status block, nil otherwise.
func (s *StatusBlock) Err() error {
	if s.Passed() {
		return nil
	}
	return &StatusError{Tag: s.Tag, Status: s.Status, Residue: s.DataResidue}
}
