package protocol

// Block signatures. They are distinct so a status block can never be
// mistaken for a command block on the same endpoint.
const (
	// SignatureCommand marks a command block ("USBC" little-endian)
	SignatureCommand = 0x43425355

	// SignatureStatus marks a status block ("USBS" little-endian)
	SignatureStatus = 0x53425355
)

// Block sizes.
const (
	// CommandBlockSize is the encoded size of a command block (USB_SIZEOF_AIC_CBW)
	CommandBlockSize = 31

	// StatusBlockSize is the encoded size of a status block
	StatusBlockSize = 13

	// ParamsSize is the number of trailing command parameter bytes
	ParamsSize = 15
)

// Command codes.
const (
	// CmdWrite moves data from host to device
	CmdWrite = 0x01

	// CmdRead moves data from device to host
	CmdRead = 0x02
)

// Direction flags carried in the command block.
const (
	// FlagDataOut is the host-to-device direction used with CmdWrite
	FlagDataOut = 0x00

	// FlagDataIn is the device-to-host direction used with CmdRead
	FlagDataIn = 0x80
)

// Status codes.
const (
	// StatusPassed indicates the command completed
	StatusPassed = 0x00

	// StatusFailed indicates a transfer I/O failure; the residue tells the
	// host how many trailing bytes were not consumed and may be re-sent
	StatusFailed = 0x01

	// StatusIntegrity indicates the data was consumed but a component
	// failed its CRC check; re-sending cannot fix it
	StatusIntegrity = 0x02
)

// DefaultCBLength is the command length value hosts put into CBLength.
const DefaultCBLength = 1

// DefaultChunkSize is the size of the device packet buffer (64 KiB).
const DefaultChunkSize = 64 * 1024
