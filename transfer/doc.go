// Package transfer implements the device side of the upgrade protocol.
//
// Every exchange is a cycle of a command block from the host, an optional
// data phase and a status block from the device. Session runs the cycle as
// a state machine:
//
//	ReadCommand -> DataOutBuffered <-> DataOut   -> SendStatus -> WaitStatus -> ReadCommand
//	            -> DataIn          <-> DataInBuffered -> SendStatus ...
//
// A Session never blocks. It arms a receive or send on its Transport and
// returns; the transport owner reports completions through OnReceived and
// OnSent. That fits interrupt or callback driven USB stacks. Serve adapts
// a blocking io.ReadWriter to the same machine.
//
// # Failure handling
//
//   - A packet of the wrong size while waiting for a command is ignored.
//   - A command block with a bad signature, unknown command or wrong
//     direction flag is dropped without a status; the host resynchronizes.
//   - A Handler failure ends the command with a FAILED status. The residue
//     tells the host how many bytes were not consumed.
//   - An integrity failure (CRC mismatch) is reported with its own status
//     code so the host does not retry it.
//
// There is no internal timeout. Detecting a vanished host is the job of the
// transport.
package transfer
