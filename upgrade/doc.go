// Package upgrade writes AIC upgrade images to storage partitions.
//
// # Overview
//
// An upgrade image holds a header, a metadata table and the payload of
// every component. Each component names one or more partitions; all of
// them receive an identical copy, and the copy in the first partition is
// read back and checked against the CRC-32 in the metadata.
//
// Two paths feed the same component writer (package fwc):
//   - Upgrader reads an image file (or any io.ReaderAt) in block-aligned
//     chunks and writes it component by component
//   - Sink receives the image as a byte stream from a transfer.Session and
//     writes it as it arrives
//
// # Basic Usage
//
//	nor, _ := storage.NewNOR("spi0", storage.NewMemory(16<<20, 0xFF), 16<<20)
//	table, _ := storage.ParseMTDParts("spi0:128k(spl0),128k(spl1),-(rootfs)", nor)
//
//	u := upgrade.New(table)
//	res, err := u.Program(context.Background(), "d21x_demo.img")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Streamed Upgrade
//
//	sink := upgrade.NewSink(table, upgrade.WithProtection("env"))
//	err := transfer.Serve(ctx, port, sink)
//
// # Progress Tracking
//
//	u := upgrade.New(table,
//	    upgrade.WithProgressCallback(func(p upgrade.Progress) {
//	        fmt.Printf("[%s] %3d%% %s\n", p.Phase, p.Percentage, p.Component)
//	    }),
//	)
//
// The percentage starts at 0, never decreases, and reaches 100 only when
// every component has been written and verified.
//
// # Protection
//
// WithProtection and the "protection=" key of bootcfg.txt name partitions
// that must survive the upgrade. A component with any protected partition
// is skipped as a whole.
//
// # Boot Config
//
// ParseBootConfig reads bootcfg.txt. In image mode it names an image file;
// in direct mode it lists raw files and device offsets. ProgramBootConfig
// runs either mode.
//
// # Error Handling
//
// A failed component is reported as a *ComponentError wrapping one of:
//   - fwc.ResourceError: a partition could not be resolved
//   - fwc.IOError: a backend failed to erase, write or read
//   - fwc.CRCMismatchError: the read-back CRC does not match
package upgrade
