// Package storage provides the storage backends written by the upgrade
// engine.
//
// A Backend erases, writes and reads bytes and reports its program and
// erase granularity. Three emulated device types are provided, each backed
// by a Medium (memory or a file):
//
//   - NOR: byte programmable, 4/32/64 KiB erase, programming only clears bits
//   - NAND: page programmable, eraseblock erase, bad blocks skipped
//   - Block: 512 byte sectors, no erase needed (eMMC, SD)
//
// A Table splits a device into named partitions and resolves partition
// names for the component writer. Tables are built from an mtdparts string
// or from a flash map:
//
//	dev, _ := storage.NewNOR("spi0", storage.NewMemory(16<<20, 0xFF), 16<<20)
//	tbl, err := storage.ParseMTDParts("spi0:128k(spl0),128k(spl1),-(rootfs)", dev)
//
// EraseBoot and EraseRange implement the maintenance erase command.
package storage
