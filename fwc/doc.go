// Package fwc writes firmware components to storage.
//
// A component is one payload of an upgrade image. Its metadata names one
// or more partitions; every partition receives an identical copy.
//
//	set, err := fwc.Prepare(table, meta.Partition)
//	w, err := fwc.Start(meta, set)
//	for chunk := range chunks {
//	    if _, err := w.Write(chunk); err != nil {
//	        // *IOError: the chunk was not consumed and may be sent again
//	    }
//	}
//	err = w.End() // *CRCMismatchError if the read-back does not match
//
// Each partition is erased on demand just ahead of the data, using the
// largest erase size that fits. No region is erased twice. The CRC is
// computed from what was actually stored on the first partition, not from
// the bytes that were received.
package fwc
