package image

import "hash/crc32"

// Checksum returns the CRC-32 (IEEE, zlib compatible) of data.
func Checksum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// UpdateChecksum folds data into a running CRC-32 started from 0.
func UpdateChecksum(crc uint32, data []byte) uint32 {
	return crc32.Update(crc, crc32.IEEETable, data)
}
