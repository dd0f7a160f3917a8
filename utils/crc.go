package utils

import "hash/crc32"

func GenerateCrc(parts ...[]byte) uint32 {
	h := crc32.NewIEEE()
	for _, p := range parts {
		_, _ = h.Write(p)
	}
	return h.Sum32()
}

func CheckCrc(crc uint32, parts ...[]byte) bool {
	return GenerateCrc(parts...) == crc
}
