package framing

import (
	"fmt"
	"hash/crc32"
)

// Checksum computes the integrity value of a frame body.
type Checksum interface {
	// Name identifies the algorithm in configuration.
	Name() string
	// Size is the width of the checksum field in bytes (1, 2 or 4).
	Size() int
	// Compute returns the checksum of data, fitting in Size bytes.
	Compute(data []byte) uint32
}

type sum8 struct{}

func (sum8) Name() string { return "sum8" }
func (sum8) Size() int    { return 1 }
func (sum8) Compute(data []byte) uint32 {
	var s byte
	for _, b := range data {
		s += b
	}
	return uint32(s)
}

type sum16 struct{}

func (sum16) Name() string { return "sum16" }
func (sum16) Size() int    { return 2 }
func (sum16) Compute(data []byte) uint32 {
	var s uint16
	for _, b := range data {
		s += uint16(b)
	}
	return uint32(s)
}

type crc16CCITT struct{}

func (crc16CCITT) Name() string { return "crc16-ccitt" }
func (crc16CCITT) Size() int    { return 2 }

// Compute implements CRC-16/CCITT-FALSE: poly 0x1021, init 0xffff.
func (crc16CCITT) Compute(data []byte) uint32 {
	crc := uint16(0xffff)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return uint32(crc)
}

type crc32IEEE struct{}

func (crc32IEEE) Name() string               { return "crc32" }
func (crc32IEEE) Size() int                  { return 4 }
func (crc32IEEE) Compute(data []byte) uint32 { return crc32.ChecksumIEEE(data) }

// Predefined checksums.
var (
	Sum8       Checksum = sum8{}
	Sum16      Checksum = sum16{}
	CRC16CCITT Checksum = crc16CCITT{}
	CRC32      Checksum = crc32IEEE{}
)

var checksums = map[string]Checksum{
	Sum8.Name():       Sum8,
	Sum16.Name():      Sum16,
	CRC16CCITT.Name(): CRC16CCITT,
	CRC32.Name():      CRC32,
}

// ChecksumByName looks up a predefined checksum.
func ChecksumByName(name string) (Checksum, error) {
	if c, ok := checksums[name]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("unknown checksum %q", name)
}
