package libpf // import "github.com/elastic/otel-profiling-report/libpf"

import "github.com/zeebo/xxh3"

// Address represents an instruction pointer or an offset within an image.
type Address uintptr

// Hash32 returns a 32 bit hash of the address, for use as a cache key.
func (a Address) Hash32() uint32 {
	return uint32(a.Hash())
}

// Hash returns a 64 bit hash of the address.
func (a Address) Hash() uint64 {
	var buf [8]byte
	v := uint64(a)
	for i := range buf {
		buf[i] = byte(v >> (8 * i))
	}
	return xxh3.Hash(buf[:])
}
