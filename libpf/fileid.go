package libpf // import "github.com/elastic/otel-profiling-report/libpf"

import (
	"encoding/hex"

	sha256 "github.com/minio/sha256-simd"
)

// FileID identifies the backing file of an Image by a SHA-256 hash. The
// registry computes it from the mapped file's name, not its contents.
type FileID [sha256.Size]byte

// FileIDFromBytes hashes the given bytes (the registry passes the mapped
// file's name) into a FileID. sha256-simd picks
// the fastest available AVX2/SHA-NI implementation at init time, which
// matters here because every newly observed mapping computes one of these.
func FileIDFromBytes(b []byte) FileID {
	return FileID(sha256.Sum256(b))
}

// String returns the hex representation of the file ID.
func (f FileID) String() string {
	return hex.EncodeToString(f[:])
}
