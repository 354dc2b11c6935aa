package libpf // import "github.com/elastic/otel-profiling-report/libpf"

// PID represents a Unix process ID (pid_t).
type PID uint32

func (p PID) Hash32() uint32 {
	return uint32(p)
}

// TID represents a Unix thread ID (tid, the pid_t of a task in a thread
// group).
type TID uint32

func (t TID) Hash32() uint32 {
	return uint32(t)
}
