package libpf // import "github.com/elastic/otel-profiling-report/libpf"

// ImageKind classifies where an Image's code executes.
type ImageKind int

const (
	// ImageUser identifies a normal userspace ELF (executable or shared
	// object).
	ImageUser ImageKind = iota
	// ImageKernel identifies the kernel image or one of its modules.
	ImageKernel
	// ImageUnknown identifies a mapping the symbolizer could not attach a
	// DSO to at all (e.g. an anonymous or since-unmapped region). Frames
	// pointing into an ImageUnknown image are dropped from call chains
	// per spec.
	ImageUnknown
)

func (k ImageKind) String() string {
	switch k {
	case ImageUser:
		return "user"
	case ImageKernel:
		return "kernel"
	default:
		return "unknown"
	}
}

// Image is the report-facing view of a DSO: a stable path to print plus
// enough identity to deduplicate mappings of the same backing file across
// threads and processes. The engine treats it as opaque and read-only.
type Image struct {
	// Path is the string printed as the "dso" column, e.g.
	// "/usr/lib/libc.so.6" or "[kernel.kallsyms]".
	Path string

	Kind ImageKind

	// ID identifies the backing file (a hash of its name, see FileID); it
	// is not printed.
	ID FileID
}

// IsUnknown reports whether the image resolves to no known DSO at all.
func (img *Image) IsUnknown() bool {
	return img == nil || img.Kind == ImageUnknown
}
