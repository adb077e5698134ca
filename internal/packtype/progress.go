package packtype

// ProgressEvent represents a progress update during scan, replace, import or extraction.
type ProgressEvent struct {
	// Stage identifies the current phase of the operation.
	Stage ProgressStage

	// Path is the file currently being processed, if applicable.
	Path string

	// Message is a free-form, human readable description.
	Message string

	// BytesDone is the number of bytes completed in the current operation.
	BytesDone uint64

	// BytesTotal is the total bytes for the current operation.
	// Zero indicates the total is unknown.
	BytesTotal uint64

	// FilesDone is the number of files completed.
	FilesDone int

	// FilesTotal is the total number of files.
	// Zero indicates the total is unknown.
	FilesTotal int
}

// ProgressStage identifies the current phase of an operation.
type ProgressStage uint8

// Progress stages.
const (
	// StageScanning indicates records are being decoded front to back.
	StageScanning ProgressStage = iota

	// StageResolving indicates directory references are being resolved.
	StageResolving

	// StageReplacing indicates file content is being written into the pack.
	StageReplacing

	// StageImporting indicates a batch import is walking its source.
	StageImporting

	// StageExtracting indicates files are being extracted.
	StageExtracting

	// StageChecking indicates the pack is being verified.
	StageChecking
)

// String returns the string representation of the stage.
func (s ProgressStage) String() string {
	switch s {
	case StageScanning:
		return "scanning"
	case StageResolving:
		return "resolving"
	case StageReplacing:
		return "replacing"
	case StageImporting:
		return "importing"
	case StageExtracting:
		return "extracting"
	case StageChecking:
		return "checking"
	default:
		return "unknown"
	}
}

// ProgressFunc receives progress updates during operations.
// Implementations must be safe for concurrent calls.
type ProgressFunc func(ProgressEvent)
