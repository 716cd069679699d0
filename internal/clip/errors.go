package clip

import "errors"

// Error kinds shared by every component. Callers wrap them with fmt.Errorf
// and test with errors.Is.
var (
	// ErrParse marks a sync file that could not be decoded. Recoverable: the
	// trigger is skipped and the next write is picked up normally.
	ErrParse = errors.New("sync file parse error")

	// ErrSourceMissing marks a payload file that does not exist in the source
	// directory. The history record is still written, without a checksum.
	ErrSourceMissing = errors.New("source file missing")

	// ErrIOFailure marks a failed copy, hash or delete of a single artifact.
	ErrIOFailure = errors.New("artifact io failure")

	// ErrConfig marks invalid configuration. Fatal at startup only.
	ErrConfig = errors.New("invalid configuration")

	// ErrDelivery marks a failed notification push. Never surfaced to ingestion.
	ErrDelivery = errors.New("notification delivery failed")
)
