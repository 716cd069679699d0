package model

import (
	"fmt"
	"time"
)

// PayloadType is the declared kind of a clipboard event.
type PayloadType string

const (
	PayloadText  PayloadType = "Text"
	PayloadImage PayloadType = "Image"
	PayloadFile  PayloadType = "File"
	PayloadGroup PayloadType = "Group"
)

// ParsePayloadType validates the Type field of a sync event.
// Matching is exact, the sync client always writes the capitalised form.
func ParsePayloadType(s string) (PayloadType, error) {
	switch t := PayloadType(s); t {
	case PayloadText, PayloadImage, PayloadFile, PayloadGroup:
		return t, nil
	default:
		return "", fmt.Errorf("unknown payload type %q", s)
	}
}

// HasArtifact reports whether events of this type carry a binary payload
// that belongs in the backup store.
func (t PayloadType) HasArtifact() bool {
	return t == PayloadImage || t == PayloadFile || t == PayloadGroup
}

// SyncEvent is the JSON object the clipboard-sync client writes to the sync file.
type SyncEvent struct {
	Type      string `json:"Type"`
	Clipboard string `json:"Clipboard"`
	File      string `json:"File"`
	From      string `json:"From"`
	Tag       string `json:"Tag"`
}

// HistoryRecord is one immutable audit entry per observed clipboard event.
// Empty optional fields (SourceDevice, Tag, Checksum) are stored as NULL.
type HistoryRecord struct {
	ID             int64       // Assigned on insert
	UUID           string      // Generated at creation, never reused
	PayloadType    PayloadType // Text, Image, File or Group
	RawPayload     string      // Verbatim sync file content
	ClipboardValue string      // Text content, or checksum as supplied by the client
	SourceDevice   string
	Tag            string
	Checksum       string // Set iff a backup artifact exists for this event
	Timestamp      time.Time
}

// Artifact is one stored, deduplicated copy of binary payload content.
type Artifact struct {
	Checksum  string    // Lowercase hex content hash, primary identity
	Path      string    // Absolute path inside the backup directory
	Size      int64     // Length of the copied file in bytes
	CreatedAt time.Time // Registration time, used for eviction ordering
}

// HistoryFilter narrows a history listing. Zero values disable each condition.
type HistoryFilter struct {
	Type         PayloadType
	SourceDevice string
	Since        time.Time
	Until        time.Time
	Limit        int
	Offset       int
}
