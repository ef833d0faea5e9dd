package domain

import "time"

// Cursor is the durable marker of the last block fully processed by one event source.
type Cursor struct {
	Source      string
	BlockNumber uint64
	UpdatedAt   time.Time
}

// SourceName builds the cursor key for a contract and event kind.
func SourceName(contract string, kind EventKind) string {
	return contract + ":" + string(kind)
}
