// Package lifecycle consumes CMS record-lifecycle events from Kafka and
// drives the index manager: persisted records are upserted, removed records
// are tombstoned. It also publishes rebuild-complete notifications.
package lifecycle

import "time"

const (
	// EventPersisted signals a record was created or updated in the CMS.
	EventPersisted = "persisted"
	// EventRemoved signals a record was deleted or unpublished.
	EventRemoved = "removed"
)

// RecordEvent is the Kafka message payload for one record-lifecycle change.
type RecordEvent struct {
	Type       string            `json:"type"`
	Class      string            `json:"class"`
	ObjectID   string            `json:"object_id"`
	LastEdited time.Time         `json:"last_edited"`
	Fields     map[string]string `json:"fields,omitempty"`
}

// RebuildCompleteEvent is published after a rebuild swaps a new generation
// in, so downstream caches and dashboards can react.
type RebuildCompleteEvent struct {
	Generation  string    `json:"generation"`
	Records     int       `json:"records"`
	CompletedAt time.Time `json:"completed_at"`
}
