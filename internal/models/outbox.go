package models

// OutboxKind is the type of queued work.
type OutboxKind string

const (
	// OutboxLedgerAppend replays a client write against the ledger.
	OutboxLedgerAppend OutboxKind = "ledger_append"
	// OutboxNotification delivers a notification to the dispatcher.
	OutboxNotification OutboxKind = "notification"
)

// OutboxStatus is the delivery state of an outbox entry.
type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "pending"
	OutboxLeased    OutboxStatus = "leased"
	OutboxSucceeded OutboxStatus = "succeeded"
	OutboxDead      OutboxStatus = "dead"
)

// OutboxEntry is a durably queued unit of work.
type OutboxEntry struct {
	ID   string
	Kind OutboxKind

	// Payload is the JSON encoded work item.
	Payload []byte

	// DedupeKey is unique; enqueueing the same key twice is a no-op.
	DedupeKey string

	Status        OutboxStatus
	AttemptCount  int
	NextAttemptAt int64
	LeaseOwner    string
	LeaseExpires  int64
	LastError     string
	CreatedAt     int64
	UpdatedAt     int64
}
