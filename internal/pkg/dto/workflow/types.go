package workflow

import "time"

// ConceptMapping is one target of a terminology translation.
type ConceptMapping struct {
	MapType   string `json:"mapType"`
	ToSystem  string `json:"toSystem"`
	ToCode    string `json:"toCode"`
	ToDisplay string `json:"toDisplay,omitempty"`
}

// IdentityKey is the identifier a patient is reconciled on across systems.
type IdentityKey struct {
	System string `json:"system"`
	Value  string `json:"value"`
}

func (k IdentityKey) Token() string {
	return k.System + "|" + k.Value
}

// FacilityMapping is one row of the ordering to receiving facility table.
type FacilityMapping struct {
	OrderingCode  string
	OrderingName  string
	ReceivingCode string
	ReceivingName string
}

// ArchiveRecord is one outbound HL7 exchange kept for audit.
type ArchiveRecord struct {
	TaskID      string
	ControlID   string
	MessageType string
	TargetHost  string
	TargetPort  int
	Message     string
	Ack         string
	Accepted    bool
	SentAt      time.Time
}

// JournalEntry records the outcome of one saga step execution.
type JournalEntry struct {
	Topic     string        `bson:"topic"`
	TaskID    string        `bson:"task_id,omitempty"`
	Kind      string        `bson:"kind"`
	Success   bool          `bson:"success"`
	Error     string        `bson:"error,omitempty"`
	Duration  time.Duration `bson:"duration"`
	CreatedAt time.Time     `bson:"created_at"`
}
