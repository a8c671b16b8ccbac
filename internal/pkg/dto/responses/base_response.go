package responses

type ResponseDTO struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// LabOrderAccepted is returned once an order has been placed on the workflow channel.
type LabOrderAccepted struct {
	TaskID string `json:"task_id"`
	Topic  string `json:"topic"`
}

// HL7Queued is returned once an inbound HL7 message has been routed.
type HL7Queued struct {
	ControlID   string `json:"control_id"`
	MessageType string `json:"message_type"`
	Topic       string `json:"topic"`
}

type Health struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}
