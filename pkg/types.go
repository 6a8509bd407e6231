package pkg

import "time"

// SessionStatus tracks whether a pre-consultation is still collecting data.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
)

// Session represents a patient pre-consultation.  It is keyed by a UUID and
// optionally carries the name the patient gave at the start.
type Session struct {
	ID          string        `json:"id"`
	PatientName string        `json:"patient_name,omitempty"`
	Status      SessionStatus `json:"status"`
	MessageCap  int           `json:"message_cap"`
	CreatedAt   time.Time     `json:"created_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// MessageRole describes who authored a message.  The values match the roles
// used in completion requests so transcripts can be replayed directly.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message represents a chat message in a session.
type Message struct {
	ID        int64       `json:"id"`
	SessionID string      `json:"session_id"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
}

// Summary holds the doctor-facing view of a session's symptom record.
// KeyPoints has one line per symptom; FreeText is a short paragraph.
type Summary struct {
	SessionID string        `json:"session_id"`
	KeyPoints []string      `json:"key_points"`
	FreeText  string        `json:"free_text"`
	Record    SymptomRecord `json:"record"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// CreateSessionRequest is the body of POST /api/sessions.
type CreateSessionRequest struct {
	PatientName string `json:"patient_name"`
}

// CreateSessionResponse is returned when a session is opened.
type CreateSessionResponse struct {
	SessionID    string `json:"session_id"`
	FirstMessage string `json:"first_message"`
}

// ChatRequest represents a request to send a message from the patient.
type ChatRequest struct {
	Content string `json:"content"`
}

// ChatResponse contains the assistant's reply, the updated symptom record and
// whether the session is capped due to exceeding the message limit.
type ChatResponse struct {
	Reply     string        `json:"reply"`
	OffTopic  bool          `json:"off_topic"`
	Extracted SymptomRecord `json:"extracted"`
	Capped    bool          `json:"capped"`
}

// DoctorSessionPreview is returned in the list of sessions for the doctor
// dashboard.
type DoctorSessionPreview struct {
	SessionID    string        `json:"session_id"`
	PatientName  string        `json:"patient_name,omitempty"`
	Status       SessionStatus `json:"status"`
	SymptomCount int           `json:"symptom_count"`
	KeyPoints    []string      `json:"key_points"`
	UpdatedAt    time.Time     `json:"updated_at"`
}
