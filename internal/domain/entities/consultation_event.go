package entities

import (
	"time"

	"github.com/google/uuid"
)

// ConsultationEventType represents the type of consultation lifecycle event
type ConsultationEventType string

const (
	ConsultationEventProcessing    ConsultationEventType = "consultation.processing"
	ConsultationEventStepCompleted ConsultationEventType = "consultation.step_completed"
	ConsultationEventStepFailed    ConsultationEventType = "consultation.step_failed"
	ConsultationEventSaved         ConsultationEventType = "consultation.saved"
	ConsultationEventUpdated       ConsultationEventType = "consultation.updated"
	ConsultationEventDeleted       ConsultationEventType = "consultation.deleted"
)

// ConsultationEvent is published on the event bus as a record moves through
// the pipeline and later when it is edited or removed.
type ConsultationEvent struct {
	ID             string                `json:"id"`
	ConsultationID string                `json:"consultation_id"`
	PatientName    string                `json:"patient_name"`
	EventType      ConsultationEventType `json:"event_type"`
	Step           string                `json:"step,omitempty"`
	Message        string                `json:"message,omitempty"`
	Timestamp      time.Time             `json:"timestamp"`
}

// NewConsultationEvent creates a new consultation event
func NewConsultationEvent(consultationID, patientName string, eventType ConsultationEventType) *ConsultationEvent {
	return &ConsultationEvent{
		ID:             uuid.NewString(),
		ConsultationID: consultationID,
		PatientName:    patientName,
		EventType:      eventType,
		Timestamp:      time.Now().UTC(),
	}
}

// WithStep sets the pipeline step and message.
func (e *ConsultationEvent) WithStep(step, message string) *ConsultationEvent {
	e.Step = step
	e.Message = message
	return e
}

// IsTerminal reports whether no further events follow for this consultation's ingest.
func (e *ConsultationEvent) IsTerminal() bool {
	return e.EventType == ConsultationEventSaved || e.EventType == ConsultationEventDeleted ||
		(e.EventType == ConsultationEventStepFailed && e.Step == "persist")
}
