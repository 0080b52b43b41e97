package entities

import (
	"regexp"
	"slices"
	"strings"
	"time"
)

// ConsultationStatus tracks how far the ingest pipeline got for a record.
type ConsultationStatus string

const (
	ConsultationStatusProcessing ConsultationStatus = "processing"
	ConsultationStatusComplete   ConsultationStatus = "complete"
	ConsultationStatusPartial    ConsultationStatus = "partial"
)

// Consultation is one veterinary visit record.
type Consultation struct {
	ID               string             `json:"id" db:"id"`
	CreatedAt        time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at" db:"updated_at"`
	ConsultedAt      time.Time          `json:"consulted_at" db:"consulted_at"`
	VetName          string             `json:"vet_name" db:"vet_name"`
	OwnerName        string             `json:"owner_name" db:"owner_name"`
	PatientName      string             `json:"patient_name" db:"patient_name"`
	Species          string             `json:"species" db:"species"`
	Transcription    string             `json:"transcription" db:"transcription"`
	Summary          string             `json:"summary" db:"summary"`
	ExtractedInfo    ExtractedInfo      `json:"extracted_info" db:"extracted_info"`
	Tags             []string           `json:"tags" db:"tags"`
	UniqueTag        string             `json:"unique_tag" db:"unique_tag"`
	Embedding        []float32          `json:"-" db:"embedding"`
	EmbeddingModel   string             `json:"embedding_model,omitempty" db:"embedding_model"`
	ContentHash      string             `json:"-" db:"content_hash"`
	Status           ConsultationStatus `json:"status" db:"status"`
	ProcessingErrors []string           `json:"processing_errors,omitempty" db:"processing_errors"`
	Attachments      []Attachment       `json:"attachments,omitempty" db:"-"`
}

// ExtractedInfo is the structured record the extraction prompt produces.
type ExtractedInfo struct {
	Administrative AdministrativeInfo `json:"administrative"`
	Clinical       ClinicalInfo       `json:"clinical"`
}

// AdministrativeInfo holds visit and patient identification fields.
type AdministrativeInfo struct {
	Date         string `json:"date"`
	Species      string `json:"species"`
	Breed        string `json:"breed"`
	Age          string `json:"age"`
	Sex          string `json:"sex"`
	OwnerContact string `json:"owner_contact,omitempty"`
}

// ClinicalInfo holds the medical content of a visit.
type ClinicalInfo struct {
	ChiefComplaint string   `json:"chief_complaint"`
	History        string   `json:"history,omitempty"`
	PhysicalExam   string   `json:"physical_exam,omitempty"`
	Diagnosis      string   `json:"diagnosis"`
	Treatment      string   `json:"treatment"`
	Medications    []string `json:"medications"`
	Vitals         Vitals   `json:"vitals"`
	FollowUp       string   `json:"follow_up,omitempty"`
}

// Vitals are free-text readings as dictated, units included.
type Vitals struct {
	Temperature     string `json:"temperature,omitempty"`
	Weight          string `json:"weight,omitempty"`
	HeartRate       string `json:"heart_rate,omitempty"`
	RespiratoryRate string `json:"respiratory_rate,omitempty"`
}

// IsEmpty reports whether extraction produced nothing usable.
func (e ExtractedInfo) IsEmpty() bool {
	a, c := e.Administrative, e.Clinical
	return a.Date == "" && a.Species == "" && a.Breed == "" && a.Age == "" && a.Sex == "" &&
		c.ChiefComplaint == "" && c.Diagnosis == "" && c.Treatment == "" && len(c.Medications) == 0
}

// Clone returns a deep copy that shares no slices with c. Attachment
// payloads are copied too.
func (c *Consultation) Clone() *Consultation {
	out := *c
	out.ExtractedInfo.Clinical.Medications = slices.Clone(c.ExtractedInfo.Clinical.Medications)
	out.Tags = slices.Clone(c.Tags)
	out.Embedding = slices.Clone(c.Embedding)
	out.ProcessingErrors = slices.Clone(c.ProcessingErrors)
	out.Attachments = slices.Clone(c.Attachments)
	for i := range out.Attachments {
		out.Attachments[i].Data = slices.Clone(c.Attachments[i].Data)
	}
	return &out
}

// HasEmbedding reports whether the record carries a vector.
func (c *Consultation) HasEmbedding() bool {
	return len(c.Embedding) > 0
}

// VisitDate returns the visit date as YYYY-MM-DD. The extracted date wins when
// it parses; otherwise ConsultedAt is used.
func (c *Consultation) VisitDate() string {
	if d := strings.TrimSpace(c.ExtractedInfo.Administrative.Date); d != "" {
		if t, err := time.Parse("2006-01-02", d); err == nil {
			return t.Format("2006-01-02")
		}
	}
	at := c.ConsultedAt
	if at.IsZero() {
		at = c.CreatedAt
	}
	return at.UTC().Format("2006-01-02")
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// NormalizePatientName lower-cases a name and joins its words with dashes.
func NormalizePatientName(name string) string {
	trimmed := strings.ToLower(strings.TrimSpace(name))
	return whitespaceRun.ReplaceAllString(trimmed, "-")
}

// DeriveUniqueTag computes the date+patient composite the database keeps unique.
func (c *Consultation) DeriveUniqueTag() string {
	return c.VisitDate() + "_" + NormalizePatientName(c.PatientName)
}

// EmbeddingText is the text a consultation is embedded from.
func (c *Consultation) EmbeddingText() string {
	parts := make([]string, 0, 6)
	add := func(label, value string) {
		if v := strings.TrimSpace(value); v != "" {
			parts = append(parts, label+": "+v)
		}
	}
	add("Patient", c.PatientName)
	add("Species", c.Species)
	add("Summary", c.Summary)
	add("Chief complaint", c.ExtractedInfo.Clinical.ChiefComplaint)
	add("Diagnosis", c.ExtractedInfo.Clinical.Diagnosis)
	add("Treatment", c.ExtractedInfo.Clinical.Treatment)
	if len(parts) == 0 || (c.Summary == "" && c.ExtractedInfo.IsEmpty()) {
		add("Transcription", truncate(c.Transcription, 4000))
	}
	return strings.Join(parts, "\n")
}

// EpisodeText renders the consultation as a context block for question answering.
func (c *Consultation) EpisodeText() string {
	lines := []string{
		"Patient: " + orUnknown(c.PatientName),
		"Species: " + orUnknown(c.Species),
		"Owner: " + orUnknown(c.OwnerName),
		"Veterinarian: " + orUnknown(c.VetName),
		"Date: " + c.VisitDate(),
	}
	clinical := c.ExtractedInfo.Clinical
	if clinical.ChiefComplaint != "" {
		lines = append(lines, "Chief Complaint: "+clinical.ChiefComplaint)
	}
	if clinical.Diagnosis != "" {
		lines = append(lines, "Diagnosis: "+clinical.Diagnosis)
	}
	if clinical.Treatment != "" {
		lines = append(lines, "Treatment: "+clinical.Treatment)
	}
	if len(clinical.Medications) > 0 {
		lines = append(lines, "Medications: "+strings.Join(clinical.Medications, ", "))
	}
	if c.Transcription != "" {
		t := c.Transcription
		if len(t) > 500 {
			t = truncate(t, 500) + "..."
		}
		lines = append(lines, "Transcription: "+t)
	}
	if c.Summary != "" {
		lines = append(lines, "Summary: "+c.Summary)
	}
	return strings.Join(lines, "\n")
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Unknown"
	}
	return s
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
