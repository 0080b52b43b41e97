package entities

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConsultation_DeriveUniqueTag(t *testing.T) {
	tests := []struct {
		name string
		c    Consultation
		want string
	}{
		{
			name: "extracted date wins",
			c: Consultation{
				PatientName:   "  Max  ",
				ConsultedAt:   time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC),
				ExtractedInfo: ExtractedInfo{Administrative: AdministrativeInfo{Date: "2024-12-15"}},
			},
			want: "2024-12-15_max",
		},
		{
			name: "unparseable extracted date falls back to visit time",
			c: Consultation{
				PatientName:   "Mr   Whiskers",
				ConsultedAt:   time.Date(2025, 1, 7, 23, 30, 0, 0, time.UTC),
				ExtractedInfo: ExtractedInfo{Administrative: AdministrativeInfo{Date: "last tuesday"}},
			},
			want: "2025-01-07_mr-whiskers",
		},
		{
			name: "visit time is normalised to UTC",
			c: Consultation{
				PatientName: "Luna",
				ConsultedAt: time.Date(2025, 1, 8, 1, 0, 0, 0, time.FixedZone("CET", 3600)),
			},
			want: "2025-01-08_luna",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.c.DeriveUniqueTag())
		})
	}
}

func TestConsultation_EpisodeText(t *testing.T) {
	c := Consultation{
		PatientName:   "Max",
		Species:       "Dog",
		VetName:       "Dr. Sarah Smith",
		Transcription: strings.Repeat("a", 600),
		Summary:       "Gastroenteritis.",
		ExtractedInfo: ExtractedInfo{
			Administrative: AdministrativeInfo{Date: "2024-12-30"},
			Clinical: ClinicalInfo{
				ChiefComplaint: "Vomiting",
				Diagnosis:      "Acute gastroenteritis",
				Medications:    []string{"Cerenia", "Diet i/d"},
			},
		},
	}

	text := c.EpisodeText()

	assert.Contains(t, text, "Patient: Max")
	assert.Contains(t, text, "Owner: Unknown")
	assert.Contains(t, text, "Date: 2024-12-30")
	assert.Contains(t, text, "Medications: Cerenia, Diet i/d")
	assert.Contains(t, text, "Transcription: "+strings.Repeat("a", 500)+"...")
	assert.NotContains(t, text, "Treatment:")
}

func TestConsultation_EmbeddingText_FallsBackToTranscription(t *testing.T) {
	c := Consultation{PatientName: "Luna", Transcription: "Limping on left hind leg."}
	assert.Contains(t, c.EmbeddingText(), "Transcription: Limping on left hind leg.")

	c.Summary = "Sprain."
	assert.NotContains(t, c.EmbeddingText(), "Transcription")
}

func TestTruncate_RespectsRuneBoundaries(t *testing.T) {
	assert.Equal(t, "ab", truncate("abé", 3))
	assert.Equal(t, "abé", truncate("abé", 4))
}

func TestConsultation_Clone_SharesNoSlices(t *testing.T) {
	c := &Consultation{
		ID:          "c1",
		Tags:        []string{"dog"},
		Embedding:   []float32{1, 0},
		Attachments: []Attachment{{ID: "a1", Name: "lab.pdf", Data: []byte("pdf")}},
		ExtractedInfo: ExtractedInfo{
			Clinical: ClinicalInfo{Medications: []string{"Cerenia"}},
		},
	}

	clone := c.Clone()
	c.Tags[0] = "cat"
	c.Embedding[0] = 0
	c.Attachments[0].ID = "changed"
	c.Attachments[0].Data[0] = 'x'
	c.ExtractedInfo.Clinical.Medications[0] = "Metacam"

	assert.Equal(t, []string{"dog"}, clone.Tags)
	assert.Equal(t, []float32{1, 0}, clone.Embedding)
	assert.Equal(t, "a1", clone.Attachments[0].ID)
	assert.Equal(t, []byte("pdf"), clone.Attachments[0].Data)
	assert.Equal(t, []string{"Cerenia"}, clone.ExtractedInfo.Clinical.Medications)
}
