package entities

// SearchHit is one consultation matched by a search tier. Score is nil when
// the tier does not produce one.
type SearchHit struct {
	Consultation *Consultation `json:"consultation"`
	Score        *float64      `json:"score,omitempty"`
}

// SearchOutcome is the answer of the first search tier that found anything.
type SearchOutcome struct {
	Query string      `json:"query"`
	Tier  string      `json:"tier"`
	Hits  []SearchHit `json:"hits"`
}

// ConsultationMatch is a row returned by the database similarity function.
type ConsultationMatch struct {
	Consultation *Consultation `json:"consultation"`
	Similarity   float64       `json:"similarity"`
}

// SearchCandidate is the compact digest of a record sent to the LLM tier.
type SearchCandidate struct {
	ID        string `json:"id"`
	Date      string `json:"date"`
	Patient   string `json:"patient"`
	Species   string `json:"species,omitempty"`
	Diagnosis string `json:"diagnosis,omitempty"`
	Summary   string `json:"summary,omitempty"`
}

// Candidate builds the LLM search digest for c.
func (c *Consultation) Candidate(summaryLimit int) SearchCandidate {
	summary := c.Summary
	if summaryLimit > 0 && len(summary) > summaryLimit {
		summary = truncate(summary, summaryLimit)
	}
	return SearchCandidate{
		ID:        c.ID,
		Date:      c.VisitDate(),
		Patient:   c.PatientName,
		Species:   c.Species,
		Diagnosis: c.ExtractedInfo.Clinical.Diagnosis,
		Summary:   summary,
	}
}
