package entities

// CountEntry is one bucket of an analytics breakdown.
type CountEntry struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// AnalyticsSummary aggregates the consultation history for the analytics view.
type AnalyticsSummary struct {
	TotalConsultations int          `json:"total_consultations"`
	UniquePatients     int          `json:"unique_patients"`
	BySpecies          []CountEntry `json:"by_species"`
	ByVet              []CountEntry `json:"by_vet"`
	ByMonth            []CountEntry `json:"by_month"`
	TopDiagnoses       []CountEntry `json:"top_diagnoses"`
	EmbeddedCount      int          `json:"embedded_count"`
	PartialCount       int          `json:"partial_count"`
}

// ExecutiveSummary is the LLM narrative over a set of consultations.
type ExecutiveSummary struct {
	Summary           string `json:"summary"`
	ConsultationCount int    `json:"consultation_count"`
}

// AssistantAnswer is the result of a question asked against the records.
type AssistantAnswer struct {
	Question string            `json:"question"`
	Answer   string            `json:"answer"`
	Sources  []string          `json:"sources"`
	Context  []SearchCandidate `json:"context"`
}
