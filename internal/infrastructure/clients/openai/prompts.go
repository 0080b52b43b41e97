package openai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vetai/backend/internal/domain/entities"
	"github.com/vetai/backend/internal/domain/providers"
)

const summarizeSystemPrompt = `You are a veterinary clinical scribe. Summarize the consultation transcript for the patient record in 3-5 sentences: presenting problem, key findings, diagnosis, treatment and follow-up. Use plain clinical language. Do not invent details that are not in the transcript.`

const extractSystemPrompt = `You extract structured data from veterinary consultation transcripts. Return ONLY valid JSON with this schema:
{
  "vet_name": string,
  "owner_name": string,
  "patient_name": string,
  "species": string,
  "tags": string[] (up to 8 short lowercase keywords: conditions, body systems, procedures),
  "extracted_info": {
    "administrative": {"date": "YYYY-MM-DD" or "", "species": string, "breed": string, "age": string, "sex": string, "owner_contact": string},
    "clinical": {
      "chief_complaint": string, "history": string, "physical_exam": string,
      "diagnosis": string, "treatment": string, "medications": string[],
      "vitals": {"temperature": string, "weight": string, "heart_rate": string, "respiratory_rate": string},
      "follow_up": string
    }
  }
}
Use an empty string or empty array when the transcript does not say. Keep units as dictated.`

const graphSystemPrompt = `You build knowledge graphs of a veterinary patient's history. Return ONLY valid JSON:
{"nodes": [{"id": string, "label": string, "group": integer, "details": string}], "links": [{"source": node id, "target": node id, "relation": string}]}
Groups: 1 patient, 2 owner, 3 veterinarian, 4 diagnosis, 5 treatment, 6 medication, 7 symptom or other.
Use one node per distinct entity across all consultations and short labels (under 30 characters). Every link must reference node ids that exist. Relations are short verbs such as "owns", "treated", "diagnosed with", "treated with", "prescribed", "presented with".`

const answerSystemPrompt = `You are a veterinary AI assistant. Answer the question using only the patient records provided. Provide a concise, accurate answer. If the records do not contain enough information, say so. Cite specific details such as dates and patient names.`

const searchSystemPrompt = `You find veterinary consultation records that match a search request. You are given the request and a JSON array of record digests. Return ONLY valid JSON: {"ids": string[]} listing the ids of matching records, most relevant first. Return {"ids": []} when nothing matches. Never return ids that are not in the list.`

const executiveSystemPrompt = `You are a veterinary practice analyst. Write an executive summary of the consultations provided for the practice owner: caseload and species mix, the most common presenting problems and diagnoses, notable or serious cases, treatment patterns, and follow-up actions worth attention. Use short paragraphs or bullet points. Do not invent data.`

func buildGraphUserPrompt(patientName string, consultations []*entities.Consultation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Patient: %s\nConsultations (%d):\n", patientName, len(consultations))
	for _, c := range consultations {
		b.WriteString("\n---\n")
		b.WriteString(c.EpisodeText())
	}
	return b.String()
}

func buildAnswerUserPrompt(question, contextText string) string {
	return fmt.Sprintf("Context from patient records:\n%s\n\nQuestion: %s", contextText, question)
}

func buildSearchUserPrompt(query string, candidates []entities.SearchCandidate) (string, error) {
	digest, err := json.Marshal(candidates)
	if err != nil {
		return "", fmt.Errorf("failed to encode search candidates: %w", err)
	}
	return fmt.Sprintf("Search request: %s\n\nRecords:\n%s", query, digest), nil
}

func buildExecutiveUserPrompt(consultations []*entities.Consultation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Consultations (%d):\n", len(consultations))
	for _, c := range consultations {
		clinical := c.ExtractedInfo.Clinical
		fmt.Fprintf(&b, "- %s | %s (%s) | vet: %s | complaint: %s | diagnosis: %s | treatment: %s\n",
			c.VisitDate(), c.PatientName, c.Species, c.VetName,
			clinical.ChiefComplaint, clinical.Diagnosis, clinical.Treatment)
	}
	return b.String()
}

// stripCodeFences removes a Markdown code block wrapper models sometimes add
// around JSON output.
func stripCodeFences(text string) string {
	cleaned := strings.TrimSpace(text)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```")
		if nl := strings.IndexByte(cleaned, '\n'); nl >= 0 && !strings.ContainsAny(cleaned[:nl], "{[") {
			cleaned = cleaned[nl+1:]
		}
		cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")
	}
	return strings.TrimSpace(cleaned)
}

func parseExtraction(data []byte) (*providers.ExtractionResult, error) {
	var result providers.ExtractionResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse extraction payload: %w", err)
	}
	return &result, nil
}

type graphPayload struct {
	Nodes []entities.GraphNode `json:"nodes"`
	Links []graphLinkPayload   `json:"links"`
}

// graphLinkPayload accepts "label" as an alias of "relation".
type graphLinkPayload struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Relation string `json:"relation"`
	Label    string `json:"label"`
}

func parseGraph(data []byte) (*entities.KnowledgeGraphData, error) {
	var payload graphPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse graph payload: %w", err)
	}
	graph := entities.EmptyGraph()
	graph.Nodes = append(graph.Nodes, payload.Nodes...)
	for _, l := range payload.Links {
		relation := l.Relation
		if relation == "" {
			relation = l.Label
		}
		graph.Links = append(graph.Links, entities.GraphLink{Source: l.Source, Target: l.Target, Relation: relation})
	}
	return graph, nil
}

func parseSearchIDs(data []byte) ([]string, error) {
	var payload struct {
		IDs []string `json:"ids"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse search payload: %w", err)
	}
	if payload.IDs == nil {
		return []string{}, nil
	}
	return payload.IDs, nil
}
