package models

// Question is one unit of work inside a question_processing job. Questions
// are supplied wholesale at submission time and never persisted on their own.
type Question struct {
	ID                string   `json:"id"`
	Text              string   `json:"text"`
	ExpectedFragments []string `json:"expected_fragments,omitempty"`
	Mode              string   `json:"mode,omitempty"`
}

// QuestionResult is the outcome of executing one question. Exactly one result
// is produced per submitted question, including timeouts and provider errors.
// A failed result always carries a zero confidence score.
type QuestionResult struct {
	QuestionID      string         `json:"question_id"`
	QuestionText    string         `json:"question_text"`
	Response        string         `json:"response"`
	ConfidenceScore float64        `json:"confidence_score"`
	ProcessingTime  float64        `json:"processing_time"`
	FragmentsFound  []string       `json:"fragments_found"`
	Success         bool           `json:"success"`
	Error           string         `json:"error,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// BatchSummary is the diagnostic rollup attached to every completed batch.
// ConfidenceDistribution uses fixed buckets over successful results only;
// ErrorTypes tallies the first token before ":" of each failure message.
type BatchSummary struct {
	TotalQuestions        int            `json:"total_questions"`
	SuccessfulQuestions   int            `json:"successful_questions"`
	FailedQuestions       int            `json:"failed_questions"`
	SuccessRate           float64        `json:"success_rate"`
	AverageConfidence     float64        `json:"average_confidence"`
	AverageProcessingTime float64        `json:"average_processing_time"`
	ConfidenceBuckets     map[string]int `json:"confidence_distribution"`
	ErrorTypes            map[string]int `json:"error_types"`
}

// BatchResult is the terminal result payload of a question_processing job.
// Its shape is consumed by downstream export and reporting and must stay
// stable.
type BatchResult struct {
	JobID               string           `json:"job_id"`
	WorkspaceID         string           `json:"workspace_id"`
	Results             []QuestionResult `json:"results"`
	Summary             BatchSummary     `json:"summary"`
	TotalQuestions      int              `json:"total_questions"`
	SuccessfulQuestions int              `json:"successful_questions"`
	FailedQuestions     int              `json:"failed_questions"`
	TotalProcessingTime float64          `json:"total_processing_time"`
	AverageConfidence   float64          `json:"average_confidence"`
}
