package question

import "github.com/kwatson/querydesk/pkg/models"

// Confidence buckets over successful results only.
const (
	bucketHigh   = "high (0.8-1.0)"
	bucketMedium = "medium (0.5-0.8)"
	bucketLow    = "low (0.0-0.5)"
)

// Summarize rolls a batch's results into the diagnostic summary attached to
// every completed question job.
func Summarize(results []models.QuestionResult) models.BatchSummary {
	summary := models.BatchSummary{
		TotalQuestions: len(results),
		ConfidenceBuckets: map[string]int{
			bucketHigh:   0,
			bucketMedium: 0,
			bucketLow:    0,
		},
		ErrorTypes: map[string]int{},
	}

	var confidenceSum, timeSum float64
	for _, r := range results {
		timeSum += r.ProcessingTime

		if !r.Success {
			summary.FailedQuestions++
			summary.ErrorTypes[errorType(r.Error)]++
			continue
		}

		summary.SuccessfulQuestions++
		confidenceSum += r.ConfidenceScore
		switch {
		case r.ConfidenceScore >= 0.8:
			summary.ConfidenceBuckets[bucketHigh]++
		case r.ConfidenceScore >= 0.5:
			summary.ConfidenceBuckets[bucketMedium]++
		default:
			summary.ConfidenceBuckets[bucketLow]++
		}
	}

	if summary.TotalQuestions > 0 {
		summary.SuccessRate = float64(summary.SuccessfulQuestions) / float64(summary.TotalQuestions)
		summary.AverageProcessingTime = timeSum / float64(summary.TotalQuestions)
	}
	if summary.SuccessfulQuestions > 0 {
		summary.AverageConfidence = confidenceSum / float64(summary.SuccessfulQuestions)
	}
	return summary
}

// BuildBatchResult assembles the terminal result payload for a question job.
// Its shape is stable for downstream export and reporting.
func BuildBatchResult(jobID, workspaceID string, results []models.QuestionResult, totalProcessingTime float64) *models.BatchResult {
	summary := Summarize(results)
	return &models.BatchResult{
		JobID:               jobID,
		WorkspaceID:         workspaceID,
		Results:             results,
		Summary:             summary,
		TotalQuestions:      summary.TotalQuestions,
		SuccessfulQuestions: summary.SuccessfulQuestions,
		FailedQuestions:     summary.FailedQuestions,
		TotalProcessingTime: totalProcessingTime,
		AverageConfidence:   summary.AverageConfidence,
	}
}

// errorType extracts the leading token before ":" from a failure message so
// similar failures group together.
func errorType(msg string) string {
	for i := 0; i < len(msg); i++ {
		if msg[i] == ':' {
			return msg[:i]
		}
	}
	return "Unknown"
}
