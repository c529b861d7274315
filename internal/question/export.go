package question

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/kwatson/querydesk/pkg/models"
)

// ExportJSON renders a batch result as indented JSON.
func ExportJSON(batch *models.BatchResult) ([]byte, error) {
	data, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding batch result: %w", err)
	}
	return data, nil
}

// ExportCSV renders a batch's per-question results as CSV, one row per
// question in submission order.
func ExportCSV(batch *models.BatchResult) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{
		"question_id", "question_text", "success", "confidence_score",
		"processing_time", "fragments_found", "response", "error",
	}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("writing csv header: %w", err)
	}

	for _, r := range batch.Results {
		row := []string{
			r.QuestionID,
			r.QuestionText,
			strconv.FormatBool(r.Success),
			strconv.FormatFloat(r.ConfidenceScore, 'f', 3, 64),
			strconv.FormatFloat(r.ProcessingTime, 'f', 2, 64),
			strings.Join(r.FragmentsFound, "; "),
			r.Response,
			r.Error,
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("writing csv row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flushing csv: %w", err)
	}
	return buf.Bytes(), nil
}
