package diagnosis

import (
	"fmt"
	"strings"
	"time"
)

// TimestampLayout matches the report naming used by the original analysis
// pipeline.
const TimestampLayout = "2006_01_02_15_04_05"

// Report is the user-facing analysis record.
type Report struct {
	Diagnosis  string  `json:"diagnosis"`
	Confidence float64 `json:"confidence"`
	Timestamp  string  `json:"timestamp"`
}

// Map turns a predicted class index and confidence percentage into a report.
func Map(classes []string, index int, confidence float64) (Report, error) {
	if index < 0 || index >= len(classes) {
		return Report{}, fmt.Errorf("class index %d out of range for %d classes", index, len(classes))
	}
	return Report{
		Diagnosis:  classes[index],
		Confidence: confidence,
		Timestamp:  time.Now().Format(TimestampLayout),
	}, nil
}

// DisplayText decorates a raw class label for end users.
func DisplayText(label string) string {
	if strings.EqualFold(label, "leukemia") {
		return "🔴 Leukemia Detected"
	}
	return "🟢 Normal Blood Smear"
}
