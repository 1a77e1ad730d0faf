package models

import "time"

// DiagnosisRecord is one entry of a session's history. Records are
// append-only; Confidence is a percentage in [0,100].
type DiagnosisRecord struct {
	Filename   string    `json:"filename"`
	Prediction Label     `json:"prediction"`
	Confidence float64   `json:"confidence"`
	ImageRef   string    `json:"image_url"`
	CreatedAt  time.Time `json:"created_at"`
}
