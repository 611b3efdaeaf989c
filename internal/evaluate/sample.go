package evaluate

import "time"

// Sample is one recorded validation outcome. Iteration is assigned when the
// sample is appended to a history and is 1-based.
type Sample struct {
	Iteration         int       `json:"iteration"`
	Period            string    `json:"period"`
	Model             string    `json:"model"`
	Accuracy          Float     `json:"accuracy"`
	Recall            Float     `json:"recall"`
	RecallUncertainty Float     `json:"recall_uncertainty"`
	F1                Float     `json:"f1"`
	Rows              int       `json:"rows"`
	Failed            int       `json:"failed_rows"`
	Threshold         float64   `json:"threshold"`
	Timestamp         time.Time `json:"timestamp"`
}
