package model

// BatchRequest asks for reports for a set of subjects in one period.
// Empty SubjectIDs means every subject with data in Period.
type BatchRequest struct {
	ID         string   `json:"id"`
	Period     Period   `json:"period"`
	SubjectIDs []string `json:"subject_ids,omitempty"`
	Format     Format   `json:"format"`
}
