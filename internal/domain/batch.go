package domain

// ItemError records why one item of a batch job failed.
type ItemError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// BatchResult summarises a batch or repair job. Jobs never fail as a whole
// because of one bad item; failures land in Errors instead.
type BatchResult struct {
	Processed  int         `json:"processed_count"`
	Created    int         `json:"created_count"`
	Skipped    int         `json:"skipped_count"`
	ErrorCount int         `json:"error_count"`
	Errors     []ItemError `json:"errors,omitempty"`
	Completed  bool        `json:"completed"`
}

// Fail records a failed item.
func (r *BatchResult) Fail(id string, err error) {
	r.ErrorCount++
	r.Errors = append(r.Errors, ItemError{ID: id, Error: err.Error()})
}
