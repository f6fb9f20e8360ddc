package oracle

// ModelPolicy is the resolver's verdict on which oracle model is
// currently eligible for governance prompts.
type ModelPolicy struct {
	OK            bool   `json:"ok"`
	SelectedModel string `json:"selectedModel"`
	Reason        string `json:"reason,omitempty"`
}

// BatchRequest is one prompt in a submitted batch, keyed by a
// caller-supplied custom id ({cycleId}:decision / {cycleId}:self_critique).
type BatchRequest struct {
	CustomID       string `json:"customId"`
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	MaxTokens      int    `json:"maxTokens"`
	ResponseFormat string `json:"responseFormat,omitempty"`
}

// Batch identifies a submitted batch job.
type Batch struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Batch job states reported by the oracle service.
const (
	BatchStatusQueued     = "queued"
	BatchStatusInProgress = "in_progress"
	BatchStatusCompleted  = "completed"
	BatchStatusFailed     = "failed"
	BatchStatusExpired    = "expired"
)

// BatchStatus is the polled state of a batch job.
type BatchStatus struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	RequestCount int    `json:"requestCount"`
	DoneCount    int    `json:"doneCount"`
}

// Completed reports whether results can be fetched.
func (s *BatchStatus) Completed() bool { return s.Status == BatchStatusCompleted }

// Failed reports whether the batch terminally failed and will never
// produce results.
func (s *BatchStatus) Failed() bool {
	return s.Status == BatchStatusFailed || s.Status == BatchStatusExpired
}

// BatchResult is one request's outcome within a completed batch.
type BatchResult struct {
	CustomID string `json:"customId"`
	Content  string `json:"content"`
	Error    string `json:"error,omitempty"`
}

// ResultsPage is one page of a paginated results fetch.
type ResultsPage struct {
	Results    []BatchResult `json:"results"`
	NextCursor string        `json:"nextCursor,omitempty"`
	HasMore    bool          `json:"hasMore"`
}

// ErrorResponse is the service's error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
