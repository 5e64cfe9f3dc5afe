package response

type APIResponse[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    T      `json:"data,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// ConflictResponse is returned when an operation needs an explicit
// confirm-to-proceed retry (over-allocation) or a plain retry (version
// conflict).
type ConflictResponse struct {
	Error     string  `json:"error"`
	Available float64 `json:"available,omitempty"`
	Requested float64 `json:"requested,omitempty"`
	Retryable bool    `json:"retryable,omitempty"`
	Confirm   bool    `json:"confirm,omitempty"`
}
