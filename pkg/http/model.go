package http

// DetailResponse is the error body: a single human-readable message.
type DetailResponse struct {
	Detail string `json:"detail" example:"Model not trained yet"`
}

// ValidationError represents validation error detail.
type ValidationError struct {
	Code    string                 `json:"code,omitempty" example:"ERR_REQUIRED"`
	Field   string                 `json:"field,omitempty" example:"prices"`
	Message string                 `json:"message,omitempty" example:"prices is required"`
	Params  map[string]interface{} `json:"params,omitempty"`
}
