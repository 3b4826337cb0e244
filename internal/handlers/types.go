package handlers

// AnalyzeResponse is returned by POST /api/analyze.
type AnalyzeResponse struct {
	Diagnosis  string  `json:"diagnosis"`
	Confidence float64 `json:"confidence"`
	Timestamp  string  `json:"timestamp"`
}

// GradCAMResponse is returned by POST /api/generate-gradcam. The overlay
// fields are omitted when saliency generation fails.
type GradCAMResponse struct {
	Timestamp       string `json:"timestamp"`
	OverlayImageURL string `json:"overlayImageUrl,omitempty"`
	HeatmapImageURL string `json:"heatmapImageUrl,omitempty"`
}

// ChatRequest carries a user question plus optional analysis context and
// vital signs.
type ChatRequest struct {
	Message         string         `json:"message"`
	AnalysisContext map[string]any `json:"analysis_context"`
	VitalSigns      map[string]any `json:"vital_signs"`
}

// ChatResponse is the mock assistant reply.
type ChatResponse struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// LoginRequest holds mock credentials; any combination is accepted.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries a mock session token.
type LoginResponse struct {
	Success bool     `json:"success"`
	Token   string   `json:"token"`
	User    UserInfo `json:"user"`
}

// UserInfo describes the mock authenticated user.
type UserInfo struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// ErrorResponse is the structured failure body for every endpoint.
type ErrorResponse struct {
	Error string `json:"error"`
}
