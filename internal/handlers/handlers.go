package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hemascan/hemascan-api/internal/config"
	"github.com/hemascan/hemascan-api/internal/diagnosis"
	"github.com/hemascan/hemascan-api/internal/model"
	"github.com/hemascan/hemascan-api/internal/overlay"
	"github.com/hemascan/hemascan-api/internal/preprocess"
	"github.com/hemascan/hemascan-api/internal/report"
)

const maxUploadSize = 10 << 20 // 10MB

type Handler struct {
	cfg     *config.ModelConfig
	clf     *model.Classifier
	cam     *model.CAMEngine
	reports *report.Store
	log     *zap.Logger
}

func NewHandler(clf *model.Classifier, cam *model.CAMEngine, reports *report.Store, log *zap.Logger) *Handler {
	return &Handler{
		cfg:     clf.Config(),
		clf:     clf,
		cam:     cam,
		reports: reports,
		log:     log,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "🟢 HemaScan Backend Running",
		"model":  "CNN classifier",
		"endpoints": []string{
			"POST /api/auth/login",
			"POST /api/analyze",
			"POST /api/generate-gradcam",
			"POST /api/chat",
		},
	})
}

// Analyze classifies an uploaded blood-smear image and persists the report.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	data, err := readUpload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	input, err := preprocess.Preprocess(data, h.cfg)
	if err != nil {
		if errors.Is(err, preprocess.ErrDecode) {
			h.log.Warn("failed to preprocess image", zap.Error(err))
			writeError(w, http.StatusBadRequest, "failed to preprocess image")
			return
		}
		h.log.Error("preprocessing error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "preprocessing error")
		return
	}

	probs, err := h.clf.Infer(input)
	if err != nil {
		h.log.Error("inference failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "inference failed")
		return
	}

	idx, confidence := model.TopPrediction(probs)
	rep, err := diagnosis.Map(h.cfg.Classes, idx, confidence)
	if err != nil {
		h.log.Error("diagnosis mapping failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "diagnosis mapping failed")
		return
	}

	display := diagnosis.DisplayText(rep.Diagnosis)
	h.log.Info("analysis complete",
		zap.String("diagnosis", rep.Diagnosis),
		zap.Float64("confidence", rep.Confidence))

	saved := rep
	saved.Diagnosis = display
	if _, err := h.reports.SaveReport(saved); err != nil {
		// Persistence problems must not fail the analysis itself.
		h.log.Warn("failed to save report", zap.Error(err))
	}

	writeJSON(w, http.StatusOK, AnalyzeResponse{
		Diagnosis:  display,
		Confidence: rep.Confidence,
		Timestamp:  rep.Timestamp,
	})
}

// GenerateGradCAM produces the saliency overlay for an uploaded image. A
// saliency failure degrades gracefully: the response still carries the
// timestamp, just without an overlay URL.
func (h *Handler) GenerateGradCAM(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	data, err := readUpload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	input, err := preprocess.Preprocess(data, h.cfg)
	if err != nil {
		h.log.Warn("failed to preprocess image", zap.Error(err))
		writeError(w, http.StatusBadRequest, "failed to preprocess image")
		return
	}

	probs, err := h.clf.Infer(input)
	if err != nil {
		h.log.Error("inference failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "inference failed")
		return
	}
	idx, _ := model.TopPrediction(probs)

	timestamp := time.Now().Format(diagnosis.TimestampLayout)
	resp := GradCAMResponse{Timestamp: timestamp}

	cam, err := h.cam.Explain(input, idx)
	if err != nil {
		h.log.Warn("saliency map unavailable", zap.Error(err))
		writeJSON(w, http.StatusOK, resp)
		return
	}

	img, err := overlay.Composite(input, cam, h.cfg)
	if err != nil {
		h.log.Warn("overlay compositing failed", zap.Error(err))
		writeJSON(w, http.StatusOK, resp)
		return
	}

	pngData, err := overlay.EncodePNG(img)
	if err != nil {
		h.log.Warn("overlay encoding failed", zap.Error(err))
		writeJSON(w, http.StatusOK, resp)
		return
	}

	url, err := h.reports.SaveOverlay(timestamp, pngData)
	if err != nil {
		h.log.Warn("failed to save overlay", zap.Error(err))
		url = overlay.DataURL(pngData)
	}

	resp.OverlayImageURL = url
	resp.HeatmapImageURL = url
	writeJSON(w, http.StatusOK, resp)
}

// Chat returns a mock assistant response built from the supplied context.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	diagnosisText := contextString(req.AnalysisContext, "diagnosis", "Unknown")
	confidence := contextString(req.AnalysisContext, "confidence", "0")
	heartRate := contextString(req.VitalSigns, "heartRate", "--")
	spO2 := contextString(req.VitalSigns, "spO2", "--")

	text := fmt.Sprintf(`🤖 AI Assistant (Local Mock Mode):

📊 Analysis Summary:
- Diagnosis: %s
- Confidence: %s%%
- Heart Rate: %s BPM
- Blood Oxygen: %s%%

❓ Your Question: %q

⚠️ Note: This is a mock response. In production a real assistant provides medical insights based on the diagnosis and vital signs.`,
		diagnosisText, confidence, heartRate, spO2, req.Message)

	writeJSON(w, http.StatusOK, ChatResponse{
		Message:   text,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// Login issues a mock token; any credentials are accepted.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Username == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{
		Success: true,
		Token:   fmt.Sprintf("mock_token_%s_%d", req.Username, time.Now().Unix()),
		User:    UserInfo{Username: req.Username, Role: "doctor"},
	})
}

func readUpload(r *http.Request) ([]byte, error) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		return nil, errors.New("failed to parse form")
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, errors.New("no image file provided; use 'file' as the form field name")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, errors.New("failed to read uploaded file")
	}
	return data, nil
}

func contextString(m map[string]any, key, fallback string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return fallback
	}
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return fmt.Sprintf("%g", x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
