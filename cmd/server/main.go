package main

import (
	"log"
	"net/http"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hemascan/hemascan-api/internal/config"
	"github.com/hemascan/hemascan-api/internal/handlers"
	"github.com/hemascan/hemascan-api/internal/logger"
	"github.com/hemascan/hemascan-api/internal/model"
	"github.com/hemascan/hemascan-api/internal/report"
)

func enableCORS(origins []string, next http.HandlerFunc) http.HandlerFunc {
	allowAll := false
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowAll {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if allowed[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func main() {
	svc := config.LoadService()

	zlog, err := logger.New(svc.LogLevel, svc.LogFile)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zlog.Sync()

	configPath := filepath.Join(svc.ModelDir, "config.json")
	weightsPath := filepath.Join(svc.ModelDir, "leukemia_best.gob")

	zlog.Info("loading model", zap.String("config", configPath), zap.String("weights", weightsPath))

	cfg, err := config.LoadModelConfig(configPath)
	if err != nil {
		zlog.Fatal("failed to load model config", zap.Error(err))
	}

	clf, err := model.NewClassifier(cfg)
	if err != nil {
		zlog.Fatal("failed to build model architecture", zap.Error(err))
	}
	// A partially loaded model must never serve requests.
	if err := clf.LoadWeights(weightsPath); err != nil {
		zlog.Fatal("failed to load model weights", zap.Error(err))
	}

	zlog.Info("model loaded",
		zap.Strings("classes", cfg.Classes),
		zap.Int("img_size", cfg.ImgSize))

	cam := model.NewCAMEngine(clf)
	store := report.NewStore(svc.ResultsDir, zlog)
	handler := handlers.NewHandler(clf, cam, store, zlog)

	mux := http.NewServeMux()
	mux.HandleFunc("/", enableCORS(svc.CORSOrigins, handler.Root))
	mux.HandleFunc("/health", enableCORS(svc.CORSOrigins, handler.Health))
	mux.HandleFunc("/api/analyze", enableCORS(svc.CORSOrigins, handler.Analyze))
	mux.HandleFunc("/api/generate-gradcam", enableCORS(svc.CORSOrigins, handler.GenerateGradCAM))
	mux.HandleFunc("/api/chat", enableCORS(svc.CORSOrigins, handler.Chat))
	mux.HandleFunc("/api/auth/login", enableCORS(svc.CORSOrigins, handler.Login))

	zlog.Info("server starting", zap.String("port", svc.Port))
	if err := http.ListenAndServe(":"+svc.Port, mux); err != nil {
		zlog.Fatal("server failed", zap.Error(err))
	}
}
