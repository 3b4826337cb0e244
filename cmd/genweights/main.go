// Command genweights writes a randomly initialized weight artifact matching
// the configured architecture. Useful for local development when the trained
// artifact is not available.
package main

import (
	"flag"
	"log"

	"github.com/hemascan/hemascan-api/internal/config"
	"github.com/hemascan/hemascan-api/internal/model"
)

func main() {
	configPath := flag.String("config", "models/config.json", "model configuration file")
	out := flag.String("out", "models/leukemia_best.gob", "output weight artifact path")
	seed := flag.Int64("seed", 42, "random seed")
	flag.Parse()

	cfg, err := config.LoadModelConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load model config: %v", err)
	}

	clf, err := model.NewClassifier(cfg)
	if err != nil {
		log.Fatalf("Failed to build architecture: %v", err)
	}
	clf.Randomize(*seed)

	if err := clf.SaveWeights(*out); err != nil {
		log.Fatalf("Failed to write weights: %v", err)
	}
	log.Printf("Wrote %s (%d classes, img_size %d)", *out, len(cfg.Classes), cfg.ImgSize)
}
