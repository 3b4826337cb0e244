package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hemascan/hemascan-api/internal/diagnosis"
)

func TestSaveReport(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, zap.NewNop())

	r := diagnosis.Report{Diagnosis: "leukemia", Confidence: 87.5, Timestamp: "2026_01_02_03_04_05"}
	path, err := store.SaveReport(r)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "analysis", "report_2026_01_02_03_04_05.json"), path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var loaded diagnosis.Report
	require.NoError(t, json.Unmarshal(raw, &loaded))
	require.Equal(t, r, loaded)
}

func TestSaveReportLambdaSkipsDisk(t *testing.T) {
	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "hemascan")
	dir := t.TempDir()
	store := NewStore(dir, zap.NewNop())

	path, err := store.SaveReport(diagnosis.Report{Diagnosis: "normal", Timestamp: "x"})
	require.NoError(t, err)
	require.Empty(t, path)

	_, err = os.Stat(filepath.Join(dir, "analysis"))
	require.True(t, os.IsNotExist(err))
}

func TestSaveOverlay(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, zap.NewNop())

	url, err := store.SaveOverlay("2026_01_02_03_04_05", []byte("png-bytes"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "data:image/png;base64,"))

	_, err = os.Stat(filepath.Join(dir, "overlays", "overlay_2026_01_02_03_04_05.png"))
	require.NoError(t, err)
}

func TestSaveOverlayLambda(t *testing.T) {
	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "hemascan")
	dir := t.TempDir()
	store := NewStore(dir, zap.NewNop())

	url, err := store.SaveOverlay("ts", []byte("png-bytes"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "data:image/png;base64,"))

	_, err = os.Stat(filepath.Join(dir, "overlays"))
	require.True(t, os.IsNotExist(err))
}
