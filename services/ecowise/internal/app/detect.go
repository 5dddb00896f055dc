package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"ecowise/internal/util"
	"ecowise/pkg/domain"
	"ecowise/pkg/storage"
	"ecowise/services/ecowise/internal/analysisclient"
)

const DefaultMaxUploadBytes = 10 << 20

var DefaultAllowedExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".gif"}

// Upload is an image received from a client.
type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// DetectResult is returned to the client after a successful analysis.
type DetectResult struct {
	Success         bool                       `json:"success"`
	Filename        string                     `json:"filename"`
	InsertedID      int64                      `json:"insertedId"`
	EcoPoints       int64                      `json:"eco_points"`
	CarbonSavedKg   float64                    `json:"carbon_saved_kg"`
	ObjectsDetected int64                      `json:"objects_detected"`
	DetectedObjects []analysisclient.Detection `json:"detected_objects"`
	Recommendations []string                   `json:"recommendations"`
}

// MaxUploadBytes is the largest accepted image.
func (a *App) MaxUploadBytes() int64 {
	return a.maxUpload
}

// Detect stores an uploaded image, sends it to the analysis service and
// records the result as a history event for the user.
func (a *App) Detect(ctx context.Context, user domain.User, up Upload) (DetectResult, error) {
	logger := util.LoggerFromContext(ctx)
	filename := strings.TrimSpace(filepath.Base(strings.ReplaceAll(up.Filename, "\\", "/")))
	if filename == "" || filename == "." || filename == "/" {
		return DetectResult{}, invalidf("no file selected")
	}
	if _, ok := a.extensions[strings.ToLower(filepath.Ext(filename))]; !ok {
		return DetectResult{}, invalidf("file type not allowed")
	}
	if up.Body == nil {
		return DetectResult{}, invalidf("no image file provided")
	}
	data, err := io.ReadAll(io.LimitReader(up.Body, a.maxUpload+1))
	if err != nil {
		return DetectResult{}, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > a.maxUpload {
		return DetectResult{}, invalidf("file exceeds %d bytes", a.maxUpload)
	}
	if len(data) == 0 {
		return DetectResult{}, invalidf("empty file")
	}
	if a.analysis == nil {
		return DetectResult{}, ErrAnalysisUnavailable
	}
	if err := a.ensureUser(user); err != nil {
		return DetectResult{}, err
	}

	var key string
	if a.objects != nil {
		key = storage.ObjectKey(filename)
		if err := a.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), up.ContentType); err != nil {
			return DetectResult{}, fmt.Errorf("store upload: %w", err)
		}
	}

	analysis, err := a.analysis.Analyze(ctx, filename, bytes.NewReader(data))
	if err != nil {
		a.discard(ctx, key)
		return DetectResult{}, fmt.Errorf("%w: %w", ErrAnalysisUnavailable, err)
	}

	if err := validateContribution(analysis.EcoPoints, analysis.ObjectsDetected, analysis.CarbonSavedKg); err != nil {
		a.discard(ctx, key)
		logger.Warn("analysis result out of bounds", "detail", err.Error())
		return DetectResult{}, fmt.Errorf("%w: %w", ErrAnalysisUnavailable, analysisclient.ErrInvalidResult)
	}

	detections, err := json.Marshal(analysis.Detections)
	if err != nil {
		a.discard(ctx, key)
		return DetectResult{}, fmt.Errorf("encode detections: %w", err)
	}
	id, err := a.store.AppendHistory(domain.HistoryEvent{
		Username:        user.Username,
		Filename:        filename,
		ProcessedAt:     a.now().UTC(),
		EcoPointsEarned: analysis.EcoPoints,
		ItemsRecycled:   analysis.ObjectsDetected,
		CarbonSavedKg:   analysis.CarbonSavedKg,
		StoredPath:      key,
		Detections:      detections,
	})
	if err != nil {
		a.discard(ctx, key)
		return DetectResult{}, fmt.Errorf("append history: %w", err)
	}
	logger.Info("image analyzed",
		"history_id", id,
		"objects", analysis.ObjectsDetected,
		"eco_points", analysis.EcoPoints,
	)
	return DetectResult{
		Success:         true,
		Filename:        filename,
		InsertedID:      id,
		EcoPoints:       analysis.EcoPoints,
		CarbonSavedKg:   analysis.CarbonSavedKg,
		ObjectsDetected: analysis.ObjectsDetected,
		DetectedObjects: analysis.Detections,
		Recommendations: analysis.Recommendations,
	}, nil
}

// discard removes an object that has no history event referencing it.
func (a *App) discard(ctx context.Context, key string) {
	if key == "" || a.objects == nil {
		return
	}
	if err := a.objects.Delete(context.WithoutCancel(ctx), key); err != nil {
		util.LoggerFromContext(ctx).Warn("failed to delete orphaned upload", "key", key, "err", err)
	}
}

// AnalysisHealth reports the analysis service health payload.
func (a *App) AnalysisHealth(ctx context.Context) (map[string]any, error) {
	if a.analysis == nil {
		return nil, ErrAnalysisUnavailable
	}
	health, err := a.analysis.Health(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAnalysisUnavailable, err)
	}
	return health, nil
}
