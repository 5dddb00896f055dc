package analysisclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"ecowise/pkg/domain"
)

const DefaultTimeout = 30 * time.Second

// ErrInvalidResult is returned when the service answers with unusable numbers.
var ErrInvalidResult = errors.New("analysis result invalid")

// Client calls the external image analysis service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// APIError represents an analysis service error response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("analysis service: %d %s", e.Status, e.Message)
}

// Detection is one object recognized in an image.
type Detection struct {
	Name          string  `json:"name"`
	Action        string  `json:"action,omitempty"`
	Points        int64   `json:"points"`
	CarbonSavedKg float64 `json:"carbon_saved_kg"`
	Confidence    float64 `json:"confidence,omitempty"`
}

// Analysis is the normalized result of one image.
type Analysis struct {
	EcoPoints       int64
	CarbonSavedKg   float64
	ObjectsDetected int64
	Detections      []Detection
	Recommendations []string
}

// NewClient constructs an analysis service client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Analyze uploads an image as multipart field "image" to /analyze.
// Missing totals are derived from the detected objects.
func (c *Client) Analyze(ctx context.Context, filename string, image io.Reader) (Analysis, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", filename)
	if err != nil {
		return Analysis{}, err
	}
	if _, err := io.Copy(part, image); err != nil {
		return Analysis{}, fmt.Errorf("buffer image: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Analysis{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", &body)
	if err != nil {
		return Analysis{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp analyzeResponse
	if err := c.do(req, &resp); err != nil {
		return Analysis{}, err
	}
	if resp.Success != nil && !*resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = "analysis failed"
		}
		return Analysis{}, &APIError{Status: http.StatusOK, Message: msg}
	}
	return resp.normalize()
}

// Health returns the service's /health payload.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&errResp)
		msg := errResp.Error
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("decode analysis response: %w", err)
	}
	return nil
}

type analyzeResponse struct {
	Success         *bool       `json:"success"`
	Error           string      `json:"error"`
	EcoPoints       *int64      `json:"eco_points"`
	CarbonSavedKg   *float64    `json:"carbon_saved_kg"`
	ObjectsDetected *int64      `json:"objects_detected"`
	DetectedObjects []Detection `json:"detected_objects"`
	Recommendations []string    `json:"recommendations"`
}

func (r analyzeResponse) normalize() (Analysis, error) {
	out := Analysis{
		Detections:      r.DetectedObjects,
		Recommendations: r.Recommendations,
	}
	if out.Detections == nil {
		out.Detections = []Detection{}
	}
	if out.Recommendations == nil {
		out.Recommendations = []string{}
	}
	for _, d := range r.DetectedObjects {
		if d.Points < 0 || d.Points > domain.MaxEventPoints || d.CarbonSavedKg < 0 || d.CarbonSavedKg > domain.MaxEventCarbon {
			return Analysis{}, ErrInvalidResult
		}
		out.EcoPoints += d.Points
		out.CarbonSavedKg += d.CarbonSavedKg
	}
	out.ObjectsDetected = int64(len(r.DetectedObjects))
	if r.EcoPoints != nil {
		out.EcoPoints = *r.EcoPoints
	}
	if r.CarbonSavedKg != nil {
		out.CarbonSavedKg = *r.CarbonSavedKg
	}
	if r.ObjectsDetected != nil {
		out.ObjectsDetected = *r.ObjectsDetected
	}
	if out.EcoPoints < 0 || out.EcoPoints > domain.MaxEventPoints ||
		out.ObjectsDetected < 0 || out.ObjectsDetected > domain.MaxEventItems ||
		out.CarbonSavedKg < 0 || out.CarbonSavedKg > domain.MaxEventCarbon {
		return Analysis{}, ErrInvalidResult
	}
	return out, nil
}
