package vitals

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the vitals REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Profile mirrors the profile resource returned by the API.
type Profile struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Bio       *string   `json:"bio"`
	Phone     *string   `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProfileInput is the writable part of a profile. Nil optional fields are sent
// as JSON null.
type ProfileInput struct {
	Name  string  `json:"name"`
	Email string  `json:"email"`
	Bio   *string `json:"bio"`
	Phone *string `json:"phone"`
}

// ListProfilesOptions filters the profile listing. Zero values are omitted.
type ListProfilesOptions struct {
	Search        string
	Limit         int
	Offset        int
	CreatedAfter  time.Time
	CreatedBefore time.Time
}

// Vitals is the input of a prediction.
type Vitals struct {
	TempC float64 `json:"Temp_C"`
	SpO2  float64 `json:"SpO2"`
	BPM   float64 `json:"BPM"`
}

// Prediction is the detailed prediction returned by /api/predict/.
type Prediction struct {
	Input               Vitals  `json:"input"`
	Label               string  `json:"prediction"`
	Code                int     `json:"prediction_code"`
	AbnormalProbability float64 `json:"abnormal_probability"`
	NormalProbability   float64 `json:"normal_probability"`
	Threshold           float64 `json:"threshold_used"`
	Recommendation      string  `json:"recommendation"`
	ModelVersion        string  `json:"model_version"`
}

// CompactPrediction is the response of /predictions/.
type CompactPrediction struct {
	Label       string  `json:"prediction"`
	Probability float64 `json:"probability"`
	Input       Vitals  `json:"input_data"`
}

// Record is one entry of the prediction history.
type Record struct {
	ID           string    `json:"id"`
	Source       string    `json:"source"`
	TempC        float64   `json:"Temp_C"`
	SpO2         float64   `json:"SpO2"`
	BPM          float64   `json:"BPM"`
	Label        string    `json:"prediction"`
	Code         int       `json:"prediction_code"`
	Probability  float64   `json:"abnormal_probability"`
	Threshold    float64   `json:"threshold"`
	ModelVersion string    `json:"model_version"`
	CreatedAt    time.Time `json:"created_at"`
}

// HistoryOptions filters the prediction history.
type HistoryOptions struct {
	Limit  int
	Label  string
	Source string
}

// Stats summarises the prediction history.
type Stats struct {
	Total           int   `json:"total"`
	Normal          int   `json:"normal"`
	Abnormal        int   `json:"abnormal"`
	OldestCreatedAt int64 `json:"oldest_created_at,omitempty"`
	NewestCreatedAt int64 `json:"newest_created_at,omitempty"`
}

// Health is the response of /healthz.
type Health struct {
	Status string `json:"status"`
	Model  struct {
		Loaded    bool    `json:"loaded"`
		Path      string  `json:"path"`
		Version   string  `json:"version"`
		Threshold float64 `json:"threshold"`
	} `json:"model"`
}

// APIError represents a non-2xx response. Fields holds per-field validation
// messages when the server rejected a profile payload.
type APIError struct {
	StatusCode int
	Message    string
	Fields     map[string][]string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+": "+strings.Join(e.Fields[k], " "))
		}
		return fmt.Sprintf("vitals api error (%d): %s", e.StatusCode, strings.Join(parts, "; "))
	}
	return fmt.Sprintf("vitals api error (%d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// NewClient instantiates a client. When httpClient is nil, a default client
// with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// CreateProfile creates a profile.
func (c *Client) CreateProfile(ctx context.Context, in ProfileInput) (Profile, error) {
	var out Profile
	err := c.send(ctx, http.MethodPost, "/api/profiles/", nil, in, &out)
	return out, err
}

// ListProfiles lists profiles ordered by id.
func (c *Client) ListProfiles(ctx context.Context, opts ListProfilesOptions) ([]Profile, error) {
	query := url.Values{}
	if opts.Search != "" {
		query.Set("search", opts.Search)
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		query.Set("offset", strconv.Itoa(opts.Offset))
	}
	if !opts.CreatedAfter.IsZero() {
		query.Set("created_after", opts.CreatedAfter.UTC().Format(time.RFC3339Nano))
	}
	if !opts.CreatedBefore.IsZero() {
		query.Set("created_before", opts.CreatedBefore.UTC().Format(time.RFC3339Nano))
	}
	var out []Profile
	err := c.send(ctx, http.MethodGet, "/api/profiles/", query, nil, &out)
	return out, err
}

// GetProfile fetches a profile by id.
func (c *Client) GetProfile(ctx context.Context, id int64) (Profile, error) {
	var out Profile
	err := c.send(ctx, http.MethodGet, profilePath(id), nil, nil, &out)
	return out, err
}

// UpdateProfile replaces every writable field of a profile.
func (c *Client) UpdateProfile(ctx context.Context, id int64, in ProfileInput) (Profile, error) {
	var out Profile
	err := c.send(ctx, http.MethodPut, profilePath(id), nil, in, &out)
	return out, err
}

// PatchProfile changes only the provided fields. A nil value clears a
// nullable field.
func (c *Client) PatchProfile(ctx context.Context, id int64, fields map[string]any) (Profile, error) {
	var out Profile
	err := c.send(ctx, http.MethodPatch, profilePath(id), nil, fields, &out)
	return out, err
}

// DeleteProfile removes a profile.
func (c *Client) DeleteProfile(ctx context.Context, id int64) error {
	return c.send(ctx, http.MethodDelete, profilePath(id), nil, nil, nil)
}

// Predict requests a detailed prediction.
func (c *Client) Predict(ctx context.Context, v Vitals) (Prediction, error) {
	var out Prediction
	err := c.send(ctx, http.MethodPost, "/api/predict/", nil, v, &out)
	return out, err
}

// PredictCompact requests a compact prediction.
func (c *Client) PredictCompact(ctx context.Context, v Vitals) (CompactPrediction, error) {
	var out CompactPrediction
	err := c.send(ctx, http.MethodPost, "/predictions/", nil, v, &out)
	return out, err
}

// ListPredictions returns the prediction history, newest first.
func (c *Client) ListPredictions(ctx context.Context, opts HistoryOptions) ([]Record, error) {
	query := url.Values{}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Label != "" {
		query.Set("label", opts.Label)
	}
	if opts.Source != "" {
		query.Set("source", opts.Source)
	}
	var out []Record
	err := c.send(ctx, http.MethodGet, "/api/predictions/", query, nil, &out)
	return out, err
}

// PredictionStats returns aggregate history statistics.
func (c *Client) PredictionStats(ctx context.Context) (Stats, error) {
	var out Stats
	err := c.send(ctx, http.MethodGet, "/api/predictions/stats/", nil, nil, &out)
	return out, err
}

// Health returns service liveness and model status.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	err := c.send(ctx, http.MethodGet, "/healthz", nil, nil, &out)
	return out, err
}

func profilePath(id int64) string {
	return "/api/profiles/" + strconv.FormatInt(id, 10) + "/"
}

func (c *Client) send(ctx context.Context, method, endpoint string, query url.Values, payload any, out any) error {
	u := *c.baseURL
	u.Path = c.baseURL.Path + endpoint
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		return decodeAPIError(resp.StatusCode, data)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeAPIError 兼容三种错误体：{"error": ...}、{"detail": ...} 与字段错误映射。
func decodeAPIError(status int, data []byte) error {
	apiErr := &APIError{StatusCode: status}
	var flat struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(data, &flat); err == nil && (flat.Error != "" || flat.Detail != "") {
		apiErr.Message = flat.Error
		if apiErr.Message == "" {
			apiErr.Message = flat.Detail
		}
		return apiErr
	}
	var fields map[string][]string
	if err := json.Unmarshal(data, &fields); err == nil && len(fields) > 0 {
		apiErr.Fields = fields
		apiErr.Message = "validation failed"
		return apiErr
	}
	apiErr.Message = string(bytes.TrimSpace(data))
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
