package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophscribe/internal/common"
	"github.com/dmitrijs2005/gophscribe/internal/logging"
	"github.com/hashicorp/go-retryablehttp"
)

const subscriptionKeyHeader = "Ocp-Apim-Subscription-Key"

// SpeechConfig configures SpeechClient.
type SpeechConfig struct {
	Region string
	Key    string
	// BaseURL overrides the regional endpoint, e.g. for tests.
	BaseURL    string
	RetryMax   int
	Timeout    time.Duration
	MinSpeaker int
	MaxSpeaker int
}

// SpeechClient implements Client against the v3.1 batch transcription REST API.
type SpeechClient struct {
	// http retries idempotent calls; submissions go through once and are never retried.
	http    *retryablehttp.Client
	once    *retryablehttp.Client
	baseURL *url.URL
	key     string
	minSpk  int
	maxSpk  int
}

// NewSpeechClient validates the config and builds the HTTP client.
func NewSpeechClient(c SpeechConfig, logger logging.Logger) (*SpeechClient, error) {
	if c.Key == "" {
		return nil, fmt.Errorf("%w: speech subscription key is required", common.ErrValidation)
	}
	raw := c.BaseURL
	if raw == "" {
		if c.Region == "" {
			return nil, fmt.Errorf("%w: speech region is required", common.ErrValidation)
		}
		raw = fmt.Sprintf("https://%s.api.cognitive.microsoft.com/speechtotext/v3.1/", c.Region)
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: speech base url: %v", common.ErrValidation, err)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	newHTTP := func(retries int) *retryablehttp.Client {
		hc := retryablehttp.NewClient()
		hc.RetryMax = retries
		hc.RetryWaitMin = 200 * time.Millisecond
		hc.RetryWaitMax = 2 * time.Second
		hc.ErrorHandler = retryablehttp.PassthroughErrorHandler
		hc.Logger = leveledLogger{log: logger.With("module", "speech_http")}
		if c.Timeout > 0 {
			hc.HTTPClient.Timeout = c.Timeout
		}
		return hc
	}

	if c.MinSpeaker <= 0 {
		c.MinSpeaker = 1
	}
	if c.MaxSpeaker <= 0 {
		c.MaxSpeaker = 10
	}

	return &SpeechClient{http: newHTTP(c.RetryMax), once: newHTTP(0), baseURL: base, key: c.Key, minSpk: c.MinSpeaker, maxSpk: c.MaxSpeaker}, nil
}

type createRequest struct {
	DisplayName string           `json:"displayName"`
	Locale      string           `json:"locale"`
	ContentURLs []string         `json:"contentUrls"`
	Properties  createProperties `json:"properties"`
}

type createProperties struct {
	DiarizationEnabled         bool        `json:"diarizationEnabled"`
	Diarization                diarization `json:"diarization"`
	PunctuationMode            string      `json:"punctuationMode"`
	WordLevelTimestampsEnabled bool        `json:"wordLevelTimestampsEnabled"`
}

type diarization struct {
	Speakers struct {
		MinCount int `json:"minCount"`
		MaxCount int `json:"maxCount"`
	} `json:"speakers"`
}

type transcriptionResponse struct {
	Self       string `json:"self"`
	Status     string `json:"status"`
	Properties struct {
		Error *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"properties"`
}

type filesResponse struct {
	Values []struct {
		Kind  string `json:"kind"`
		Links struct {
			ContentURL string `json:"contentUrl"`
		} `json:"links"`
	} `json:"values"`
}

type resultDocument struct {
	CombinedRecognizedPhrases []struct {
		Display string `json:"display"`
	} `json:"combinedRecognizedPhrases"`
}

func (c *SpeechClient) Submit(ctx context.Context, displayName, locale, contentURL string) (string, error) {
	body := createRequest{
		DisplayName: displayName,
		Locale:      locale,
		ContentURLs: []string{contentURL},
		Properties: createProperties{
			DiarizationEnabled: true,
			PunctuationMode:    "Automatic",
		},
	}
	body.Properties.Diarization.Speakers.MinCount = c.minSpk
	body.Properties.Diarization.Speakers.MaxCount = c.maxSpk

	var out transcriptionResponse
	if err := c.do(ctx, http.MethodPost, c.endpoint("transcriptions"), body, &out, http.StatusCreated); err != nil {
		return "", fmt.Errorf("submit %q: %w", displayName, err)
	}
	id := path.Base(strings.TrimRight(out.Self, "/"))
	if out.Self == "" || id == "." || id == "/" {
		return "", fmt.Errorf("%w: submit %q: response has no job link", common.ErrExternalJob, displayName)
	}
	return id, nil
}

func (c *SpeechClient) Poll(ctx context.Context, jobID string) (JobStatus, error) {
	var out transcriptionResponse
	if err := c.do(ctx, http.MethodGet, c.endpoint("transcriptions", jobID), nil, &out, http.StatusOK); err != nil {
		return JobStatus{}, fmt.Errorf("poll %s: %w", jobID, err)
	}
	st := JobStatus{State: State(out.Status)}
	if out.Properties.Error != nil {
		st.Error = out.Properties.Error.Message
	}
	return st, nil
}

func (c *SpeechClient) ResultLink(ctx context.Context, jobID string) (string, error) {
	var out filesResponse
	if err := c.do(ctx, http.MethodGet, c.endpoint("transcriptions", jobID, "files"), nil, &out, http.StatusOK); err != nil {
		return "", fmt.Errorf("list files %s: %w", jobID, err)
	}
	for _, v := range out.Values {
		if v.Kind == "Transcription" && v.Links.ContentURL != "" {
			return v.Links.ContentURL, nil
		}
	}
	return "", fmt.Errorf("result of %s: %w", jobID, common.ErrorNotFound)
}

func (c *SpeechClient) DownloadResult(ctx context.Context, link string) (string, error) {
	var out resultDocument
	// Result links are pre-signed and must not carry the subscription key.
	if err := c.doURL(ctx, http.MethodGet, link, nil, &out, false, http.StatusOK); err != nil {
		return "", fmt.Errorf("download result: %w", err)
	}
	if len(out.CombinedRecognizedPhrases) == 0 {
		return "", nil
	}
	return out.CombinedRecognizedPhrases[0].Display, nil
}

func (c *SpeechClient) Delete(ctx context.Context, jobID string) error {
	if err := c.do(ctx, http.MethodDelete, c.endpoint("transcriptions", jobID), nil, nil, http.StatusOK, http.StatusNoContent); err != nil {
		return fmt.Errorf("delete %s: %w", jobID, err)
	}
	return nil
}

func (c *SpeechClient) endpoint(parts ...string) string {
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return c.baseURL.JoinPath(parts...).String()
}

func (c *SpeechClient) do(ctx context.Context, method, rawURL string, in, out any, want ...int) error {
	return c.doURL(ctx, method, rawURL, in, out, true, want...)
}

func (c *SpeechClient) doURL(ctx context.Context, method, rawURL string, in, out any, withKey bool, want ...int) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrExternalJob, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if withKey {
		req.Header.Set(subscriptionKeyHeader, c.key)
	}

	hc := c.http
	if method == http.MethodPost {
		hc = c.once
	}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrExternalJob, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return common.ErrorNotFound
	}
	if !statusIn(resp.StatusCode, want) {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s %s: unexpected status %d: %s", common.ErrExternalJob, method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: decode response: %v", common.ErrExternalJob, err)
	}
	return nil
}

func statusIn(code int, want []int) bool {
	for _, w := range want {
		if code == w {
			return true
		}
	}
	return false
}

// leveledLogger adapts logging.Logger to retryablehttp.LeveledLogger.
type leveledLogger struct {
	log logging.Logger
}

func (l leveledLogger) Error(msg string, kv ...any) { l.log.Error(context.Background(), msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...any)  { l.log.Debug(context.Background(), msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...any) { l.log.Debug(context.Background(), msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...any)  { l.log.Warn(context.Background(), msg, kv...) }
