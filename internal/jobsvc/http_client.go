package jobsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/pipetrace/agent/internal/pipeline"
)

const (
	maxResponseBytes = 1 << 20

	HeaderRequestID = "X-Request-Id"
	HeaderDeviceID  = "X-Pipetrace-Device-Id"
)

// HTTPClient calls the job service's REST endpoints.
type HTTPClient struct {
	baseURL    string
	deviceID   string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewHTTPClient(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

func (c *HTTPClient) SetDeviceID(id string) {
	c.deviceID = id
}

// Upload posts the document as the multipart "file" part.
func (c *HTTPClient) Upload(ctx context.Context, filename string, body io.Reader) (*UploadResult, error) {
	const op = "upload"

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	n, err := io.Copy(part, body)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/upload", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	c.logger.Info("uploading document",
		"filename", filename,
		"size", humanize.Bytes(uint64(n)),
		"request_id", req.Header.Get(HeaderRequestID),
	)

	var result UploadResult
	if err := c.do(req, op, &result); err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, &BackendError{Op: op, StatusCode: http.StatusOK, Message: orDefault(result.Error, "Upload failed")}
	}
	return &result, nil
}

// GetStatus fetches the current processing status.
func (c *HTTPClient) GetStatus(ctx context.Context) (pipeline.Snapshot, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/get_status", nil)
	if err != nil {
		return pipeline.Snapshot{}, err
	}
	var status statusResponse
	if err := c.do(req, "get_status", &status); err != nil {
		return pipeline.Snapshot{}, err
	}
	return status.snapshot(), nil
}

// Ask submits a question about the processed document.
func (c *HTTPClient) Ask(ctx context.Context, question string) (*Answer, error) {
	const op = "ask_question"

	body, err := json.Marshal(askRequest{Question: question})
	if err != nil {
		return nil, fmt.Errorf("marshal question: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/ask_question", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var answer Answer
	if err := c.do(req, op, &answer); err != nil {
		return nil, err
	}
	if !answer.Success {
		return nil, &BackendError{Op: op, StatusCode: http.StatusOK, Message: orDefault(answer.Error, "Question failed")}
	}
	return &answer, nil
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderRequestID, uuid.NewString())
	if c.deviceID != "" {
		req.Header.Set(HeaderDeviceID, c.deviceID)
	}
	return req, nil
}

// do sends req and decodes a 2xx JSON body into out. Non-2xx responses
// carrying {"error": "..."} become BackendErrors; everything else that goes
// wrong is a TransportError.
func (c *HTTPClient) do(req *http.Request, op string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			c.logger.Warn("job service returned error", "op", op, "status", resp.StatusCode, "error", e.Error)
			return &BackendError{Op: op, StatusCode: resp.StatusCode, Message: e.Error}
		}
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
