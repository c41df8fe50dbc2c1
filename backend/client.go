package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/c360studio/fieldcheck/upload"
)

// maxResponseSize bounds backend response body reads.
const maxResponseSize = 1 * 1024 * 1024 // 1MB

// RejectedError means the backend processed the request and refused it.
// Reason carries the server-provided error text verbatim for the UI.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return "attendance backend rejected the request: " + e.Reason
}

// UnreachableError means the backend could not be reached or did not produce
// a usable response.
type UnreachableError struct {
	err error
}

func (e *UnreachableError) Error() string {
	return "attendance backend unreachable: " + e.err.Error()
}

func (e *UnreachableError) Unwrap() error {
	return e.err
}

// IsRejected reports whether err is a backend rejection.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}

// IsUnreachable reports whether err is a transport-level backend failure.
func IsUnreachable(err error) bool {
	var ue *UnreachableError
	return errors.As(err, &ue)
}

// Client talks to the attendance backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(client *Client) {
		client.logger = logger
	}
}

// NewClient creates a client for the attendance backend at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// recordResponse is the backend's reply to a create or transition request.
type recordResponse struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// CreateOrTransition submits an attendance event. A check-in creates a new
// record; a check-out transitions the caller's active session, identified
// server-side. It returns the attendance record ID on success and is called
// exactly once per user action.
func (c *Client) CreateOrTransition(ctx context.Context, event *Event) (string, error) {
	if err := event.Validate(); err != nil {
		return "", fmt.Errorf("invalid attendance event: %w", err)
	}

	path := "/attendance"
	if event.Kind == CheckOut {
		path = "/attendance/checkout"
	}

	body, status, err := c.do(ctx, http.MethodPost, path, event)
	if err != nil {
		return "", &UnreachableError{err: err}
	}

	var resp recordResponse
	if jsonErr := json.Unmarshal(body, &resp); jsonErr != nil {
		if status < 200 || status >= 300 {
			return "", &RejectedError{Reason: fmt.Sprintf("status %d", status)}
		}
		return "", &UnreachableError{err: fmt.Errorf("parse response: %w", jsonErr)}
	}

	if !resp.Success || status < 200 || status >= 300 {
		reason := resp.Error
		if reason == "" {
			reason = fmt.Sprintf("status %d", status)
		}
		return "", &RejectedError{Reason: reason}
	}
	if resp.ID == "" {
		return "", &UnreachableError{err: fmt.Errorf("response missing record id")}
	}

	c.logger.Debug("Attendance transition committed",
		"kind", string(event.Kind),
		"user_id", event.UserID,
		"attendance_id", resp.ID)

	return resp.ID, nil
}

// AttachPhoto sets the record's photo path for the given transition. It is a
// partial update: only the matching photo path field is sent, so no other
// record field can be clobbered.
func (c *Client) AttachPhoto(ctx context.Context, attendanceID, objectPath string, photoType upload.PhotoType) error {
	if attendanceID == "" {
		return fmt.Errorf("attendance ID is required")
	}
	if objectPath == "" {
		return fmt.Errorf("object path is required")
	}

	patch := map[string]string{}
	switch photoType {
	case upload.TypeCheckOut:
		patch["checkOutPhotoPath"] = objectPath
	default:
		patch["checkInPhotoPath"] = objectPath
	}

	body, status, err := c.do(ctx, http.MethodPut, "/attendance/"+attendanceID, patch)
	if err != nil {
		return &UnreachableError{err: err}
	}

	if status < 200 || status >= 300 {
		reason := strings.TrimSpace(string(body))
		if reason == "" {
			reason = fmt.Sprintf("status %d", status)
		}
		return &RejectedError{Reason: truncate(reason, 200)}
	}

	c.logger.Debug("Photo path attached",
		"attendance_id", attendanceID,
		"photo_type", string(photoType),
		"object_path", objectPath)

	return nil
}

// do executes a JSON request and returns the raw body and status code.
// Transport failures are returned as errors; HTTP-level failures are the
// caller's to classify.
func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, int, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, 0, fmt.Errorf("read response body: %w", err)
	}

	return body, httpResp.StatusCode, nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
