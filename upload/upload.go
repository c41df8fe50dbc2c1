// Package upload performs the two-phase photo upload protocol: request an
// upload ticket from the attendance backend, then transfer the bytes directly
// to storage. Both phases must succeed; tickets are single-use and never
// persisted. Retry policy belongs to the caller.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// MaxFileSize is the hard photo size cap, enforced before any network call.
const MaxFileSize = 5 * 1024 * 1024 // 5MB

// maxResponseSize bounds the ticket response body read.
const maxResponseSize = 1 * 1024 * 1024 // 1MB

// PhotoType distinguishes which attendance transition a photo documents.
type PhotoType string

// Photo types.
const (
	TypeCheckIn  PhotoType = "check-in"
	TypeCheckOut PhotoType = "check-out"
)

// acceptedContentTypes are the image types the backend stores.
var acceptedContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

var fileNamePattern = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Photo is an in-memory image to upload. ContentType may be empty, in which
// case it is sniffed from the bytes.
type Photo struct {
	Name        string
	ContentType string
	Data        []byte
}

// ErrFileTooLarge rejects photos over MaxFileSize before phase 1.
var ErrFileTooLarge = errors.New("photo exceeds the maximum upload size")

// ErrUnsupportedType rejects non-image payloads before phase 1.
var ErrUnsupportedType = errors.New("photo is not an accepted image type")

// TicketError is a phase-1 failure: the backend rejected the upload-ticket
// request or was unreachable.
type TicketError struct {
	err error
}

func (e *TicketError) Error() string {
	return "upload ticket request failed: " + e.err.Error()
}

func (e *TicketError) Unwrap() error {
	return e.err
}

// TransferError is a phase-2 failure: the direct transfer to storage returned
// a non-success status.
type TransferError struct {
	Status string
}

func (e *TransferError) Error() string {
	return "photo transfer failed: " + e.Status
}

// IsTicketFailure reports whether err is a phase-1 failure.
func IsTicketFailure(err error) bool {
	var te *TicketError
	return errors.As(err, &te)
}

// IsTransferFailure reports whether err is a phase-2 failure.
func IsTransferFailure(err error) bool {
	var te *TransferError
	return errors.As(err, &te)
}

// Ticket is a short-lived, single-use upload authorization issued per attempt.
type Ticket struct {
	UploadURL  string `json:"uploadURL"`
	ObjectPath string `json:"objectPath"`
}

// Coordinator drives the two-phase upload protocol.
type Coordinator struct {
	baseURL    string
	maxBytes   int64
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(u *Coordinator) {
		u.httpClient = c
	}
}

// WithMaxBytes overrides the photo size cap.
func WithMaxBytes(n int64) Option {
	return func(u *Coordinator) {
		u.maxBytes = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(u *Coordinator) {
		u.logger = logger
	}
}

// NewCoordinator creates a coordinator against the attendance backend base URL.
func NewCoordinator(baseURL string, opts ...Option) *Coordinator {
	c := &Coordinator{
		baseURL:  strings.TrimRight(baseURL, "/"),
		maxBytes: MaxFileSize,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Upload validates the photo, requests an upload ticket, and transfers the
// bytes to the ticket's URL. It returns the storage object path on success.
func (c *Coordinator) Upload(ctx context.Context, photo Photo, attendanceID string, photoType PhotoType) (string, error) {
	if attendanceID == "" {
		return "", fmt.Errorf("attendance ID is required")
	}
	if int64(len(photo.Data)) > c.maxBytes {
		return "", fmt.Errorf("%w: %d bytes (limit %d)", ErrFileTooLarge, len(photo.Data), c.maxBytes)
	}

	contentType := photo.ContentType
	if contentType == "" {
		contentType = sniffContentType(photo.Data)
	}
	if !acceptedContentTypes[contentType] {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}

	ticket, err := c.requestTicket(ctx, attendanceID, sanitizeFileName(photo.Name), contentType, photoType)
	if err != nil {
		return "", &TicketError{err: err}
	}

	if err := c.transfer(ctx, ticket.UploadURL, contentType, photo.Data); err != nil {
		return "", err
	}

	c.logger.Debug("Photo uploaded",
		"attendance_id", attendanceID,
		"photo_type", string(photoType),
		"object_path", ticket.ObjectPath,
		"bytes", len(photo.Data))

	return ticket.ObjectPath, nil
}

// requestTicket is phase 1: ask the backend for a single-use upload target.
func (c *Coordinator) requestTicket(ctx context.Context, attendanceID, fileName, contentType string, photoType PhotoType) (*Ticket, error) {
	payload, err := json.Marshal(map[string]string{
		"attendanceId": attendanceID,
		"fileName":     fileName,
		"contentType":  contentType,
		"photoType":    string(photoType),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal ticket request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/attendance/photo/upload-url", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create ticket request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("backend unreachable: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read ticket response: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, fmt.Errorf("backend rejected ticket request (status %d): %s", httpResp.StatusCode, truncate(string(body), 200))
	}

	var ticket Ticket
	if err := json.Unmarshal(body, &ticket); err != nil {
		return nil, fmt.Errorf("parse ticket response: %w", err)
	}
	if ticket.UploadURL == "" || ticket.ObjectPath == "" {
		return nil, fmt.Errorf("ticket response missing uploadURL or objectPath")
	}
	return &ticket, nil
}

// transfer is phase 2: PUT the raw bytes directly to storage, bypassing the
// application backend.
func (c *Coordinator) transfer(ctx context.Context, uploadURL, contentType string, data []byte) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(data))
	if err != nil {
		return &TransferError{Status: err.Error()}
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.ContentLength = int64(len(data))

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &TransferError{Status: err.Error()}
	}
	defer httpResp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(httpResp.Body, maxResponseSize))

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return &TransferError{Status: httpResp.Status}
	}
	return nil
}

// sniffContentType detects the MIME type from the first 512 bytes.
func sniffContentType(data []byte) string {
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	return http.DetectContentType(head)
}

// sanitizeFileName strips path components and characters the backend's object
// keys cannot carry.
func sanitizeFileName(name string) string {
	base := strings.TrimSpace(filepath.Base(name))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "photo.jpg"
	}
	base = fileNamePattern.ReplaceAllString(base, "_")
	if base == "" {
		base = "photo.jpg"
	}
	return base
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
