// Package geocode resolves coordinates to display addresses via an external
// reverse-geocoding service. Resolution is best-effort enrichment: every
// internal failure degrades to a coordinate-formatted fallback, so callers
// always receive a usable address and never an error.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// maxResponseSize bounds the geocoder response body read.
const maxResponseSize = 1 * 1024 * 1024 // 1MB

// Source records how a resolution was produced.
type Source string

// Resolution sources.
const (
	SourceGeocoded Source = "geocoded"
	SourceFallback Source = "fallback-coordinates"
)

// Resolution is a display address. DisplayText is always non-empty.
type Resolution struct {
	DisplayText string `json:"display_text"`
	Source      Source `json:"source"`
}

// Resolver translates coordinates to display addresses.
type Resolver struct {
	endpoint   string
	language   string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) {
		r.httpClient = c
	}
}

// WithLanguage sets the localityLanguage query parameter.
func WithLanguage(lang string) Option {
	return func(r *Resolver) {
		r.language = lang
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// NewResolver creates a resolver against the given reverse-geocoding endpoint.
func NewResolver(endpoint string, opts ...Option) *Resolver {
	r := &Resolver{
		endpoint: endpoint,
		language: "en",
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// response is the subset of the geocoding service's JSON body we read.
type response struct {
	Locality             string `json:"locality"`
	City                 string `json:"city"`
	PrincipalSubdivision string `json:"principalSubdivision"`
	CountryName          string `json:"countryName"`
}

// Resolve translates a coordinate pair to a display address. It never fails:
// network errors, non-2xx statuses, malformed bodies, and responses with no
// usable locality all yield the coordinate fallback.
func (r *Resolver) Resolve(ctx context.Context, lat, lon float64) Resolution {
	text, err := r.lookup(ctx, lat, lon)
	if err != nil {
		r.logger.Warn("Reverse geocoding failed, using coordinate fallback",
			"latitude", lat,
			"longitude", lon,
			"error", err)
		return Resolution{DisplayText: FallbackText(lat, lon), Source: SourceFallback}
	}
	return Resolution{DisplayText: text, Source: SourceGeocoded}
}

func (r *Resolver) lookup(ctx context.Context, lat, lon float64) (string, error) {
	query := url.Values{}
	query.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	query.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	query.Set("localityLanguage", r.language)

	reqURL := r.endpoint + "?" + query.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	httpResp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("geocoder request failed: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return "", fmt.Errorf("geocoder returned status %d", httpResp.StatusCode)
	}

	var parsed response
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}

	text := formatAddress(parsed)
	if text == "" {
		return "", fmt.Errorf("response contained no usable locality fields")
	}
	return text, nil
}

// formatAddress joins "{locality|city}, {subdivision}, {country}", trimming
// empty segments and duplicate separators.
func formatAddress(resp response) string {
	locality := strings.TrimSpace(resp.Locality)
	if locality == "" {
		locality = strings.TrimSpace(resp.City)
	}

	segments := make([]string, 0, 3)
	for _, s := range []string{locality, strings.TrimSpace(resp.PrincipalSubdivision), strings.TrimSpace(resp.CountryName)} {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return strings.Join(segments, ", ")
}

// FallbackText formats a coordinate pair as the fallback display address.
func FallbackText(lat, lon float64) string {
	return fmt.Sprintf("%.6f, %.6f", lat, lon)
}
