// Package workflow sequences a single check-in or check-out: acquire a
// position fix, enrich it with a best-effort address, submit the attendance
// transition, then opportunistically upload and link a photo. Each workflow
// instance owns one attempt; partial photo failures degrade to warnings and
// never invalidate a committed attendance record.
package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/fieldcheck/backend"
	"github.com/c360studio/fieldcheck/events"
	"github.com/c360studio/fieldcheck/geocode"
	"github.com/c360studio/fieldcheck/location"
	"github.com/c360studio/fieldcheck/metric"
	"github.com/c360studio/fieldcheck/upload"
)

// State names a workflow phase.
type State string

// Workflow states. Done and Failed are terminal.
const (
	StateIdle          State = "idle"
	StateLocating      State = "locating_gps"
	StateAwaitingInput State = "awaiting_user_input"
	StateSubmitting    State = "submitting"
	StateLinkingPhoto  State = "linking_photo"
	StateDone          State = "done"
	StateFailed        State = "failed"
)

// Sentinel errors for workflow guard violations.
var (
	ErrMissingLocation = errors.New("no position fix: location must be acquired before submitting")
	ErrSubmitInFlight  = errors.New("a submission is already in flight")
	ErrClosed          = errors.New("workflow already reached a terminal state")
	ErrNotLocating     = errors.New("workflow is not waiting on location acquisition")
)

// WarningStage identifies which non-fatal step failed.
type WarningStage string

// Warning stages.
const (
	StagePhotoUpload WarningStage = "photo-upload"
	StagePhotoLink   WarningStage = "photo-link"
)

// Warning is a non-fatal failure surfaced after the attendance record
// committed. The record itself is correct and untouched.
type Warning struct {
	Stage   WarningStage
	Message string
	Err     error
}

// Result is the terminal outcome of a successful submission.
type Result struct {
	State        State
	AttendanceID string
	Warnings     []Warning

	// CloseAfter is the suggested delay before closing the workflow view,
	// longer when a photo was attached so the user sees the upload outcome.
	CloseAfter time.Duration
}

// RecordClient is the attendance backend contract the orchestrator depends on.
type RecordClient interface {
	CreateOrTransition(ctx context.Context, event *backend.Event) (string, error)
	AttachPhoto(ctx context.Context, attendanceID, objectPath string, photoType upload.PhotoType) error
}

// Uploader performs the two-phase photo upload.
type Uploader interface {
	Upload(ctx context.Context, photo upload.Photo, attendanceID string, photoType upload.PhotoType) (string, error)
}

// AddressResolver translates a fix to a display address, never failing.
type AddressResolver interface {
	Resolve(ctx context.Context, lat, lon float64) geocode.Resolution
}

// TransitionPublisher receives workflow transition events.
type TransitionPublisher interface {
	Publish(event events.TransitionEvent)
}

// Deps are the orchestrator's required collaborators.
type Deps struct {
	Locations location.Provider
	Records   RecordClient
	Uploader  Uploader
	// Resolver is optional; without it addresses fall back to coordinates.
	Resolver AddressResolver
}

// Orchestrator drives one check-in or check-out attempt.
type Orchestrator struct {
	kind    backend.Kind
	userID  string
	eventID string

	locations location.Provider
	records   RecordClient
	uploader  Uploader
	resolver  AddressResolver
	publisher TransitionPublisher
	metrics   *metric.Metrics
	logger    *slog.Logger

	locOpts             location.Options
	geocodeTimeout      time.Duration
	closeDelay          time.Duration
	closeDelayWithPhoto time.Duration

	mu          sync.Mutex
	state       State
	fix         *location.Fix
	locationErr error
	address     geocode.Resolution
	addressDone bool
	addressCh   chan struct{}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithPublisher sets the transition-event publisher.
func WithPublisher(p TransitionPublisher) Option {
	return func(o *Orchestrator) {
		o.publisher = p
	}
}

// WithMetrics sets the Prometheus recorders.
func WithMetrics(m *metric.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithLocationOptions sets the acquisition options.
func WithLocationOptions(opts location.Options) Option {
	return func(o *Orchestrator) {
		o.locOpts = opts
	}
}

// WithGeocodeTimeout bounds background address resolution.
func WithGeocodeTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.geocodeTimeout = d
	}
}

// WithCloseDelays tunes the suggested view-close delays.
func WithCloseDelays(withoutPhoto, withPhoto time.Duration) Option {
	return func(o *Orchestrator) {
		o.closeDelay = withoutPhoto
		o.closeDelayWithPhoto = withPhoto
	}
}

// New creates an orchestrator for a single attendance attempt.
func New(kind backend.Kind, userID string, deps Deps, opts ...Option) (*Orchestrator, error) {
	if kind != backend.CheckIn && kind != backend.CheckOut {
		return nil, errors.New("kind must be check-in or check-out")
	}
	if userID == "" {
		return nil, errors.New("user ID is required")
	}
	if deps.Locations == nil {
		return nil, errors.New("location provider is required")
	}
	if deps.Records == nil {
		return nil, errors.New("record client is required")
	}
	if deps.Uploader == nil {
		return nil, errors.New("uploader is required")
	}

	o := &Orchestrator{
		kind:                kind,
		userID:              userID,
		eventID:             uuid.New().String(),
		locations:           deps.Locations,
		records:             deps.Records,
		uploader:            deps.Uploader,
		resolver:            deps.Resolver,
		logger:              slog.Default(),
		locOpts:             location.DefaultOptions(),
		geocodeTimeout:      5 * time.Second,
		closeDelay:          500 * time.Millisecond,
		closeDelayWithPhoto: 1500 * time.Millisecond,
		state:               StateIdle,
		addressCh:           make(chan struct{}),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o, nil
}

// EventID returns the attempt's correlation ID.
func (o *Orchestrator) EventID() string {
	return o.eventID
}

// State returns the current workflow state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Fix returns the acquired position fix, or nil before acquisition succeeds.
func (o *Orchestrator) Fix() *location.Fix {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fix
}

// LocationError returns the last acquisition failure, or nil.
func (o *Orchestrator) LocationError() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.locationErr
}

// AccuracyClass grades the current fix for UI warnings. A poor class never
// blocks submission.
func (o *Orchestrator) AccuracyClass() location.Class {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fix == nil {
		return location.ClassPoor
	}
	return location.ClassifyAccuracy(o.fix.AccuracyMeters)
}

// Open starts the workflow: it acquires a fix and, on success, fires address
// resolution in the background. On failure the workflow stays in the locating
// state with a retry affordance; submission is disabled until a fix exists.
func (o *Orchestrator) Open(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return ErrNotLocating
	}
	o.state = StateLocating
	o.mu.Unlock()

	return o.acquire(ctx)
}

// Retry re-invokes location acquisition after a failure. It is only valid
// while the workflow is waiting on a fix; retries are always explicit user
// actions, never automatic.
func (o *Orchestrator) Retry(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateLocating {
		o.mu.Unlock()
		return ErrNotLocating
	}
	o.mu.Unlock()

	return o.acquire(ctx)
}

func (o *Orchestrator) acquire(ctx context.Context) error {
	fix, err := o.locations.Acquire(ctx, o.locOpts)
	if err != nil {
		o.mu.Lock()
		o.locationErr = err
		o.mu.Unlock()

		o.logger.Warn("Location acquisition failed",
			"event_id", o.eventID,
			"code", string(location.CodeOf(err)),
			"error", err)
		return err
	}

	o.mu.Lock()
	o.fix = fix
	o.locationErr = nil
	o.state = StateAwaitingInput
	o.mu.Unlock()

	o.logger.Debug("Position fix acquired",
		"event_id", o.eventID,
		"accuracy_m", fix.AccuracyMeters,
		"class", string(location.ClassifyAccuracy(fix.AccuracyMeters)))

	o.resolveAddress(*fix)
	return nil
}

// resolveAddress runs reverse geocoding off the critical path. The workflow
// never waits on it beyond the configured bound, and the user can override
// the result at submit time.
func (o *Orchestrator) resolveAddress(fix location.Fix) {
	if o.resolver == nil {
		o.mu.Lock()
		o.address = geocode.Resolution{
			DisplayText: geocode.FallbackText(fix.Latitude, fix.Longitude),
			Source:      geocode.SourceFallback,
		}
		o.addressDone = true
		o.mu.Unlock()
		close(o.addressCh)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), o.geocodeTimeout)
		defer cancel()

		res := o.resolver.Resolve(ctx, fix.Latitude, fix.Longitude)
		if res.Source == geocode.SourceFallback {
			o.metrics.GeocodeFallback()
		}

		o.mu.Lock()
		o.address = res
		o.addressDone = true
		o.mu.Unlock()
		close(o.addressCh)
	}()
}

// Address returns the current resolution and whether resolution finished.
func (o *Orchestrator) Address() (geocode.Resolution, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.address, o.addressDone
}

// AwaitAddress blocks until address resolution finishes or ctx expires,
// returning the best available resolution either way.
func (o *Orchestrator) AwaitAddress(ctx context.Context) geocode.Resolution {
	select {
	case <-o.addressCh:
	case <-ctx.Done():
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.addressDone {
		return o.address
	}
	if o.fix != nil {
		return geocode.Resolution{
			DisplayText: geocode.FallbackText(o.fix.Latitude, o.fix.Longitude),
			Source:      geocode.SourceFallback,
		}
	}
	return geocode.Resolution{Source: geocode.SourceFallback}
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// publish emits a transition event; it is a no-op without a publisher.
func (o *Orchestrator) publish(state State, attendanceID string, warnings []Warning) {
	if o.publisher == nil {
		return
	}

	msgs := make([]string, 0, len(warnings))
	for _, w := range warnings {
		msgs = append(msgs, w.Message)
	}

	o.publisher.Publish(events.TransitionEvent{
		EventID:      o.eventID,
		UserID:       o.userID,
		Kind:         string(o.kind),
		State:        string(state),
		AttendanceID: attendanceID,
		Warnings:     msgs,
		At:           time.Now(),
	})
}
