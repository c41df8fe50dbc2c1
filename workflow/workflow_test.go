package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/fieldcheck/backend"
	"github.com/c360studio/fieldcheck/events"
	"github.com/c360studio/fieldcheck/geocode"
	"github.com/c360studio/fieldcheck/location"
	"github.com/c360studio/fieldcheck/upload"
)

// --- fakes ---

type fakeProvider struct {
	mu    sync.Mutex
	fix   *location.Fix
	err   error
	calls int
}

func (p *fakeProvider) Acquire(ctx context.Context, opts location.Options) (*location.Fix, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	fix := *p.fix
	fix.CapturedAt = time.Now()
	return &fix, nil
}

type fakeRecords struct {
	mu sync.Mutex

	id        string
	createErr error
	attachErr error

	createCalls  int
	attachCalls  int
	lastEvent    *backend.Event
	attachedPath string
	attachedType upload.PhotoType

	// blockCreate, when non-nil, holds CreateOrTransition until closed.
	blockCreate chan struct{}
}

func (r *fakeRecords) CreateOrTransition(ctx context.Context, event *backend.Event) (string, error) {
	r.mu.Lock()
	r.createCalls++
	r.lastEvent = event
	block := r.blockCreate
	r.mu.Unlock()

	if block != nil {
		<-block
	}
	if r.createErr != nil {
		return "", r.createErr
	}
	return r.id, nil
}

func (r *fakeRecords) AttachPhoto(ctx context.Context, attendanceID, objectPath string, photoType upload.PhotoType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attachCalls++
	r.attachedPath = objectPath
	r.attachedType = photoType
	return r.attachErr
}

type fakeUploader struct {
	mu    sync.Mutex
	path  string
	err   error
	calls int
	gotID string
}

func (u *fakeUploader) Upload(ctx context.Context, photo upload.Photo, attendanceID string, photoType upload.PhotoType) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	u.gotID = attendanceID
	if u.err != nil {
		return "", u.err
	}
	return u.path, nil
}

func (u *fakeUploader) callCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls
}

type fakeResolver struct {
	res   geocode.Resolution
	delay time.Duration
}

func (r *fakeResolver) Resolve(ctx context.Context, lat, lon float64) geocode.Resolution {
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return geocode.Resolution{DisplayText: geocode.FallbackText(lat, lon), Source: geocode.SourceFallback}
		}
	}
	return r.res
}

type capturePublisher struct {
	mu     sync.Mutex
	events []events.TransitionEvent
}

func (p *capturePublisher) Publish(event events.TransitionEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *capturePublisher) states() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.State)
	}
	return out
}

// --- helpers ---

func goodFix() *location.Fix {
	return &location.Fix{Latitude: -6.2, Longitude: 106.816666, AccuracyMeters: 8}
}

func newTestOrchestrator(t *testing.T, kind backend.Kind, deps Deps, opts ...Option) *Orchestrator {
	t.Helper()
	if deps.Locations == nil {
		deps.Locations = &fakeProvider{fix: goodFix()}
	}
	if deps.Records == nil {
		deps.Records = &fakeRecords{id: "abc"}
	}
	if deps.Uploader == nil {
		deps.Uploader = &fakeUploader{path: "photos/abc.jpg"}
	}
	o, err := New(kind, "user-7", deps, opts...)
	require.NoError(t, err)
	return o
}

func photo() *upload.Photo {
	return &upload.Photo{Name: "visit.jpg", ContentType: "image/jpeg", Data: []byte{0xFF, 0xD8, 0xFF}}
}

// --- tests ---

func TestNewValidation(t *testing.T) {
	deps := Deps{
		Locations: &fakeProvider{fix: goodFix()},
		Records:   &fakeRecords{id: "abc"},
		Uploader:  &fakeUploader{},
	}

	_, err := New("lunch", "user-7", deps)
	assert.Error(t, err)

	_, err = New(backend.CheckIn, "", deps)
	assert.Error(t, err)

	_, err = New(backend.CheckIn, "user-7", Deps{Records: deps.Records, Uploader: deps.Uploader})
	assert.Error(t, err)

	o, err := New(backend.CheckIn, "user-7", deps)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, o.State())
	assert.NotEmpty(t, o.EventID())
}

func TestOpenAcquiresFixAndResolvesAddress(t *testing.T) {
	resolver := &fakeResolver{res: geocode.Resolution{DisplayText: "Gambir, Jakarta, Indonesia", Source: geocode.SourceGeocoded}}
	o := newTestOrchestrator(t, backend.CheckIn, Deps{Resolver: resolver})

	require.NoError(t, o.Open(context.Background()))

	assert.Equal(t, StateAwaitingInput, o.State())
	require.NotNil(t, o.Fix())
	assert.Equal(t, location.ClassGood, o.AccuracyClass())

	res := o.AwaitAddress(context.Background())
	assert.Equal(t, geocode.SourceGeocoded, res.Source)
	assert.Equal(t, "Gambir, Jakarta, Indonesia", res.DisplayText)
}

// Scenario A: permission denied blocks submission until an explicit retry
// succeeds.
func TestLocationDeniedThenRetry(t *testing.T) {
	provider := &fakeProvider{err: location.NewError(location.CodePermissionDenied, nil)}
	records := &fakeRecords{id: "abc"}
	o := newTestOrchestrator(t, backend.CheckIn, Deps{Locations: provider, Records: records})

	err := o.Open(context.Background())
	require.Error(t, err)
	assert.True(t, location.IsPermissionDenied(err))
	assert.True(t, location.Retryable(err))
	assert.Equal(t, StateLocating, o.State())
	assert.Nil(t, o.Fix())

	// Submission is disabled while no valid fix exists, with no network call.
	_, err = o.Submit(context.Background(), SubmitInput{})
	assert.ErrorIs(t, err, ErrMissingLocation)
	assert.Zero(t, records.createCalls)

	// The user grants permission; an explicit retry re-invokes acquisition.
	provider.mu.Lock()
	provider.err = nil
	provider.fix = goodFix()
	provider.mu.Unlock()

	require.NoError(t, o.Retry(context.Background()))
	assert.Equal(t, StateAwaitingInput, o.State())
	assert.Equal(t, 2, provider.calls)
	assert.NoError(t, o.LocationError())
}

// Scenario B: full happy path without a photo makes no upload calls.
func TestSubmitHappyPathNoPhoto(t *testing.T) {
	records := &fakeRecords{id: "abc"}
	uploader := &fakeUploader{}
	resolver := &fakeResolver{res: geocode.Resolution{DisplayText: "Gambir, Jakarta, Indonesia", Source: geocode.SourceGeocoded}}
	o := newTestOrchestrator(t, backend.CheckIn, Deps{Records: records, Uploader: uploader, Resolver: resolver})

	require.NoError(t, o.Open(context.Background()))
	o.AwaitAddress(context.Background())

	result, err := o.Submit(context.Background(), SubmitInput{})
	require.NoError(t, err)

	assert.Equal(t, StateDone, result.State)
	assert.Equal(t, "abc", result.AttendanceID)
	assert.Empty(t, result.Warnings)
	assert.Equal(t, StateDone, o.State())
	assert.Zero(t, uploader.callCount(), "no photo means no upload traffic")
	assert.Equal(t, 500*time.Millisecond, result.CloseAfter)
	assert.Equal(t, "Gambir, Jakarta, Indonesia", records.lastEvent.Address)
}

// Scenario C: commit succeeds, upload fails: done with a warning, photo path
// never attached.
func TestSubmitPhotoUploadFailureIsWarning(t *testing.T) {
	records := &fakeRecords{id: "att-42"}
	uploader := &fakeUploader{err: &upload.TransferError{Status: "502 Bad Gateway"}}
	o := newTestOrchestrator(t, backend.CheckOut, Deps{Records: records, Uploader: uploader})

	require.NoError(t, o.Open(context.Background()))

	result, err := o.Submit(context.Background(), SubmitInput{Photo: photo()})
	require.NoError(t, err, "photo failure after commit must not fail the workflow")

	assert.Equal(t, StateDone, result.State)
	assert.Equal(t, "att-42", result.AttendanceID)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, StagePhotoUpload, result.Warnings[0].Stage)
	assert.True(t, upload.IsTransferFailure(result.Warnings[0].Err))
	assert.Zero(t, records.attachCalls, "the record's photo path must remain unset")
	assert.Equal(t, 1500*time.Millisecond, result.CloseAfter)
}

func TestSubmitPhotoLinkFailureIsWarning(t *testing.T) {
	records := &fakeRecords{id: "att-42", attachErr: &backend.RejectedError{Reason: "record locked"}}
	uploader := &fakeUploader{path: "photos/att-42.jpg"}
	o := newTestOrchestrator(t, backend.CheckOut, Deps{Records: records, Uploader: uploader})

	require.NoError(t, o.Open(context.Background()))

	result, err := o.Submit(context.Background(), SubmitInput{Photo: photo()})
	require.NoError(t, err)

	require.Len(t, result.Warnings, 1)
	assert.Equal(t, StagePhotoLink, result.Warnings[0].Stage)
	assert.Equal(t, "att-42", result.AttendanceID)
	assert.Equal(t, 1, records.attachCalls)
	assert.Equal(t, upload.TypeCheckOut, records.attachedType)
}

// Scenario D: commit rejection fails the workflow with the server's text
// verbatim and, per the ordering invariant, zero upload traffic.
func TestSubmitCommitRejected(t *testing.T) {
	records := &fakeRecords{createErr: &backend.RejectedError{Reason: "duplicate checkout"}}
	uploader := &fakeUploader{}
	o := newTestOrchestrator(t, backend.CheckOut, Deps{Records: records, Uploader: uploader})

	require.NoError(t, o.Open(context.Background()))

	_, err := o.Submit(context.Background(), SubmitInput{Photo: photo()})
	require.Error(t, err)
	assert.True(t, backend.IsRejected(err))

	var re *backend.RejectedError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "duplicate checkout", re.Reason)

	assert.Equal(t, StateFailed, o.State())
	assert.Zero(t, uploader.callCount(), "no upload may be attempted without a committed record")
	assert.Zero(t, records.attachCalls)

	// Terminal state: resubmission requires a fresh workflow instance.
	_, err = o.Submit(context.Background(), SubmitInput{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSubmitCommitUnreachable(t *testing.T) {
	records := &fakeRecords{createErr: errors.New("dial tcp: connection refused")}
	uploader := &fakeUploader{}
	o := newTestOrchestrator(t, backend.CheckIn, Deps{Records: records, Uploader: uploader})

	require.NoError(t, o.Open(context.Background()))

	_, err := o.Submit(context.Background(), SubmitInput{Photo: photo()})
	require.Error(t, err)
	assert.Equal(t, StateFailed, o.State())
	assert.Zero(t, uploader.callCount())
}

func TestSubmitSingleFlight(t *testing.T) {
	records := &fakeRecords{id: "abc", blockCreate: make(chan struct{})}
	o := newTestOrchestrator(t, backend.CheckIn, Deps{Records: records})

	require.NoError(t, o.Open(context.Background()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := o.Submit(context.Background(), SubmitInput{})
		assert.NoError(t, err)
	}()

	// Wait until the first submission holds the workflow.
	require.Eventually(t, func() bool {
		return o.State() == StateSubmitting
	}, time.Second, 5*time.Millisecond)

	_, err := o.Submit(context.Background(), SubmitInput{})
	assert.ErrorIs(t, err, ErrSubmitInFlight)

	close(records.blockCreate)
	<-done
	assert.Equal(t, 1, records.createCalls)
}

func TestSummaryDroppedOnCheckIn(t *testing.T) {
	records := &fakeRecords{id: "abc"}
	o := newTestOrchestrator(t, backend.CheckIn, Deps{Records: records})

	require.NoError(t, o.Open(context.Background()))
	_, err := o.Submit(context.Background(), SubmitInput{
		Summary: &backend.WorkSummary{VisitCount: 3},
	})
	require.NoError(t, err)
	assert.Nil(t, records.lastEvent.Summary)
}

func TestSummaryCarriedOnCheckOut(t *testing.T) {
	records := &fakeRecords{id: "abc"}
	o := newTestOrchestrator(t, backend.CheckOut, Deps{Records: records})

	require.NoError(t, o.Open(context.Background()))
	_, err := o.Submit(context.Background(), SubmitInput{
		Summary: &backend.WorkSummary{VisitCount: 3, TasksCompleted: 2, Outcome: backend.OutcomeProductive},
	})
	require.NoError(t, err)
	require.NotNil(t, records.lastEvent.Summary)
	assert.Equal(t, uint32(3), records.lastEvent.Summary.VisitCount)
}

func TestAddressOverrideWins(t *testing.T) {
	records := &fakeRecords{id: "abc"}
	resolver := &fakeResolver{res: geocode.Resolution{DisplayText: "Somewhere", Source: geocode.SourceGeocoded}}
	o := newTestOrchestrator(t, backend.CheckIn, Deps{Records: records, Resolver: resolver})

	require.NoError(t, o.Open(context.Background()))
	o.AwaitAddress(context.Background())

	_, err := o.Submit(context.Background(), SubmitInput{AddressOverride: "Warehouse 4, Cakung"})
	require.NoError(t, err)
	assert.Equal(t, "Warehouse 4, Cakung", records.lastEvent.Address)
}

func TestSlowGeocoderNeverBlocksSubmit(t *testing.T) {
	records := &fakeRecords{id: "abc"}
	resolver := &fakeResolver{
		res:   geocode.Resolution{DisplayText: "Too late", Source: geocode.SourceGeocoded},
		delay: time.Minute,
	}
	o := newTestOrchestrator(t, backend.CheckIn, Deps{Records: records, Resolver: resolver})

	require.NoError(t, o.Open(context.Background()))

	// Submit immediately; the unresolved address degrades to coordinates.
	_, err := o.Submit(context.Background(), SubmitInput{})
	require.NoError(t, err)
	assert.Equal(t, "-6.200000, 106.816666", records.lastEvent.Address)
}

func TestNoResolverFallsBackToCoordinates(t *testing.T) {
	records := &fakeRecords{id: "abc"}
	o := newTestOrchestrator(t, backend.CheckIn, Deps{Records: records})

	require.NoError(t, o.Open(context.Background()))

	res := o.AwaitAddress(context.Background())
	assert.Equal(t, geocode.SourceFallback, res.Source)
	assert.Equal(t, "-6.200000, 106.816666", res.DisplayText)

	_, err := o.Submit(context.Background(), SubmitInput{})
	require.NoError(t, err)
	assert.Equal(t, "-6.200000, 106.816666", records.lastEvent.Address)
}

func TestCloseDelaysTunable(t *testing.T) {
	o := newTestOrchestrator(t, backend.CheckIn, Deps{},
		WithCloseDelays(100*time.Millisecond, 2*time.Second))

	require.NoError(t, o.Open(context.Background()))
	result, err := o.Submit(context.Background(), SubmitInput{Photo: photo()})
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, result.CloseAfter)
}

func TestPublisherSeesTransitions(t *testing.T) {
	pub := &capturePublisher{}
	o := newTestOrchestrator(t, backend.CheckOut, Deps{}, WithPublisher(pub))

	require.NoError(t, o.Open(context.Background()))
	_, err := o.Submit(context.Background(), SubmitInput{Photo: photo()})
	require.NoError(t, err)

	assert.Equal(t, []string{"submitting", "linking_photo", "done"}, pub.states())
	last := pub.events[len(pub.events)-1]
	assert.Equal(t, "abc", last.AttendanceID)
	assert.Equal(t, "check-out", last.Kind)
	assert.Equal(t, o.EventID(), last.EventID)
}

func TestRetryOnlyWhileLocating(t *testing.T) {
	o := newTestOrchestrator(t, backend.CheckIn, Deps{})
	assert.ErrorIs(t, o.Retry(context.Background()), ErrNotLocating)

	require.NoError(t, o.Open(context.Background()))
	assert.ErrorIs(t, o.Retry(context.Background()), ErrNotLocating)
}
