package workflow

import (
	"context"
	"fmt"

	"github.com/c360studio/fieldcheck/backend"
	"github.com/c360studio/fieldcheck/geocode"
	"github.com/c360studio/fieldcheck/location"
	"github.com/c360studio/fieldcheck/upload"
)

// SubmitInput carries the user's confirmed submission.
type SubmitInput struct {
	// Photo, when non-nil, is uploaded and linked after the attendance
	// transition commits.
	Photo *upload.Photo

	// Summary describes the field day; check-out only.
	Summary *backend.WorkSummary

	// AddressOverride replaces the resolved address when the user edited it.
	AddressOverride string
}

// Submit commits the attendance transition and then opportunistically handles
// the photo. The transition must commit before any upload traffic: photos are
// only ever associated with a server-confirmed record. Photo failures after
// the commit degrade to warnings on the returned Result.
//
// Guard violations (no fix, submission in flight, terminal workflow) and
// commit failures return an error; the committed-with-warnings case does not.
func (o *Orchestrator) Submit(ctx context.Context, input SubmitInput) (*Result, error) {
	fix, err := o.beginSubmit()
	if err != nil {
		return nil, err
	}

	event := &backend.Event{
		Kind:     o.kind,
		UserID:   o.userID,
		Location: *fix,
		Address:  o.chooseAddress(input.AddressOverride),
	}
	// A work summary only accompanies a check-out.
	if o.kind == backend.CheckOut {
		event.Summary = input.Summary
	}

	o.publish(StateSubmitting, "", nil)

	attendanceID, err := o.records.CreateOrTransition(ctx, event)
	if err != nil {
		// Nothing was committed server-side; a manual resubmit re-runs
		// the flow safely.
		o.setState(StateFailed)
		o.metrics.SubmissionRecorded(string(o.kind), "failed")
		o.publish(StateFailed, "", nil)

		o.logger.Warn("Attendance transition failed",
			"event_id", o.eventID,
			"kind", string(o.kind),
			"error", err)
		return nil, fmt.Errorf("attendance transition failed: %w", err)
	}

	o.logger.Info("Attendance transition committed",
		"event_id", o.eventID,
		"kind", string(o.kind),
		"attendance_id", attendanceID)

	var warnings []Warning
	if input.Photo != nil {
		o.setState(StateLinkingPhoto)
		o.publish(StateLinkingPhoto, attendanceID, nil)
		warnings = o.linkPhoto(ctx, attendanceID, *input.Photo)
	}

	o.setState(StateDone)
	result := "done"
	if len(warnings) > 0 {
		result = "done_with_warnings"
	}
	o.metrics.SubmissionRecorded(string(o.kind), result)
	o.publish(StateDone, attendanceID, warnings)

	closeAfter := o.closeDelay
	if input.Photo != nil {
		closeAfter = o.closeDelayWithPhoto
	}

	return &Result{
		State:        StateDone,
		AttendanceID: attendanceID,
		Warnings:     warnings,
		CloseAfter:   closeAfter,
	}, nil
}

// beginSubmit validates the submit preconditions and takes single-flight
// ownership by moving to the submitting state.
func (o *Orchestrator) beginSubmit() (*location.Fix, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.state {
	case StateSubmitting, StateLinkingPhoto:
		return nil, ErrSubmitInFlight
	case StateDone, StateFailed:
		return nil, ErrClosed
	}
	if o.fix == nil {
		return nil, ErrMissingLocation
	}

	o.state = StateSubmitting
	fix := *o.fix
	return &fix, nil
}

// chooseAddress prefers the user's edit, then the finished resolution, then
// the coordinate fallback. It never blocks on the geocoder.
func (o *Orchestrator) chooseAddress(override string) string {
	if override != "" {
		return override
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.addressDone && o.address.DisplayText != "" {
		return o.address.DisplayText
	}
	if o.fix != nil {
		return geocode.FallbackText(o.fix.Latitude, o.fix.Longitude)
	}
	return ""
}

// linkPhoto uploads the photo and attaches its storage path to the committed
// record. Both steps are non-fatal: the attendance record is already correct,
// so failures surface as warnings, never as workflow errors, and the record
// is never rolled back.
func (o *Orchestrator) linkPhoto(ctx context.Context, attendanceID string, photo upload.Photo) []Warning {
	photoType := upload.TypeCheckIn
	if o.kind == backend.CheckOut {
		photoType = upload.TypeCheckOut
	}

	objectPath, err := o.uploader.Upload(ctx, photo, attendanceID, photoType)
	if err != nil {
		o.metrics.PhotoFailure("upload")
		o.logger.Warn("Photo upload failed after commit",
			"event_id", o.eventID,
			"attendance_id", attendanceID,
			"error", err)
		return []Warning{{
			Stage:   StagePhotoUpload,
			Message: "Attendance recorded, but the photo upload failed.",
			Err:     err,
		}}
	}

	if err := o.records.AttachPhoto(ctx, attendanceID, objectPath, photoType); err != nil {
		o.metrics.PhotoFailure("link")
		o.logger.Warn("Photo link-back failed after upload",
			"event_id", o.eventID,
			"attendance_id", attendanceID,
			"object_path", objectPath,
			"error", err)
		return []Warning{{
			Stage:   StagePhotoLink,
			Message: "Attendance recorded, but the photo could not be linked to the record.",
			Err:     err,
		}}
	}

	o.logger.Debug("Photo linked",
		"event_id", o.eventID,
		"attendance_id", attendanceID,
		"object_path", objectPath)
	return nil
}
