package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/c360studio/fieldcheck/backend"
	"github.com/c360studio/fieldcheck/config"
	"github.com/c360studio/fieldcheck/events"
	"github.com/c360studio/fieldcheck/geocode"
	"github.com/c360studio/fieldcheck/location"
	"github.com/c360studio/fieldcheck/upload"
	"github.com/c360studio/fieldcheck/workflow"
)

// attendanceFlags are the flags shared by checkin and checkout.
type attendanceFlags struct {
	user      string
	lat       float64
	lon       float64
	accuracy  float64
	photoPath string
	address   string
}

func addAttendanceFlags(cmd *cobra.Command, f *attendanceFlags) {
	cmd.Flags().StringVar(&f.user, "user", os.Getenv("FIELDCHECK_USER"), "User ID submitting the event (defaults to $FIELDCHECK_USER)")
	cmd.Flags().Float64Var(&f.lat, "lat", 0, "Latitude of the current position")
	cmd.Flags().Float64Var(&f.lon, "lon", 0, "Longitude of the current position")
	cmd.Flags().Float64Var(&f.accuracy, "accuracy", 25, "Position accuracy radius in meters")
	cmd.Flags().StringVar(&f.photoPath, "photo", "", "Path to a verification photo to upload")
	cmd.Flags().StringVar(&f.address, "address", "", "Address text overriding the geocoded value")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lon")
}

// runAttendance drives one workflow instance end to end from the CLI.
func runAttendance(cmd *cobra.Command, kind backend.Kind, f attendanceFlags, summary *backend.WorkSummary) error {
	if f.user == "" {
		return errors.New("--user (or $FIELDCHECK_USER) is required")
	}

	cfg, err := config.NewLoader(nil).Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	publisher, err := events.Connect(cfg.NATS.URL, events.WithSubjectPrefix(cfg.NATS.SubjectPrefix))
	if err != nil {
		// Observability only; attendance still goes through.
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: transition events disabled: %v\n", err)
	}
	defer publisher.Close()

	deps := workflow.Deps{
		Locations: &location.StaticProvider{
			Latitude:       f.lat,
			Longitude:      f.lon,
			AccuracyMeters: f.accuracy,
		},
		Records: backend.NewClient(cfg.Backend.URL,
			backend.WithHTTPClient(&http.Client{Timeout: cfg.Backend.Timeout})),
		Uploader: upload.NewCoordinator(cfg.Backend.URL,
			upload.WithMaxBytes(cfg.Upload.MaxBytes),
			upload.WithHTTPClient(&http.Client{Timeout: cfg.Upload.Timeout})),
		Resolver: geocode.NewResolver(cfg.Geocoder.URL,
			geocode.WithLanguage(cfg.Geocoder.Language),
			geocode.WithHTTPClient(&http.Client{Timeout: cfg.Geocoder.Timeout})),
	}

	o, err := workflow.New(kind, f.user, deps,
		workflow.WithPublisher(publisher),
		workflow.WithLocationOptions(location.Options{
			HighAccuracy: cfg.Location.HighAccuracy,
			Timeout:      cfg.Location.Timeout,
			MaxAge:       cfg.Location.MaxAge,
		}),
		workflow.WithGeocodeTimeout(cfg.Geocoder.Timeout),
		workflow.WithCloseDelays(cfg.UI.CloseDelay, cfg.UI.CloseDelayWithPhoto),
	)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := o.Open(ctx); err != nil {
		var le *location.Error
		if errors.As(err, &le) {
			fmt.Fprintln(cmd.ErrOrStderr(), le.UserMessage())
		}
		return fmt.Errorf("location acquisition failed: %w", err)
	}

	fix := o.Fix()
	fmt.Fprintf(cmd.OutOrStdout(), "Position: %.6f, %.6f (±%.0fm, %s)\n",
		fix.Latitude, fix.Longitude, fix.AccuracyMeters, o.AccuracyClass())
	if o.AccuracyClass() == location.ClassPoor {
		fmt.Fprintln(cmd.ErrOrStderr(), "Warning: position accuracy is poor; the event will still be submitted.")
	}

	addrCtx, cancel := context.WithTimeout(ctx, cfg.Geocoder.Timeout)
	resolution := o.AwaitAddress(addrCtx)
	cancel()
	fmt.Fprintf(cmd.OutOrStdout(), "Address: %s\n", resolution.DisplayText)

	input := workflow.SubmitInput{
		Summary:         summary,
		AddressOverride: f.address,
	}
	if f.photoPath != "" {
		data, err := os.ReadFile(f.photoPath)
		if err != nil {
			return fmt.Errorf("read photo: %w", err)
		}
		input.Photo = &upload.Photo{Name: filepath.Base(f.photoPath), Data: data}
	}

	result, err := o.Submit(ctx, input)
	if err != nil {
		var re *backend.RejectedError
		if errors.As(err, &re) {
			// Show the backend's own wording; it names the actual conflict.
			return fmt.Errorf("backend rejected the %s: %s", kind, re.Reason)
		}
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s recorded. Attendance ID: %s\n", titleFor(kind), result.AttendanceID)
	for _, w := range result.Warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s\n", w.Message)
	}

	return nil
}

func titleFor(kind backend.Kind) string {
	if kind == backend.CheckOut {
		return "Check-out"
	}
	return "Check-in"
}
