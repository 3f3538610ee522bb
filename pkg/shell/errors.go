package shell

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rubiojr/travelmate/pkg/apiclient"
	"github.com/rubiojr/travelmate/pkg/geolocate"
	"github.com/rubiojr/travelmate/pkg/mapctl"
	"github.com/rubiojr/travelmate/pkg/routing"
	"github.com/rubiojr/travelmate/pkg/storage"
	"github.com/rubiojr/travelmate/pkg/task"
	"github.com/rubiojr/travelmate/pkg/validation"
)

var (
	// ErrInvalidCredentials is returned by Login when the backend rejects
	// the email/password pair. Wrong password and unknown user look the same.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidPhoto rejects avatar uploads that are not images or too large.
	ErrInvalidPhoto = errors.New("invalid photo")
)

// ErrorLogTTL is how long an entry stays in the local error log.
const ErrorLogTTL = 7 * 24 * time.Hour

// MsgInvalidCredentials is shown for any rejected login.
const MsgInvalidCredentials = "Login failed. Please check your email and password."

// Kind names the class of a failure, as recorded in the error log.
func Kind(err error) string {
	var ge *geolocate.GeolocationError
	var ne *apiclient.NetworkError
	switch {
	case err == nil:
		return ""
	case validation.IsValidationError(err), errors.Is(err, ErrInvalidPhoto):
		return "validation"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, mapctl.ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, apiclient.ErrRateLimitExceeded):
		return "rate_limit"
	case errors.Is(err, apiclient.ErrRequestTimeout):
		return "timeout"
	case errors.Is(err, routing.ErrNoRoute):
		return "no_route"
	case errors.As(err, &ge):
		return "geolocation"
	case errors.As(err, &ne):
		return "network"
	}
	switch s := apiclient.StatusOf(err); {
	case s == http.StatusUnauthorized:
		return "unauthorized"
	case s == http.StatusForbidden:
		return "forbidden"
	case s == http.StatusNotFound:
		return "not_found"
	case s >= 500:
		return "server"
	case s > 0:
		return "http"
	}
	return "unknown"
}

// Message returns the single user-visible message for err.
func Message(err error) string {
	switch Kind(err) {
	case "":
		return ""
	case "validation":
		return err.Error()
	case "invalid_credentials":
		return MsgInvalidCredentials
	case "unauthenticated":
		return "Please log in first."
	case "rate_limit":
		return "Too many requests. Please wait a moment and try again."
	case "timeout":
		return "The request timed out. Please try again."
	case "no_route":
		return mapctl.MsgNoRoute
	case "geolocation":
		if geolocate.ReasonOf(err) == geolocate.ReasonDenied {
			return "Location access was denied."
		}
		return "Could not determine your location."
	case "network":
		return "Network error. Please check your connection."
	case "unauthorized":
		return "Your session has expired. Please log in again."
	case "forbidden":
		return "You do not have permission to do that."
	case "not_found":
		return "The requested item was not found."
	case "server":
		return "The server is having trouble. Please try again later."
	case "http":
		var he *apiclient.HTTPError
		if errors.As(err, &he) && he.Detail != "" {
			return he.Detail
		}
		return fmt.Sprintf("Request failed (%d).", apiclient.StatusOf(err))
	}
	return "Something went wrong. Please try again."
}

// reportable reports whether an error is worth sending to the backend.
// Client-side rejections never left the machine.
func reportable(kind string) bool {
	switch kind {
	case "validation", "invalid_credentials", "unauthenticated", "rate_limit", "geolocation", "no_route":
		return false
	}
	return true
}

// HandleError is the central error boundary: it logs err, appends it to the
// rolling error log, reports it when enabled and returns the message to show.
// Superseded and canceled work is dropped silently. A 401 while a token is held
// ends the session.
func (s *Shell) HandleError(op string, err error) string {
	if err == nil || task.IsSuperseded(err) || errors.Is(err, context.Canceled) {
		return ""
	}
	kind := Kind(err)
	msg := Message(err)

	s.log.Error().
		Str("op", op).
		Str("kind", kind).
		Int("status", apiclient.StatusOf(err)).
		Err(err).
		Msg("operation failed")

	entry := storage.ErrorEntry{
		Operation: op,
		Kind:      kind,
		Status:    apiclient.StatusOf(err),
		Message:   msg,
		Detail:    err.Error(),
	}
	if s.errlog != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		saved, lerr := s.errlog.AppendError(ctx, entry, ErrorLogTTL)
		cancel()
		if lerr != nil {
			s.log.Warn().Err(lerr).Msg("error log append failed")
		} else {
			entry = saved
		}
	}
	s.expireSession(err)
	if s.reporter != nil && reportable(kind) {
		s.reports.Add(1)
		go func() {
			defer s.reports.Done()
			s.reporter.Report(context.Background(), entry)
		}()
	}
	return msg
}

// fail surfaces err as an error notification and returns it.
func (s *Shell) fail(op string, err error) error {
	if msg := s.HandleError(op, err); msg != "" {
		s.notify(mapctl.LevelError, msg)
	}
	return err
}
