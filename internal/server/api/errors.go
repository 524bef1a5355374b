package api

import (
	"errors"

	"github.com/dualsense-tools/dsud/apitypes"
	"github.com/dualsense-tools/dsud/internal/daemon"
	"github.com/dualsense-tools/dsud/internal/firmware"
	"github.com/dualsense-tools/dsud/internal/profile"
	"github.com/dualsense-tools/dsud/internal/session"
)

// Factory helpers returning *apitypes.ApiError (single canonical error type).
func ErrBadRequest(detail string) *apitypes.ApiError {
	return &apitypes.ApiError{Status: 400, Title: "Bad Request", Detail: detail}
}
func ErrNotFound(detail string) *apitypes.ApiError {
	return &apitypes.ApiError{Status: 404, Title: "Not Found", Detail: detail}
}
func ErrConflict(detail string) *apitypes.ApiError {
	return &apitypes.ApiError{Status: 409, Title: "Conflict", Detail: detail}
}
func ErrInternal(detail string) *apitypes.ApiError {
	return &apitypes.ApiError{Status: 500, Title: "Internal Server Error", Detail: detail}
}

// WrapError normalizes any error into *apitypes.ApiError, mapping the domain
// error taxonomy onto the wire status codes clients dispatch on.
func WrapError(err error) *apitypes.ApiError {
	if err == nil {
		return nil
	}
	if ae, ok := err.(*apitypes.ApiError); ok {
		return ae
	}
	if ae, ok := err.(apitypes.ApiError); ok {
		return &ae
	}

	var incompat *firmware.IncompatibleImageError
	var failed *firmware.UpdateFailedError

	switch {
	case errors.Is(err, daemon.ErrUnknownHandle),
		errors.Is(err, profile.ErrNotFound):
		return &apitypes.ApiError{Status: 404, Title: "Not Found", Detail: err.Error()}

	case errors.Is(err, session.ErrBusy),
		errors.Is(err, session.ErrUpdateRunning),
		errors.Is(err, session.ErrNoUpdate),
		errors.Is(err, firmware.ErrTooLateToAbort):
		return &apitypes.ApiError{Status: 409, Title: "Conflict", Detail: err.Error()}

	case errors.Is(err, session.ErrBluetoothUpdate),
		errors.Is(err, session.ErrLowBattery),
		errors.Is(err, firmware.ErrChecksumMismatch),
		errors.Is(err, firmware.ErrSizeMismatch),
		errors.Is(err, firmware.ErrImageTooSmall),
		errors.Is(err, profile.ErrBadName):
		return &apitypes.ApiError{Status: 400, Title: "Bad Request", Detail: err.Error()}

	case errors.As(err, &incompat):
		return &apitypes.ApiError{Status: 400, Title: "Bad Request", Detail: err.Error()}

	case errors.Is(err, session.ErrNotReady),
		errors.Is(err, session.ErrStopped),
		errors.Is(err, daemon.ErrStopped):
		return &apitypes.ApiError{Status: 503, Title: "Service Unavailable", Detail: err.Error()}

	case errors.Is(err, session.ErrFaulted),
		errors.Is(err, firmware.ErrUpdateUncertain),
		errors.As(err, &failed):
		return &apitypes.ApiError{Status: 502, Title: "Device Fault", Detail: err.Error()}
	}

	// Default wrap as internal error
	return ErrInternal(err.Error())
}
