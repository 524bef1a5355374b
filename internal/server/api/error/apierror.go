// Package apierror provides constructors for the problem+json error type
// shared by handlers and the auth layer.
package apierror

import "github.com/dualsense-tools/dsud/apitypes"

func newError(status int, title, detail string) apitypes.ApiError {
	return apitypes.ApiError{Status: status, Title: title, Detail: detail}
}

func ErrBadRequest(detail string) apitypes.ApiError {
	return newError(400, "Bad Request", detail)
}

func ErrUnauthorized(detail string) apitypes.ApiError {
	return newError(401, "Unauthorized", detail)
}

func ErrNotFound(detail string) apitypes.ApiError {
	return newError(404, "Not Found", detail)
}

func ErrConflict(detail string) apitypes.ApiError {
	return newError(409, "Conflict", detail)
}

func ErrInternal(detail string) apitypes.ApiError {
	return newError(500, "Internal Server Error", detail)
}

func ErrDeviceFault(detail string) apitypes.ApiError {
	return newError(502, "Device Fault", detail)
}

func ErrUnavailable(detail string) apitypes.ApiError {
	return newError(503, "Service Unavailable", detail)
}

// WrapError normalizes any error into apitypes.ApiError.
func WrapError(err error) apitypes.ApiError {
	if ae, ok := err.(*apitypes.ApiError); ok {
		return *ae
	}
	if ae, ok := err.(apitypes.ApiError); ok {
		return ae
	}
	return ErrInternal(err.Error())
}
