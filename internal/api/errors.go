package api

import (
	"errors"
	"net/http"

	"labwatch/internal/domain"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrDeviceNotFound), errors.Is(err, domain.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDeviceBusy):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
