package errutil

import (
	"context"
	"errors"
	"net/http"
)

// HTTPCode converts the CoreStatus to its closest HTTP status code equivalent.
func (s CoreStatus) HTTPCode() int {
	switch s {
	case StatusUnauthorized:
		return http.StatusUnauthorized
	case StatusForbidden:
		return http.StatusForbidden
	case StatusNotFound:
		return http.StatusNotFound
	case StatusTimeout:
		return http.StatusGatewayTimeout
	case StatusUnprocessableEntity:
		return http.StatusUnprocessableEntity
	case StatusBadRequest, StatusValidationFailed:
		return http.StatusBadRequest
	case StatusConflict:
		return http.StatusConflict
	case StatusTooManyRequests:
		return http.StatusTooManyRequests
	case StatusServiceUnavailable:
		return http.StatusServiceUnavailable
	case StatusInternal, StatusUnknown:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ToHTTP normalises a domain error into a (status, body) pair so gin handlers
// can safely return it to the transport layer.
func ToHTTP(err error) (int, interface{}) {
	if err == nil {
		return http.StatusOK, nil
	}

	if errors.Is(err, context.Canceled) {
		return 499, map[string]interface{}{"error": map[string]interface{}{"code": "CLIENT_CLOSED_REQUEST", "message": err.Error()}}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, map[string]interface{}{"error": map[string]interface{}{"code": StatusTimeout, "message": err.Error()}}
	}

	var base BaseError
	if errors.As(err, &base) {
		return base.Code.HTTPCode(), base.JSON()
	}

	var coder interface{ Status() CoreStatus }
	if errors.As(err, &coder) {
		return coder.Status().HTTPCode(), map[string]interface{}{
			"error": map[string]interface{}{"code": coder.Status(), "message": err.Error()},
		}
	}

	return http.StatusInternalServerError, map[string]interface{}{
		"error": map[string]interface{}{"code": StatusInternal, "message": err.Error()},
	}
}
