package clover

import (
	"errors"
	"fmt"
	"net/http"
)

type APIError struct {
	Status int
	Body   string
	Method string
	Path   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("clover %s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

func statusOf(err error) (int, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status, true
	}
	return 0, false
}

// IsNotImplemented reports 404/405/501: the endpoint or operation is not
// available for this merchant or item, as opposed to a genuine failure.
func IsNotImplemented(err error) bool {
	code, ok := statusOf(err)
	return ok && (code == http.StatusNotFound || code == http.StatusMethodNotAllowed || code == http.StatusNotImplemented)
}

func IsNotFound(err error) bool {
	code, ok := statusOf(err)
	return ok && code == http.StatusNotFound
}

func IsConflict(err error) bool {
	code, ok := statusOf(err)
	return ok && code == http.StatusConflict
}
