package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// maxErrorBody limits how much of an error response is read.
const maxErrorBody = 64 << 10

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Method     string
	Path       string

	// Fields of the API error body, when present
	ErrorCode        int    `json:"ErrorCode"`
	DeveloperMessage string `json:"DeveloperErrorMessage"`
	Message          string `json:"Message"`

	// Body holds the raw body when it was not a JSON error document
	Body string `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := e.Message
	if e.DeveloperMessage != "" {
		msg = e.DeveloperMessage
	}
	if msg == "" {
		msg = e.Body
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.ErrorCode != 0 {
		return fmt.Sprintf("%s %s: status %d (error code %d): %s", e.Method, e.Path, e.StatusCode, e.ErrorCode, msg)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, msg)
}

// HTTPStatus returns the response status code.
func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}

// newAPIError decodes the error body of resp and closes it.
func newAPIError(req *http.Request, resp *http.Response) *APIError {
	defer resp.Body.Close()

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Method:     req.Method,
		Path:       req.URL.Path,
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(body) == 0 {
		return apiErr
	}
	if json.Unmarshal(body, apiErr) != nil || (apiErr.Message == "" && apiErr.DeveloperMessage == "") {
		apiErr.Body = string(body)
	}
	return apiErr
}

func statusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	return statusOf(err) == http.StatusNotFound
}

// IsUnauthorized reports whether err is a 401 or 403 from the API.
func IsUnauthorized(err error) bool {
	s := statusOf(err)
	return s == http.StatusUnauthorized || s == http.StatusForbidden
}

// IsConflict reports whether err is a 409 from the API.
func IsConflict(err error) bool {
	return statusOf(err) == http.StatusConflict
}
