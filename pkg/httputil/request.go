package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// ErrBodyTooLarge is returned by ParseJSON when MaxBytesMiddleware cut the body off.
var ErrBodyTooLarge = errors.New("request body too large")

// ParseJSON decodes one JSON document from the body into dest. Unknown fields
// are rejected so a misspelt permission never silently becomes a no-op.
func ParseJSON(r *http.Request, dest interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	err := dec.Decode(dest)

	var tooLarge *http.MaxBytesError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &tooLarge):
		return fmt.Errorf("%w: limit is %d bytes", ErrBodyTooLarge, tooLarge.Limit)
	case errors.Is(err, io.EOF):
		return errors.New("request body is required")
	default:
		return fmt.Errorf("invalid JSON: %w", err)
	}
}

// ParseJSONOrError decodes the body, answering 413 or 400 and returning false
// when it cannot.
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	err := ParseJSON(r, dest)
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrBodyTooLarge):
		WriteError(w, http.StatusRequestEntityTooLarge, err)
	default:
		WriteValidationError(w, err.Error())
	}
	return false
}

// ParseQueryBool reads a boolean query parameter, or def when it is absent.
func ParseQueryBool(r *http.Request, key string, def bool) (bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("query parameter %s: %q is not a boolean", key, raw)
	}
	return v, nil
}
