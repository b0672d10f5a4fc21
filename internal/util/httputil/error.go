package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error is an error with an HTTP status attached. Body, if set, replaces the
// default {"error": message} response body.
type Error struct {
	code    int
	message string
	body    any
	headers map[string][]string
}

func (e *Error) Error() string {
	return fmt.Sprintf("http error %v: %v", e.code, e.message)
}

func (e *Error) Code() int       { return e.code }
func (e *Error) Message() string { return e.message }

func (e *Error) ApplyHeaders(w http.ResponseWriter) {
	for k, vs := range e.headers {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
}

func MakeError(code int, message string) error {
	return &Error{code: code, message: message}
}

func MakeErrorWithBody(code int, message string, body any) error {
	return &Error{code: code, message: message, body: body}
}

func MakeAuthError(message string, scheme string) error {
	return &Error{
		code:    http.StatusUnauthorized,
		message: message,
		headers: map[string][]string{"WWW-Authenticate": {scheme}},
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func WriteJSON(w http.ResponseWriter, code int, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

// WriteErrorResponse writes err as a JSON error. Errors other than *Error
// become a 500 without leaking their text.
func WriteErrorResponse(err error, w http.ResponseWriter) error {
	var httpErr *Error
	if !errors.As(err, &httpErr) {
		return WriteJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
	}
	httpErr.ApplyHeaders(w)
	if httpErr.body != nil {
		return WriteJSON(w, httpErr.code, httpErr.body)
	}
	return WriteJSON(w, httpErr.code, errorBody{Error: httpErr.message})
}
