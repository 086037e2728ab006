// Package weberr decorates errors with what the HTTP layer needs to answer
// them: a response body with its status, and extra fields for the error log.
package weberr

import (
	"errors"
	"net/http"
)

type Opt func(error) error

func Wrap(err error, opts ...Opt) error {
	for _, opt := range opts {
		err = opt(err)
	}
	return err
}

func WithResponse(body interface{}, status int) Opt {
	return func(err error) error {
		return &responseError{error: err, body: body, status: status}
	}
}

// WithFields attaches log fields. Fields already carried by err are kept
// unless overwritten by the same key.
func WithFields(fields map[string]interface{}) Opt {
	return func(err error) error {
		merged := make(map[string]interface{}, len(fields))
		if prev, ok := Fields(err); ok {
			for k, v := range prev {
				merged[k] = v
			}
		}
		for k, v := range fields {
			merged[k] = v
		}
		return &fieldsError{error: err, fields: merged}
	}
}

// Response returns the body and status the error should be answered with.
func Response(err error) (body interface{}, status int, ok bool) {
	var re *responseError
	if errors.As(err, &re) {
		return re.body, re.status, true
	}
	return nil, 0, false
}

// Status is the status err is answered with, 500 for undecorated errors.
func Status(err error) int {
	if _, code, ok := Response(err); ok {
		return code
	}
	return http.StatusInternalServerError
}

func Fields(err error) (map[string]interface{}, bool) {
	var fe *fieldsError
	if errors.As(err, &fe) {
		return fe.fields, true
	}
	return nil, false
}

type responseError struct {
	error
	body   interface{}
	status int
}

func (e *responseError) Unwrap() error { return e.error }

type fieldsError struct {
	error
	fields map[string]interface{}
}

func (e *fieldsError) Unwrap() error { return e.error }
