package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"care-dispatch/internal/apperr"
	"care-dispatch/internal/middleware"

	"github.com/sirupsen/logrus"
)

type errorBody struct {
	Error     *apperr.Error `json:"error"`
	RequestID string        `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError answers with the status for err's kind. Internal causes are
// logged but not echoed.
func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	var body *apperr.Error
	if !errors.As(err, &body) || status == http.StatusInternalServerError {
		s.log.WithContext(r.Context()).WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("Request failed")
		body = &apperr.Error{Kind: apperr.KindInternal, Code: apperr.CodeInternalError, Message: "internal error"}
	}
	writeJSON(w, status, errorBody{Error: body, RequestID: middleware.RequestIDFrom(r.Context())})
}

// decode reads an optional JSON body into v.
func decode(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Validation("body", "malformed JSON body")
	}
	return nil
}
