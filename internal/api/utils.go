package api

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/susu3304/monkibaat/internal/story"
)

func generateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(b)
	return encoded[:length]
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Warn("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeStoryError maps core errors to HTTP responses.
func writeStoryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, story.ErrStoryNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, story.ErrStoryComplete), errors.Is(err, story.ErrAlreadySettled):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, story.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, story.ErrInvariantViolation):
		logrus.WithError(err).Error("invariant violation while serving request")
		writeError(w, http.StatusInternalServerError, "internal error")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		logrus.WithError(err).Error("story operation failed")
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable, try again")
	}
}
