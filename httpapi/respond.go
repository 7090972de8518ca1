package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"marketchat/keystore"
	"marketchat/messaging"
)

type contextKey struct{}

func withUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(contextKey{}).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.WithError(err).Warn("write response body")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeDomainError maps core errors onto HTTP statuses. Unknown errors
// become 500 with a generic body; the detail goes to the log only.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, messaging.ErrConversationNotFound),
		errors.Is(err, messaging.ErrMessageNotFound),
		errors.Is(err, keystore.ErrKeyNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, messaging.ErrNotAParticipant),
		errors.Is(err, messaging.ErrNotAuthorized),
		errors.Is(err, messaging.ErrNotSender),
		errors.Is(err, keystore.ErrAccessDenied):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, messaging.ErrInvalidReaction),
		errors.Is(err, messaging.ErrEmptyMessage),
		errors.Is(err, messaging.ErrSelfConversation),
		errors.Is(err, messaging.ErrLastAdmin):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		logrus.WithError(err).Error("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, into any) bool {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
