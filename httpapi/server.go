// Package httpapi exposes the messaging core over REST and WebSocket.
// Caller identity arrives in the X-User-ID header, set by the
// marketplace gateway after authentication; this service trusts it.
package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"marketchat/keystore"
	"marketchat/messaging"
	"marketchat/models"
	"marketchat/realtime"
	"marketchat/storage"
)

const identityHeader = "X-User-ID"

// Server holds the handler dependencies and the route table.
type Server struct {
	registry *messaging.Registry
	admin    *messaging.Admin
	service  *messaging.Service
	keys     *keystore.KeyStore
	bridge   *realtime.Bridge
	profiles models.ProfileResolver
}

// Options carries the optional collaborators.
type Options struct {
	// Profiles enriches participant listings with display data. Nil
	// disables enrichment.
	Profiles models.ProfileResolver
}

// New builds a Server over the messaging core. The bridge may be nil to
// disable the WebSocket endpoint.
func New(registry *messaging.Registry, admin *messaging.Admin, service *messaging.Service, keys *keystore.KeyStore, bridge *realtime.Bridge, opts Options) *Server {
	return &Server{
		registry: registry,
		admin:    admin,
		service:  service,
		keys:     keys,
		bridge:   bridge,
		profiles: opts.Profiles,
	}
}

// Handler returns the full HTTP handler: routes, identity middleware,
// and CORS.
func (s *Server) Handler(allowedOrigins []string) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(logRequest)
	api.Use(s.requireIdentity)

	api.HandleFunc("/keys", s.handleEnsureKeys).Methods("POST")
	api.HandleFunc("/keys/{userID}", s.handleGetPublicKey).Methods("GET")

	api.HandleFunc("/conversations/direct", s.handleCreateDirect).Methods("POST")
	api.HandleFunc("/conversations/group", s.handleCreateGroup).Methods("POST")
	api.HandleFunc("/conversations", s.handleInbox).Methods("GET")
	api.HandleFunc("/conversations/requests", s.handleRequests).Methods("GET")
	api.HandleFunc("/conversations/{id}", s.handleGetConversation).Methods("GET")
	api.HandleFunc("/conversations/{id}", s.handleUpdateMetadata).Methods("PATCH")
	api.HandleFunc("/conversations/{id}", s.handleDeleteConversation).Methods("DELETE")
	api.HandleFunc("/conversations/{id}/accept", s.handleAcceptRequest).Methods("POST")
	api.HandleFunc("/conversations/{id}/decline", s.handleDeclineRequest).Methods("POST")
	api.HandleFunc("/conversations/{id}/participants", s.handleParticipants).Methods("GET")
	api.HandleFunc("/conversations/{id}/members", s.handleAddMember).Methods("POST")
	api.HandleFunc("/conversations/{id}/members/{userID}", s.handleRemoveMember).Methods("DELETE")
	api.HandleFunc("/conversations/{id}/leave", s.handleLeave).Methods("POST")
	api.HandleFunc("/conversations/{id}/admins", s.handleAdmins).Methods("GET")
	api.HandleFunc("/conversations/{id}/admins", s.handlePromote).Methods("POST")
	api.HandleFunc("/conversations/{id}/admins/{userID}", s.handleDemote).Methods("DELETE")

	api.HandleFunc("/conversations/{id}/messages", s.handleSend).Methods("POST")
	api.HandleFunc("/conversations/{id}/messages", s.handleFetch).Methods("GET")
	api.HandleFunc("/conversations/{id}/read", s.handleMarkRead).Methods("POST")
	api.HandleFunc("/conversations/{id}/unread", s.handleUnread).Methods("GET")
	api.HandleFunc("/messages/{id}", s.handleDelete).Methods("DELETE")
	api.HandleFunc("/messages/{id}/reactions", s.handleReact).Methods("POST")
	api.HandleFunc("/messages/{id}/reactions", s.handleReactions).Methods("GET")

	if s.bridge != nil {
		r.HandleFunc("/ws", s.handleWebSocket).Methods("GET")
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS", "PATCH"},
		AllowedHeaders:   []string{"Content-Type", identityHeader},
		ExposedHeaders:   []string{"Content-Length"},
		MaxAge:           300,
		AllowCredentials: true,
	})
	return c.Handler(r)
}

func (s *Server) requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(identityHeader))
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing "+identityHeader+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(withUserID(r.Context(), userID)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.Header.Get(identityHeader))
	if userID == "" {
		// Browsers cannot set custom headers on WebSocket dials; the
		// gateway rewrites the user_id query parameter instead.
		userID = strings.TrimSpace(r.URL.Query().Get("user_id"))
	}
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing caller identity")
		return
	}
	s.bridge.ServeHTTP(w, r, userID)
}

// AuthorizeTopic restricts realtime subscriptions to conversations the
// user participates in.
func AuthorizeTopic(store *storage.Store) realtime.TopicAuthorizer {
	return func(userID, topic string) (bool, error) {
		conversationID, ok := strings.CutPrefix(topic, "conversation:")
		if !ok {
			return false, nil
		}
		if _, err := store.GetParticipant(conversationID, userID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return false, nil
			}
			return false, err
		}
		return true, nil
	}
}

// logRequest is a small access-log middleware kept separate from the
// identity chain so health checks stay quiet.
func logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logrus.WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Debug("http request")
		next.ServeHTTP(w, r)
	})
}
