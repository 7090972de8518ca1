package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"marketchat/crypto"
	"marketchat/models"
	"marketchat/storage"
)

func (s *Server) handleEnsureKeys(w http.ResponseWriter, r *http.Request) {
	caller := userID(r)
	pair, err := s.keys.EnsureKeyPair(r.Context(), caller)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"owner_id":    pair.OwnerID,
		"public_key":  crypto.EncodePublicKeyPEM(pair.Public),
		"fingerprint": crypto.KeyFingerprint(pair.Public),
	})
}

func (s *Server) handleGetPublicKey(w http.ResponseWriter, r *http.Request) {
	ownerID := mux.Vars(r)["userID"]
	pub, err := s.keys.PublicKey(ownerID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"owner_id":    ownerID,
		"public_key":  crypto.EncodePublicKeyPEM(pub),
		"fingerprint": crypto.KeyFingerprint(pub),
	})
}

func (s *Server) handleCreateDirect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OtherID string `json:"other_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	conv, err := s.registry.GetOrCreateDirect(r.Context(), userID(r), req.OtherID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conversationView(conv))
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type      string   `json:"type"`
		Name      string   `json:"name"`
		MemberIDs []string `json:"member_ids"`
		ImageURL  string   `json:"image_url"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	conv, err := s.registry.CreateGroup(r.Context(), userID(r), req.Type, req.Name, req.MemberIDs, req.ImageURL)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conversationView(conv))
}

func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	conversations, err := s.registry.Inbox(userID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conversationViews(conversations))
}

func (s *Server) handleRequests(w http.ResponseWriter, r *http.Request) {
	conversations, err := s.registry.Requests(userID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conversationViews(conversations))
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.registry.GetForUser(mux.Vars(r)["id"], userID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conversationView(conv))
}

func (s *Server) handleUpdateMetadata(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     *string `json:"name"`
		ImageURL *string `json:"image_url"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.admin.UpdateGroupMetadata(r.Context(), mux.Vars(r)["id"], userID(r), req.Name, req.ImageURL); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.DeleteRequest(r.Context(), mux.Vars(r)["id"], userID(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAcceptRequest(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.AcceptRequest(r.Context(), mux.Vars(r)["id"], userID(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeclineRequest(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.DeclineRequest(r.Context(), mux.Vars(r)["id"], userID(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleParticipants(w http.ResponseWriter, r *http.Request) {
	participants, err := s.registry.Participants(mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	views := make([]participantView, 0, len(participants))
	for _, p := range participants {
		view := participantView{
			UserID:       p.UserID,
			JoinedAt:     p.JoinedAt,
			RequestState: p.RequestState,
		}
		if s.profiles != nil {
			if profile, err := s.profiles.Profile(p.UserID); err == nil {
				view.DisplayName = profile.DisplayName
				view.AvatarURL = profile.AvatarURL
			}
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.admin.AddMember(r.Context(), mux.Vars(r)["id"], userID(r), req.UserID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.admin.RemoveMember(r.Context(), vars["id"], userID(r), vars["userID"]); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	if err := s.admin.LeaveGroup(r.Context(), mux.Vars(r)["id"], userID(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdmins(w http.ResponseWriter, r *http.Request) {
	admins, err := s.admin.Admins(mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"admins": admins})
}

func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.admin.PromoteAdmin(r.Context(), mux.Vars(r)["id"], userID(r), req.UserID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDemote(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.admin.DemoteAdmin(r.Context(), vars["id"], userID(r), vars["userID"]); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	var message *models.Message
	err := retryPersistence(r.Context(), func() error {
		var sendErr error
		message, sendErr = s.service.Send(r.Context(), mux.Vars(r)["id"], userID(r), req.Content)
		return sendErr
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, message)
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cursor := storage.MessageCursor{MessageID: q.Get("after_id")}
	if raw := q.Get("after_ts"); raw != "" {
		ts, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid after_ts")
			return
		}
		cursor.CreatedAt = ts
	}
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	page, err := s.service.Fetch(r.Context(), mux.Vars(r)["id"], userID(r), cursor, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReadAt    int64  `json:"read_at"`
		MessageID string `json:"message_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	err := retryPersistence(r.Context(), func() error {
		return s.service.MarkRead(r.Context(), mux.Vars(r)["id"], userID(r), req.ReadAt, req.MessageID)
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnread(w http.ResponseWriter, r *http.Request) {
	count, err := s.service.UnreadCount(r.Context(), mux.Vars(r)["id"], userID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread": count})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Delete(r.Context(), mux.Vars(r)["id"], userID(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReact(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Emoji string `json:"emoji"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	err := retryPersistence(r.Context(), func() error {
		return s.service.React(r.Context(), mux.Vars(r)["id"], userID(r), req.Emoji)
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReactions(w http.ResponseWriter, r *http.Request) {
	reactions, err := s.service.Reactions(r.Context(), mux.Vars(r)["id"], userID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	views := make([]reactionView, 0, len(reactions))
	for _, reaction := range reactions {
		views = append(views, reactionView{
			UserID:    reaction.UserID,
			Emoji:     reaction.Emoji,
			ReactedAt: reaction.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

type conversationViewBody struct {
	ConversationID string  `json:"conversation_id"`
	Type           string  `json:"type"`
	CreatedBy      string  `json:"created_by"`
	CreatedAt      int64   `json:"created_at"`
	GroupName      *string `json:"group_name,omitempty"`
	GroupImageURL  *string `json:"group_image_url,omitempty"`
}

type participantView struct {
	UserID       string `json:"user_id"`
	JoinedAt     int64  `json:"joined_at"`
	RequestState string `json:"request_state"`
	DisplayName  string `json:"display_name,omitempty"`
	AvatarURL    string `json:"avatar_url,omitempty"`
}

type reactionView struct {
	UserID    string `json:"user_id"`
	Emoji     string `json:"emoji"`
	ReactedAt int64  `json:"reacted_at"`
}

func conversationView(conv *storage.Conversation) conversationViewBody {
	return conversationViewBody{
		ConversationID: conv.ConversationID,
		Type:           conv.Type,
		CreatedBy:      conv.CreatedBy,
		CreatedAt:      conv.CreatedAt,
		GroupName:      conv.GroupName,
		GroupImageURL:  conv.GroupImageURL,
	}
}

func conversationViews(conversations []storage.Conversation) []conversationViewBody {
	views := make([]conversationViewBody, 0, len(conversations))
	for i := range conversations {
		views = append(views, conversationView(&conversations[i]))
	}
	return views
}
