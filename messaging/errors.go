package messaging

import "errors"

var (
	// ErrConversationNotFound indicates an unknown conversation ID.
	ErrConversationNotFound = errors.New("messaging: conversation not found")
	// ErrNotAParticipant indicates the caller is not in the conversation.
	ErrNotAParticipant = errors.New("messaging: caller is not a participant")
	// ErrNotAuthorized indicates a privileged group operation attempted
	// without admin status.
	ErrNotAuthorized = errors.New("messaging: caller is not an admin")
	// ErrMessageNotFound indicates an unknown message ID.
	ErrMessageNotFound = errors.New("messaging: message not found")
	// ErrNotSender indicates a delete attempt by someone other than the
	// original sender.
	ErrNotSender = errors.New("messaging: caller did not send this message")
	// ErrInvalidReaction indicates a reaction that is not exactly one emoji.
	ErrInvalidReaction = errors.New("messaging: reaction must be a single emoji")
	// ErrLastAdmin indicates a removal that would leave a populated group
	// with no admins and no promotable participant.
	ErrLastAdmin = errors.New("messaging: cannot remove the last admin")
	// ErrSelfConversation indicates a direct conversation with oneself.
	ErrSelfConversation = errors.New("messaging: direct conversation requires two distinct users")
	// ErrEmptyMessage indicates an empty plaintext.
	ErrEmptyMessage = errors.New("messaging: message plaintext is required")
)
