package models

// Message represents a plaintext message entry after decryption.
// Content holds the decrypted text, or the undecryptable placeholder
// when the caller's key material could not open the ciphertext.
type Message struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Content        string `json:"content"`
	Scheme         string `json:"scheme"`
	CreatedAt      int64  `json:"created_at"`
	EditedAt       int64  `json:"edited_at,omitempty"`
	Deleted        bool   `json:"deleted"`
	Undecryptable  bool   `json:"undecryptable,omitempty"`
}

// Page is one fetched slice of a conversation's messages in canonical
// order, plus the cursor to resume from.
type Page struct {
	Messages      []Message `json:"messages"`
	NextCreatedAt int64     `json:"next_created_at,omitempty"`
	NextMessageID string    `json:"next_message_id,omitempty"`
	HasMore       bool      `json:"has_more"`
}
