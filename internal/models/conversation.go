package models

import (
	"time"

	"gorm.io/datatypes"
)

// Conversation is the one-to-one chat between two users.
// MemberA and MemberB hold the pair in canonical order so a pair maps to one row.
type Conversation struct {
	BaseModel
	Members       datatypes.JSONSlice[string] `gorm:"type:jsonb" json:"members"`
	MemberA       string                      `gorm:"type:varchar(64);not null;uniqueIndex:idx_conversation_pair;index" json:"-"`
	MemberB       string                      `gorm:"type:varchar(64);not null;uniqueIndex:idx_conversation_pair;index" json:"-"`
	LastMessage   string                      `gorm:"type:text" json:"lastMessage"`
	LastMessageAt *datatypes.Date             `json:"lastMessageAt,omitempty"`
}

// TableName pins the table name.
func (Conversation) TableName() string {
	return "conversations"
}

// NewConversation builds a conversation for the unordered pair (a, b).
func NewConversation(a, b string) *Conversation {
	first, second := CanonicalPair(a, b)
	return &Conversation{
		Members: datatypes.NewJSONSlice([]string{a, b}),
		MemberA: first,
		MemberB: second,
	}
}

// CanonicalPair orders two IDs so (a, b) and (b, a) produce the same key.
func CanonicalPair(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}

// HasMember reports whether userID takes part in the conversation.
func (c *Conversation) HasMember(userID string) bool {
	return c.MemberA == userID || c.MemberB == userID
}

// OtherMember returns the member that is not userID.
func (c *Conversation) OtherMember(userID string) string {
	if c.MemberA == userID {
		return c.MemberB
	}
	return c.MemberA
}

// SortTime is the time used to order a user's conversation list.
func (c *Conversation) SortTime() time.Time {
	if c.LastMessageAt != nil {
		return time.Time(*c.LastMessageAt)
	}
	return c.CreatedAt
}
