package models

// Message is an immutable chat message. Lists are ordered by CreatedAt ascending.
type Message struct {
	BaseModel
	ConversationID string `gorm:"type:varchar(64);index;not null" json:"conversationId"`
	SenderID       string `gorm:"type:varchar(64);index;not null" json:"senderId"`
	Message        string `gorm:"type:text;not null" json:"message"`
}

// TableName pins the table name.
func (Message) TableName() string {
	return "messages"
}
