package models

import "time"

// Task is an accountability task one buddy assigns to the other.
// ImgProof holds the blob path of the receiver's photo proof, if any.
type Task struct {
	BaseModel
	Task       string     `gorm:"type:text;not null" json:"task"`
	ImgProof   *string    `gorm:"type:varchar(255)" json:"imgProof"`
	SenderID   string     `gorm:"type:varchar(64);index;not null" json:"senderId"`
	ReceiverID string     `gorm:"type:varchar(64);index;not null" json:"receiverId"`
	Time       *time.Time `json:"time,omitempty"`
}

// TableName pins the table name.
func (Task) TableName() string {
	return "tasks"
}

// HasProof reports whether proof has been submitted.
func (t *Task) HasProof() bool {
	return t.ImgProof != nil && *t.ImgProof != ""
}

// TaskView is a task with a signed URL for its proof image.
type TaskView struct {
	*Task
	ProofURL string `json:"proofUrl,omitempty"`
}
