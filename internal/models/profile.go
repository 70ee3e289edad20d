package models

import (
	"slices"

	"gorm.io/datatypes"
)

// UserProfile is a student's profile together with the buddy relationship state.
//
// Sent holds the IDs this user has invited; Request holds the IDs that invited
// this user. A non-nil BuddyID means the user is paired and both lists should
// be empty.
type UserProfile struct {
	BaseModel
	Username  string                      `gorm:"type:varchar(100);index" json:"username"`
	Bio       string                      `gorm:"type:text" json:"bio"`
	School    string                      `gorm:"type:varchar(200)" json:"school"`
	Interests datatypes.JSONSlice[string] `gorm:"type:jsonb" json:"interests"`
	PfpKey    string                      `gorm:"type:varchar(255)" json:"pfpKey,omitempty"`
	BuddyID   *string                     `gorm:"type:varchar(64);index" json:"buddyId"`
	Sent      datatypes.JSONSlice[string] `gorm:"type:jsonb" json:"sent"`
	Request   datatypes.JSONSlice[string] `gorm:"type:jsonb" json:"request"`
	Banned    bool                        `gorm:"default:false;index" json:"banned"`
	Admin     bool                        `gorm:"default:false" json:"admin"`
}

// TableName pins the table name.
func (UserProfile) TableName() string {
	return "user_profiles"
}

// SentIDs returns the outgoing request IDs, never nil.
func (p *UserProfile) SentIDs() []string {
	return normalize(p.Sent)
}

// RequestIDs returns the incoming request IDs, never nil.
func (p *UserProfile) RequestIDs() []string {
	return normalize(p.Request)
}

// InterestList returns the interests, never nil.
func (p *UserProfile) InterestList() []string {
	return normalize(p.Interests)
}

// HasBuddy reports whether buddy_id is set.
func (p *UserProfile) HasBuddy() bool {
	return p.BuddyID != nil && *p.BuddyID != ""
}

// BuddyOf reports whether this profile points at other as its buddy.
func (p *UserProfile) BuddyOf(other string) bool {
	return p.HasBuddy() && *p.BuddyID == other
}

// Basic returns the public card for this profile.
func (p *UserProfile) Basic() *UserBasicInfo {
	return &UserBasicInfo{
		ID:        p.ID,
		Username:  p.Username,
		School:    p.School,
		Bio:       p.Bio,
		Interests: p.InterestList(),
		PfpKey:    p.PfpKey,
	}
}

// UserBasicInfo holds the public information shown in request lists and the finder.
type UserBasicInfo struct {
	ID        string   `json:"id"`
	Username  string   `json:"username"`
	School    string   `json:"school,omitempty"`
	Bio       string   `json:"bio,omitempty"`
	Interests []string `json:"interests"`
	PfpKey    string   `json:"pfpKey,omitempty"`
	PfpURL    string   `json:"pfpUrl,omitempty"`
}

func normalize(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

// Without returns a copy of ids with every element of drop removed.
func Without(ids []string, drop ...string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(drop, id) {
			out = append(out, id)
		}
	}
	return out
}

// With returns a copy of ids with id appended, unless it is already present.
func With(ids []string, id string) []string {
	out := slices.Clone(normalize(ids))
	if slices.Contains(out, id) {
		return out
	}
	return append(out, id)
}
