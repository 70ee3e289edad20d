package models

import (
	"slices"

	"gorm.io/datatypes"
)

// ProfilePatch is a merge patch for a UserProfile. Nil fields are left untouched.
// BuddyID has three states: untouched (nil and ClearBuddy false), set (non-nil)
// and cleared (ClearBuddy true).
type ProfilePatch struct {
	Username   *string
	Bio        *string
	School     *string
	Interests  []string // nil means untouched
	PfpKey     *string
	BuddyID    *string
	ClearBuddy bool
	Sent       []string // nil means untouched; use an empty slice to clear
	Request    []string
	Banned     *bool
	Admin      *bool
}

// IsEmpty reports whether the patch would change nothing.
func (p ProfilePatch) IsEmpty() bool {
	return p.Username == nil && p.Bio == nil && p.School == nil && p.Interests == nil &&
		p.PfpKey == nil && p.BuddyID == nil && !p.ClearBuddy && p.Sent == nil &&
		p.Request == nil && p.Banned == nil && p.Admin == nil
}

// Apply merges the patch into profile in place.
func (p ProfilePatch) Apply(profile *UserProfile) {
	if p.Username != nil {
		profile.Username = *p.Username
	}
	if p.Bio != nil {
		profile.Bio = *p.Bio
	}
	if p.School != nil {
		profile.School = *p.School
	}
	if p.Interests != nil {
		profile.Interests = slices.Clone(p.Interests)
	}
	if p.PfpKey != nil {
		profile.PfpKey = *p.PfpKey
	}
	switch {
	case p.ClearBuddy:
		profile.BuddyID = nil
	case p.BuddyID != nil:
		id := *p.BuddyID
		profile.BuddyID = &id
	}
	if p.Sent != nil {
		profile.Sent = slices.Clone(p.Sent)
	}
	if p.Request != nil {
		profile.Request = slices.Clone(p.Request)
	}
	if p.Banned != nil {
		profile.Banned = *p.Banned
	}
	if p.Admin != nil {
		profile.Admin = *p.Admin
	}
}

// Columns renders the patch as a gorm update map keyed by column name.
func (p ProfilePatch) Columns() map[string]interface{} {
	cols := make(map[string]interface{})
	if p.Username != nil {
		cols["username"] = *p.Username
	}
	if p.Bio != nil {
		cols["bio"] = *p.Bio
	}
	if p.School != nil {
		cols["school"] = *p.School
	}
	if p.Interests != nil {
		cols["interests"] = datatypes.NewJSONSlice(p.Interests)
	}
	if p.PfpKey != nil {
		cols["pfp_key"] = *p.PfpKey
	}
	switch {
	case p.ClearBuddy:
		cols["buddy_id"] = nil
	case p.BuddyID != nil:
		cols["buddy_id"] = *p.BuddyID
	}
	if p.Sent != nil {
		cols["sent"] = datatypes.NewJSONSlice(p.Sent)
	}
	if p.Request != nil {
		cols["request"] = datatypes.NewJSONSlice(p.Request)
	}
	if p.Banned != nil {
		cols["banned"] = *p.Banned
	}
	if p.Admin != nil {
		cols["admin"] = *p.Admin
	}
	return cols
}

// Ptr returns a pointer to v, for building patches.
func Ptr[T any](v T) *T {
	return &v
}
