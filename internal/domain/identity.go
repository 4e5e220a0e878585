package domain

import "strings"

// Identity is the signed-in member a connection, its sessions and its poller
// belong to.
type Identity struct {
	MemberID    string `json:"member_id" validate:"required"`
	DisplayName string `json:"display_name"`
}

// Valid reports whether the identity carries a member id.
func (i Identity) Valid() bool {
	return strings.TrimSpace(i.MemberID) != ""
}

// Name returns the display name, falling back to the member id.
func (i Identity) Name() string {
	if i.DisplayName != "" {
		return i.DisplayName
	}
	return i.MemberID
}
