package models

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"
)

// StringList decodes both a JSON string and an array of strings.
// Some backends send a single role as plain string
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*l = nil
		return nil
	}

	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*l = StringList{one}
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

// User is the profile returned by the current-user endpoint and cached by the session
type User struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Name        string     `json:"name,omitempty"`
	Roles       StringList `json:"roles,omitempty"`
	Permissions StringList `json:"permissions,omitempty"`
}

// HasAnyRole reports whether user has at least one of roles
func (u User) HasAnyRole(roles ...string) bool {
	for _, r := range roles {
		if slices.Contains(u.Roles, r) {
			return true
		}
	}
	return false
}

// HasAllPermissions reports whether user has every permission of perms
func (u User) HasAllPermissions(perms ...string) bool {
	for _, p := range perms {
		if !slices.Contains(u.Permissions, p) {
			return false
		}
	}
	return true
}

// Account is the user record kept by the reference auth API
type Account struct {
	ID             uuid.UUID
	CreatedAt      time.Time
	Email          string
	Name           string
	HashedPassword string
	Roles          []string
	Permissions    []string
}

func (a Account) Profile() User {
	return User{
		ID:          a.ID.String(),
		Email:       a.Email,
		Name:        a.Name,
		Roles:       slices.Clone(a.Roles),
		Permissions: slices.Clone(a.Permissions),
	}
}
