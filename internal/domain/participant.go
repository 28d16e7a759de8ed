package domain

import "fmt"

const MaxNameLen = 36

type Role string

const (
	RoleHost   Role = "host"
	RolePlayer Role = "player"
)

// ParseRole maps the wire value to a Role.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleHost:
		return RoleHost, nil
	case RolePlayer:
		return RolePlayer, nil
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrInvalidRequest, s)
}

// Profile is the identity a client presents when attaching.
// No transport or lifecycle logic here.
type Profile struct {
	Name   string
	UserID string
	Device string
}

// NewProfile avoids raw literals in adapters and keeps validation in one place.
func NewProfile(name, userID, device string) (Profile, error) {
	if len(name) == 0 {
		return Profile{}, fmt.Errorf("%w: empty name", ErrInvalidRequest)
	}
	if len(name) > MaxNameLen {
		return Profile{}, fmt.Errorf("%w: name too long", ErrInvalidRequest)
	}
	return Profile{Name: name, UserID: userID, Device: device}, nil
}
