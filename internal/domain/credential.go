package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is the part a participant plays in a room.
type Role string

const (
	RolePublisher Role = "publisher"
	RoleViewer    Role = "viewer"
)

// ParseRole accepts the role names used on the command line.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "publisher", "publish", "pub":
		return RolePublisher, nil
	case "viewer", "view", "sub":
		return RoleViewer, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Publishes reports whether the role sends media.
func (r Role) Publishes() bool { return r == RolePublisher }

func (r Role) prefix() string {
	if r == RolePublisher {
		return "pub"
	}
	return "sub"
}

// NewIdentity returns a participant identity for one connect attempt.
// The millisecond timestamp keeps identities ordered in server logs; the
// random suffix keeps two attempts in the same millisecond apart.
func NewIdentity(role Role) string {
	return fmt.Sprintf("%s-%d-%s", role.prefix(), time.Now().UnixMilli(), uuid.NewString()[:8])
}

// TokenRequest is what the token minting service needs to sign a credential.
type TokenRequest struct {
	Room     string `json:"room"`
	Identity string `json:"identity"`
	Publish  bool   `json:"publish"`
}

// Credential is a short-lived signed token scoped to a room, identity and
// publish permission.
type Credential struct {
	Token     string
	Room      string
	Identity  string
	Publish   bool
	ExpiresAt time.Time // zero when the token carries no expiry
}

// Expired reports whether the credential can no longer be used at now.
func (c *Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// DeviceDescriptor identifies a camera input. Label may be empty until the
// platform grants access to the device.
type DeviceDescriptor struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Event is a recorded clip returned by the events service.
type Event struct {
	ID        int64     `json:"id"`
	EventType string    `json:"event_type"`
	CreatedAt time.Time `json:"created_at"`
	URL       string    `json:"url"`
}
