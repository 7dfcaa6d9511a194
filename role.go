package vista

import (
	"fmt"
	"strings"
)

// Role is the job performed by a consumer.
//
// Each role joins its own consumer group within the configured group
// namespace, so every role sees every event on the stream.
type Role string

const (
	// DelayRole measures how far the group trails the head of the stream.
	DelayRole Role = "delay"

	// DtoRole maintains the order summary projection.
	DtoRole Role = "dto"

	// StateRole maintains the full order state projection.
	StateRole Role = "state"
)

// Roles is the set of all roles, in the order they are started.
var Roles = []Role{StateRole, DtoRole, DelayRole}

// ParseRole parses the textual form of a role. It is not case-sensitive.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))

	for _, x := range Roles {
		if r == x {
			return r, nil
		}
	}

	return "", fmt.Errorf("unrecognized consumer role %q, expected one of delay, dto or state", s)
}

func (r Role) String() string {
	return string(r)
}
