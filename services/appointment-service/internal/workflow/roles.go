package workflow

import (
	"strings"

	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/model"
)

const DefaultPrivilegedRole = "admin"

// Roles decides which actor roles may run privileged operations.
type Roles struct {
	privileged map[string]bool
}

func NewRoles(privileged ...string) Roles {
	r := Roles{privileged: map[string]bool{}}
	for _, p := range privileged {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			r.privileged[p] = true
		}
	}
	if len(r.privileged) == 0 {
		r.privileged[DefaultPrivilegedRole] = true
	}
	return r
}

func (r Roles) IsPrivileged(role string) bool {
	return r.privileged[strings.ToLower(strings.TrimSpace(role))]
}

// CanAccess reports whether subject, acting as role, may see or
// notarize appt: its requester or any privileged actor.
func (r Roles) CanAccess(subject, role string, appt model.Appointment) bool {
	return r.IsPrivileged(role) || (subject != "" && subject == appt.RequesterID)
}
