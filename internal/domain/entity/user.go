package entity

import "time"

// UserID is a typed identifier for users. Assignee and manager references
// always carry a UserID, never a display name.
type UserID string

// Role constants for User
const (
	RoleAdmin    = "ADMIN"
	RoleManager  = "MANAGER"
	RoleEmployee = "EMPLOYEE"
)

// User represents a company member as seen by the approval engine.
// User and session management live outside the engine; this is the
// read-only view the directory lookup serves.
type User struct {
	ID        UserID    `json:"id"`
	CompanyID string    `json:"company_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	ManagerID *UserID   `json:"manager_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// HasManager returns true if the user has a direct supervisor on record.
func (u *User) HasManager() bool {
	return u.ManagerID != nil && *u.ManagerID != ""
}
