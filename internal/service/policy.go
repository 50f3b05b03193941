package service

import "github.com/electivas-ubb/electivas-api/internal/models"

// Action identifies an operation gated by the role policy table.
type Action string

// Actions covered by the policy table.
const (
	ActionEnrollmentCreate  Action = "enrollment.create"
	ActionEnrollmentReview  Action = "enrollment.review"
	ActionEnrollmentDelete  Action = "enrollment.delete"
	ActionRequestCreate     Action = "request.create"
	ActionRequestReview     Action = "request.review"
	ActionRequestDelete     Action = "request.delete"
	ActionElectiveCreate    Action = "elective.create"
	ActionElectiveUpdate    Action = "elective.update"
	ActionElectiveDelete    Action = "elective.delete"
	ActionElectiveSetStatus Action = "elective.set_status"
	ActionPeriodManage      Action = "period.manage"
)

// policy is the single source of truth for which role may perform which
// operation. Ownership checks (a student touching only their own records, a
// teacher editing only their own electives) remain in the services; this
// table only answers the role question.
var policy = map[Action]map[models.UserRole]bool{
	ActionEnrollmentCreate: {
		models.RoleStudent: true,
	},
	ActionEnrollmentReview: {
		models.RoleTeacher:     true,
		models.RoleProgramHead: true,
		models.RoleAdmin:       true,
	},
	ActionEnrollmentDelete: {
		models.RoleStudent: true,
	},
	ActionRequestCreate: {
		models.RoleStudent: true,
	},
	ActionRequestReview: {
		models.RoleProgramHead: true,
		models.RoleAdmin:       true,
	},
	ActionRequestDelete: {
		models.RoleAdmin: true,
	},
	ActionElectiveCreate: {
		models.RoleTeacher: true,
	},
	ActionElectiveUpdate: {
		models.RoleTeacher: true,
	},
	ActionElectiveDelete: {
		models.RoleTeacher: true,
		models.RoleAdmin:   true,
	},
	ActionElectiveSetStatus: {
		models.RoleProgramHead: true,
		models.RoleAdmin:       true,
	},
	ActionPeriodManage: {
		models.RoleAdmin: true,
	},
}

// Allowed reports whether the role may perform the action.
func Allowed(action Action, role models.UserRole) bool {
	return policy[action][role]
}
