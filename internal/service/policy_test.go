package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/electivas-ubb/electivas-api/internal/models"
)

func TestPolicyTable(t *testing.T) {
	cases := []struct {
		action  Action
		role    models.UserRole
		allowed bool
	}{
		{ActionEnrollmentCreate, models.RoleStudent, true},
		{ActionEnrollmentCreate, models.RoleTeacher, false},
		{ActionEnrollmentCreate, models.RoleAdmin, false},
		{ActionEnrollmentReview, models.RoleTeacher, true},
		{ActionEnrollmentReview, models.RoleProgramHead, true},
		{ActionEnrollmentReview, models.RoleAdmin, true},
		{ActionEnrollmentReview, models.RoleStudent, false},
		{ActionEnrollmentDelete, models.RoleStudent, true},
		{ActionEnrollmentDelete, models.RoleTeacher, false},
		{ActionRequestCreate, models.RoleStudent, true},
		{ActionRequestReview, models.RoleProgramHead, true},
		{ActionRequestReview, models.RoleTeacher, false},
		{ActionRequestDelete, models.RoleAdmin, true},
		{ActionRequestDelete, models.RoleProgramHead, false},
		{ActionElectiveCreate, models.RoleTeacher, true},
		{ActionElectiveCreate, models.RoleProgramHead, false},
		{ActionElectiveSetStatus, models.RoleProgramHead, true},
		{ActionElectiveSetStatus, models.RoleTeacher, false},
		{ActionElectiveDelete, models.RoleTeacher, true},
		{ActionElectiveDelete, models.RoleAdmin, true},
		{ActionElectiveDelete, models.RoleStudent, false},
		{ActionPeriodManage, models.RoleAdmin, true},
		{ActionPeriodManage, models.RoleProgramHead, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.allowed, Allowed(tc.action, tc.role),
			"action %s role %s", tc.action, tc.role)
	}
}

func TestPolicyUnknownActionDenied(t *testing.T) {
	assert.False(t, Allowed(Action("unknown.action"), models.RoleAdmin))
}
