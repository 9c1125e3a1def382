// Package auth gates operator actions (kill switches, incident resolution)
// behind the tenant's configured RBAC table.
package auth

import (
	"context"
	"database/sql"
	"fmt"

	"failsafe/internal/repo"
)

// ForbiddenError indicates an operator is missing a required permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Service provides RBAC helpers backed by SQL, checking the
// operator_assignments / operator_role_permissions tables.
type Service struct {
	DB *sql.DB
}

// Require returns a ForbiddenError if operatorID does not hold permission
// within tenantID.
func (s Service) Require(ctx context.Context, tenantID, operatorID, permission string) error {
	ok, err := s.OperatorHasPermission(ctx, tenantID, operatorID, permission)
	if err != nil {
		return err
	}
	if !ok {
		return ForbiddenError{Permission: permission}
	}
	return nil
}

func (s Service) OperatorHasPermission(ctx context.Context, tenantID, operatorID, permission string) (bool, error) {
	return repo.Repo{DB: s.DB}.OperatorHasPermission(ctx, tenantID, operatorID, permission)
}
