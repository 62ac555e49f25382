package rbac

import (
	"errors"
	"fmt"
)

var (
	ErrRoleNotFound         = errors.New("role not found")
	ErrRoleExists           = errors.New("role already exists")
	ErrRoleInUse            = errors.New("role is assigned to active users")
	ErrBuiltinRoleImmutable = errors.New("built-in roles cannot be modified")
	ErrInvalidRole          = errors.New("invalid role")
	ErrUnknownPage          = errors.New("unknown page")
	ErrInvalidOverride      = errors.New("invalid override")
	ErrOverrideNotFound     = errors.New("override not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrSelfGrantForbidden   = errors.New("cannot grant permissions to yourself")
	ErrPermissionDenied     = errors.New("permission denied")
	ErrSelfAssignForbidden  = errors.New("cannot change your own membership")
	ErrRoleAboveCaller      = errors.New("cannot manage a role ranked above your own")
	ErrUntrustedCaller      = errors.New("caller may not ask for decisions on behalf of another principal")
)

func unknownPage(k PageKey) error {
	return fmt.Errorf("%w: %q", ErrUnknownPage, k)
}

func invalidRole(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidRole, fmt.Sprintf(format, args...))
}

func invalidOverride(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidOverride, fmt.Sprintf(format, args...))
}
