package directors

import (
	"context"
	"encoding/json"
	"errors"

	"jsondb/src/auth"
	"jsondb/src/protocol"
	"jsondb/src/session"
)

type createUserCommand struct{}

func (createUserCommand) Name() string { return "create_user" }
func (createUserCommand) Requirements() Requirements {
	return Requirements{Login: true, Permission: auth.PermAdmin}
}

func (createUserCommand) Execute(ctx context.Context, m *Manager, s *session.Session, payload json.RawMessage) (*Outcome, error) {
	var req struct {
		Name              string   `json:"name"`
		Password          string   `json:"password"`
		GlobalPermissions []string `json:"global_permissions"`
	}
	if err := requirePayload(payload, &req); err != nil {
		return nil, err
	}
	if err := validName(req.Name); err != nil {
		return nil, err
	}
	if req.Password == "" {
		return nil, fail(protocol.CodeFormat)
	}

	perms := make([]auth.Permission, 0, len(req.GlobalPermissions))
	for _, raw := range req.GlobalPermissions {
		p, err := auth.ParsePermission(raw)
		if err != nil {
			return nil, failWith(protocol.CodeFormat, err)
		}
		perms = append(perms, p)
	}

	if _, err := m.Users.AddUser(req.Name, req.Password, perms); err != nil {
		if errors.Is(err, auth.ErrUserAlreadyExists) {
			return nil, fail(protocol.CodeExists)
		}
		return nil, err
	}

	return &Outcome{Log: AccessEntry{Action: "create_user"}}, nil
}

type grantPayload struct {
	User       string `json:"user"`
	DB         string `json:"db"`
	Permission string `json:"permission"`
}

func decodeGrant(payload json.RawMessage) (grantPayload, auth.Permission, error) {
	var req grantPayload
	if err := requirePayload(payload, &req); err != nil {
		return req, "", err
	}
	if req.User == "" {
		return req, "", fail(protocol.CodeFormat)
	}
	if err := validName(req.DB); err != nil {
		return req, "", err
	}
	p, err := auth.ParsePermission(req.Permission)
	if err != nil {
		return req, "", failWith(protocol.CodeFormat, err)
	}
	return req, p, nil
}

func mapUserError(err error) error {
	if errors.Is(err, auth.ErrUserNotFound) {
		return fail(protocol.CodeDoesntExist)
	}
	return err
}

type grantDBPermissionCommand struct{}

func (grantDBPermissionCommand) Name() string { return "grant_db_permission" }
func (grantDBPermissionCommand) Requirements() Requirements {
	return Requirements{Login: true, Permission: auth.PermAdmin}
}

func (grantDBPermissionCommand) Execute(ctx context.Context, m *Manager, s *session.Session, payload json.RawMessage) (*Outcome, error) {
	req, p, err := decodeGrant(payload)
	if err != nil {
		return nil, err
	}
	if err := m.Users.GrantDBPermission(req.User, req.DB, p); err != nil {
		return nil, mapUserError(err)
	}
	return &Outcome{Log: AccessEntry{Action: "grant", Database: req.DB}}, nil
}

type revokeDBPermissionCommand struct{}

func (revokeDBPermissionCommand) Name() string { return "revoke_db_permission" }
func (revokeDBPermissionCommand) Requirements() Requirements {
	return Requirements{Login: true, Permission: auth.PermAdmin}
}

func (revokeDBPermissionCommand) Execute(ctx context.Context, m *Manager, s *session.Session, payload json.RawMessage) (*Outcome, error) {
	req, p, err := decodeGrant(payload)
	if err != nil {
		return nil, err
	}
	if err := m.Users.RevokeDBPermission(req.User, req.DB, p); err != nil {
		return nil, mapUserError(err)
	}
	return &Outcome{Log: AccessEntry{Action: "revoke", Database: req.DB}}, nil
}
