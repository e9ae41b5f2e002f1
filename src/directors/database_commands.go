package directors

import (
	"context"
	"encoding/json"
	"errors"

	"jsondb/src/auth"
	"jsondb/src/engine"
	"jsondb/src/events"
	"jsondb/src/protocol"
	"jsondb/src/session"
)

type namePayload struct {
	Name string `json:"name"`
}

func decodeName(payload json.RawMessage) (string, error) {
	var req namePayload
	if err := requirePayload(payload, &req); err != nil {
		return "", err
	}
	if err := validName(req.Name); err != nil {
		return "", err
	}
	return req.Name, nil
}

type openDBCommand struct{}

func (openDBCommand) Name() string               { return "open_db" }
func (openDBCommand) Requirements() Requirements { return Requirements{Login: true} }

func (openDBCommand) Execute(ctx context.Context, m *Manager, s *session.Session, payload json.RawMessage) (*Outcome, error) {
	name, err := decodeName(payload)
	if err != nil {
		return nil, err
	}

	if _, err := m.Databases.OpenDatabase(s.ID(), s.Database(), name); err != nil {
		switch {
		case errors.Is(err, ErrAlreadyOpened):
			return nil, fail(protocol.CodeAlreadyOpened)
		case errors.Is(err, engine.ErrDatabaseNotFound):
			return nil, fail(protocol.CodeDoesntExist)
		}
		return nil, err
	}
	s.SetDatabase(name)

	return &Outcome{Log: AccessEntry{Action: "open", Database: name}}, nil
}

type createDBCommand struct{}

func (createDBCommand) Name() string { return "create_db" }
func (createDBCommand) Requirements() Requirements {
	return Requirements{Login: true, Permission: auth.PermCreateDB}
}

func (createDBCommand) Execute(ctx context.Context, m *Manager, s *session.Session, payload json.RawMessage) (*Outcome, error) {
	name, err := decodeName(payload)
	if err != nil {
		return nil, err
	}

	if err := m.Databases.AddDatabase(name); err != nil {
		if errors.Is(err, engine.ErrDatabaseExists) {
			return nil, fail(protocol.CodeExists)
		}
		return nil, err
	}

	return &Outcome{
		Events: []events.Event{{Name: events.DBCreate, Data: events.DatabasePayload{Name: name}}},
		Log:    AccessEntry{Action: "create", Database: name},
	}, nil
}

type deleteDBCommand struct{}

func (deleteDBCommand) Name() string               { return "delete_db" }
func (deleteDBCommand) Requirements() Requirements { return Requirements{Login: true} }

func (deleteDBCommand) Execute(ctx context.Context, m *Manager, s *session.Session, payload json.RawMessage) (*Outcome, error) {
	name, err := decodeName(payload)
	if err != nil {
		return nil, err
	}

	if err := m.Databases.DeleteDatabase(s.ID(), name); err != nil {
		switch {
		case errors.Is(err, engine.ErrDatabaseNotFound):
			return nil, fail(protocol.CodeDoesntExist)
		case errors.Is(err, ErrDatabaseActive):
			return nil, fail(protocol.CodeActive)
		}
		return nil, err
	}
	if s.Database() == name {
		s.SetDatabase("")
	}

	return &Outcome{
		Events: []events.Event{{Name: events.DBDelete, Data: events.DatabasePayload{Name: name}}},
		Log:    AccessEntry{Action: "delete", Database: name},
	}, nil
}

type listDBCommand struct{}

func (listDBCommand) Name() string               { return "list_db" }
func (listDBCommand) Requirements() Requirements { return Requirements{Login: true} }

func (listDBCommand) Execute(ctx context.Context, m *Manager, s *session.Session, payload json.RawMessage) (*Outcome, error) {
	return &Outcome{Data: resultData{Result: m.Databases.ListDatabases()}}, nil
}

// resultData is the {"result": ...} envelope of query responses.
type resultData struct {
	Result interface{} `json:"result"`
}

// currentDatabase resolves the session's open database.
func currentDatabase(m *Manager, s *session.Session) (*engine.Database, error) {
	db, err := m.Databases.GetDatabaseByName(s.Database())
	if err != nil {
		if errors.Is(err, engine.ErrDatabaseNotFound) {
			return nil, fail(protocol.CodeNonOpen)
		}
		return nil, err
	}
	return db, nil
}
