package directors

import (
	"context"
	"encoding/json"

	"jsondb/src/protocol"
	"jsondb/src/session"
)

type authCommand struct{}

func (authCommand) Name() string               { return "auth" }
func (authCommand) Requirements() Requirements { return Requirements{} }

func (authCommand) Execute(ctx context.Context, m *Manager, s *session.Session, payload json.RawMessage) (*Outcome, error) {
	if s.IsAuthenticated() {
		return nil, fail(protocol.CodeAlreadyAuthed)
	}

	var req struct {
		Name     string `json:"name"`
		Password string `json:"password"`
		Zstd     bool   `json:"zstd"`
	}
	if err := decodePayload(payload, &req); err != nil {
		return nil, err
	}

	user, err := m.Users.Authenticate(s.Host, req.Name, req.Password)
	if err != nil {
		return nil, failWith(protocol.CodeUser, err)
	}

	s.Authenticate(user)
	m.Events.Register(s)
	s.Logger.Infow("Client authenticated", "compression", req.Zstd)

	return &Outcome{
		Op:                protocol.OpAuthed,
		EnableCompression: req.Zstd,
		Log:               AccessEntry{Action: "authed"},
	}, nil
}

type eventsPayload struct {
	Events []string `json:"events"`
}

func decodeEvents(payload json.RawMessage) ([]string, error) {
	var req eventsPayload
	if err := requirePayload(payload, &req); err != nil {
		return nil, err
	}
	if len(req.Events) == 0 {
		return nil, fail(protocol.CodeFormat)
	}
	return req.Events, nil
}

type eventSubCommand struct{}

func (eventSubCommand) Name() string               { return "event_sub" }
func (eventSubCommand) Requirements() Requirements { return Requirements{Login: true} }

func (eventSubCommand) Execute(ctx context.Context, m *Manager, s *session.Session, payload json.RawMessage) (*Outcome, error) {
	names, err := decodeEvents(payload)
	if err != nil {
		return nil, err
	}
	if err := m.Events.Subscribe(s, names); err != nil {
		return nil, err
	}
	return &Outcome{}, nil
}

type eventUnsubCommand struct{}

func (eventUnsubCommand) Name() string               { return "event_unsub" }
func (eventUnsubCommand) Requirements() Requirements { return Requirements{Login: true} }

func (eventUnsubCommand) Execute(ctx context.Context, m *Manager, s *session.Session, payload json.RawMessage) (*Outcome, error) {
	names, err := decodeEvents(payload)
	if err != nil {
		return nil, err
	}
	if err := m.Events.Unsubscribe(s, names); err != nil {
		return nil, err
	}
	return &Outcome{}, nil
}
