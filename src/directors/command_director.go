package directors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"jsondb/src/auth"
	"jsondb/src/events"
	"jsondb/src/helpers"
	"jsondb/src/metrics"
	"jsondb/src/protocol"
	"jsondb/src/session"
)

// Requirements are the preconditions checked, in field order, before a
// command runs.
type Requirements struct {
	Login      bool
	Database   bool
	Collection bool
	// Permission is checked against the open database's grants, or the
	// global grants when no database is open. Empty means none required.
	Permission auth.Permission
}

// Outcome is what a successful command hands back to the dispatcher.
type Outcome struct {
	// Op overrides the response op, "ok" when empty.
	Op   string
	Data interface{}
	// Events are emitted after the response has been written.
	Events []events.Event
	// EnableCompression switches the session to zstd after the response.
	EnableCompression bool
	// Log is recorded by the access log worker.
	Log AccessEntry
}

// Command is one wire operation.
type Command interface {
	Name() string
	Requirements() Requirements
	Execute(ctx context.Context, m *Manager, s *session.Session, payload json.RawMessage) (*Outcome, error)
}

// CommandError carries a wire error code.
type CommandError struct {
	Code string
	Err  error
}

func (e *CommandError) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

func fail(code string) error {
	return &CommandError{Code: code}
}

func failWith(code string, err error) error {
	return &CommandError{Code: code, Err: err}
}

var registry = map[string]Command{}

func register(cmds ...Command) {
	for _, c := range cmds {
		if _, dup := registry[c.Name()]; dup {
			panic("duplicate command " + c.Name())
		}
		registry[c.Name()] = c
	}
}

func init() {
	register(
		authCommand{},
		openDBCommand{},
		createDBCommand{},
		deleteDBCommand{},
		listDBCommand{},
		createCollectionCommand{},
		deleteCollectionCommand{},
		listCollectionsCommand{},
		insertDocCommand{},
		findOneDocCommand{},
		findAllDocCommand{},
		updateDocCommand{},
		deleteDocCommand{},
		eventSubCommand{},
		eventUnsubCommand{},
		createUserCommand{},
		grantDBPermissionCommand{},
		revokeDBPermissionCommand{},
	)
}

// LookupCommand returns the command registered under op.
func LookupCommand(op string) (Command, bool) {
	c, ok := registry[op]
	return c, ok
}

// CommandDirector runs one request for s and writes the response. Events and
// compression changes from the outcome are applied after the response is on
// the wire. The returned error is a transport failure.
func CommandDirector(ctx context.Context, m *Manager, s *session.Session, req *protocol.Request) error {
	outcome, err := dispatch(ctx, m, s, req)
	if err != nil {
		code := protocol.CodeInternal
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) {
			code = cmdErr.Code
		} else {
			s.Logger.Errorw("Command failed", "op", req.Op, "error", err)
		}
		metrics.Requests.WithLabelValues(opLabel(req.Op), code).Inc()
		return s.Send(protocol.Fail(req.ID, code))
	}

	metrics.Requests.WithLabelValues(req.Op, "ok").Inc()

	op := outcome.Op
	if op == "" {
		op = protocol.OpOK
	}
	if err := s.Send(&protocol.Response{Op: op, ID: req.ID, D: outcome.Data}); err != nil {
		return err
	}

	if outcome.EnableCompression {
		s.EnableCompression()
	}
	m.Events.EmitAll(outcome.Events)

	entry := outcome.Log
	entry.RemoteAddr = s.RemoteAddr
	if entry.Action == "" {
		entry.Action = req.Op
	}
	m.AccessLog(entry)
	return nil
}

func dispatch(ctx context.Context, m *Manager, s *session.Session, req *protocol.Request) (*Outcome, error) {
	cmd, ok := LookupCommand(req.Op)
	if !ok {
		return nil, fail(protocol.CodeUnknown)
	}

	if err := checkRequirements(cmd.Requirements(), s, req.D); err != nil {
		return nil, err
	}

	return cmd.Execute(ctx, m, s, req.D)
}

func checkRequirements(r Requirements, s *session.Session, payload json.RawMessage) error {
	if r.Login && !s.IsAuthenticated() {
		return fail(protocol.CodeUnauthed)
	}
	if r.Database && s.Database() == "" {
		return fail(protocol.CodeNonOpen)
	}
	if r.Collection {
		var target struct {
			Collection string `json:"collection"`
		}
		if err := decodePayload(payload, &target); err != nil || target.Collection == "" {
			return fail(protocol.CodeFormat)
		}
	}
	if r.Permission != "" {
		user := s.User()
		if user == nil || !user.HasPermission(r.Permission, s.Database()) {
			return fail(protocol.CodePermissions)
		}
	}
	return nil
}

// opLabel keeps arbitrary client strings out of metric labels.
func opLabel(op string) string {
	if _, ok := registry[op]; ok {
		return op
	}
	return "unknown"
}

// decodePayload unmarshals the request's "d" into v. A missing payload
// leaves v untouched.
func decodePayload(payload json.RawMessage, v interface{}) error {
	if len(payload) == 0 || string(payload) == "null" {
		return nil
	}
	if err := helpers.UnmarshalJSON(payload, v); err != nil {
		return failWith(protocol.CodeFormat, err)
	}
	return nil
}

// requirePayload is decodePayload for commands whose payload is mandatory.
func requirePayload(payload json.RawMessage, v interface{}) error {
	if len(payload) == 0 || string(payload) == "null" {
		return fail(protocol.CodeFormat)
	}
	return decodePayload(payload, v)
}

// validName rejects names that are empty or unsafe as path components.
func validName(name string) error {
	if !helpers.IsValidName(name) {
		return fail(protocol.CodeFormat)
	}
	return nil
}
