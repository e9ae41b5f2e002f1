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

// docPayload carries every field the document commands use. Each command
// reads the ones it needs.
type docPayload struct {
	Collection string                 `json:"collection"`
	Dict       map[string]interface{} `json:"dict"`
	Query      map[string]interface{} `json:"query"`
	Update     map[string]interface{} `json:"update"`
}

// docTarget decodes the payload and resolves the named collection in the
// session's database.
func docTarget(m *Manager, s *session.Session, payload json.RawMessage) (*docPayload, *engine.Collection, error) {
	var req docPayload
	if err := requirePayload(payload, &req); err != nil {
		return nil, nil, err
	}
	if err := validName(req.Collection); err != nil {
		return nil, nil, err
	}

	db, err := currentDatabase(m, s)
	if err != nil {
		return nil, nil, err
	}
	coll, err := db.Collection(req.Collection)
	if err != nil {
		if errors.Is(err, engine.ErrCollectionNotFound) {
			return nil, nil, fail(protocol.CodeDoesntExist)
		}
		return nil, nil, err
	}
	return &req, coll, nil
}

func docLog(action string, coll *engine.Collection) AccessEntry {
	return AccessEntry{Action: action, Database: coll.Database().Name(), Collection: coll.Name()}
}

type insertDocCommand struct{}

func (insertDocCommand) Name() string { return "insert_doc" }
func (insertDocCommand) Requirements() Requirements {
	return Requirements{Login: true, Database: true, Collection: true}
}

func (insertDocCommand) Execute(ctx context.Context, m *Manager, s *session.Session, payload json.RawMessage) (*Outcome, error) {
	req, coll, err := docTarget(m, s, payload)
	if err != nil {
		return nil, err
	}
	if len(req.Dict) == 0 {
		return nil, fail(protocol.CodeFormat)
	}

	doc, err := coll.Insert(ctx, engine.Document(req.Dict))
	if err != nil {
		return nil, err
	}

	return &Outcome{
		Events: []events.Event{{Name: events.DocInsert, Data: events.InsertPayload{
			DB:         coll.Database().Name(),
			Collection: coll.Name(),
			Doc:        doc,
		}}},
		Log: docLog("insert", coll),
	}, nil
}

type findOneDocCommand struct{}

func (findOneDocCommand) Name() string { return "find_one_doc" }
func (findOneDocCommand) Requirements() Requirements {
	return Requirements{Login: true, Database: true, Collection: true, Permission: auth.PermRead}
}

func (findOneDocCommand) Execute(ctx context.Context, m *Manager, s *session.Session, payload json.RawMessage) (*Outcome, error) {
	req, coll, err := docTarget(m, s, payload)
	if err != nil {
		return nil, err
	}
	if len(req.Query) == 0 {
		return nil, fail(protocol.CodeFormat)
	}

	doc, err := coll.FindOne(req.Query)
	if err != nil {
		return nil, err
	}
	return &Outcome{Data: resultData{Result: doc}, Log: docLog("find_one", coll)}, nil
}

type findAllDocCommand struct{}

func (findAllDocCommand) Name() string { return "find_all_doc" }
func (findAllDocCommand) Requirements() Requirements {
	return Requirements{Login: true, Database: true, Collection: true, Permission: auth.PermRead}
}

func (findAllDocCommand) Execute(ctx context.Context, m *Manager, s *session.Session, payload json.RawMessage) (*Outcome, error) {
	req, coll, err := docTarget(m, s, payload)
	if err != nil {
		return nil, err
	}

	docs, err := coll.FindAll(req.Query)
	if err != nil {
		return nil, err
	}
	return &Outcome{Data: resultData{Result: docs}, Log: docLog("find_all", coll)}, nil
}

type updateDocCommand struct{}

func (updateDocCommand) Name() string { return "update_doc" }
func (updateDocCommand) Requirements() Requirements {
	return Requirements{Login: true, Database: true, Collection: true, Permission: auth.PermWrite}
}

func (updateDocCommand) Execute(ctx context.Context, m *Manager, s *session.Session, payload json.RawMessage) (*Outcome, error) {
	req, coll, err := docTarget(m, s, payload)
	if err != nil {
		return nil, err
	}
	if len(req.Query) == 0 || len(req.Update) == 0 {
		return nil, fail(protocol.CodeFormat)
	}

	changes, err := coll.Update(ctx, req.Query, req.Update)
	if err != nil {
		return nil, err
	}

	out := &Outcome{Log: docLog("update", coll)}
	if len(changes) > 0 {
		out.Events = []events.Event{{Name: events.DocUpdate, Data: events.UpdatePayload{
			DB:         coll.Database().Name(),
			Collection: coll.Name(),
			Changes:    changes,
		}}}
	}
	return out, nil
}

type deleteDocCommand struct{}

func (deleteDocCommand) Name() string { return "delete_doc" }
func (deleteDocCommand) Requirements() Requirements {
	return Requirements{Login: true, Database: true, Collection: true}
}

func (deleteDocCommand) Execute(ctx context.Context, m *Manager, s *session.Session, payload json.RawMessage) (*Outcome, error) {
	req, coll, err := docTarget(m, s, payload)
	if err != nil {
		return nil, err
	}
	if len(req.Query) == 0 {
		return nil, fail(protocol.CodeFormat)
	}

	removed, err := coll.Delete(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	out := &Outcome{Log: docLog("delete", coll)}
	if len(removed) > 0 {
		out.Events = []events.Event{{Name: events.DocDelete, Data: events.DeletePayload{
			DB:         coll.Database().Name(),
			Collection: coll.Name(),
			Docs:       removed,
		}}}
	}
	return out, nil
}
