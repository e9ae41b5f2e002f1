package directors

import (
	"context"
	"encoding/json"
	"errors"

	"jsondb/src/engine"
	"jsondb/src/events"
	"jsondb/src/protocol"
	"jsondb/src/session"
)

type createCollectionCommand struct{}

func (createCollectionCommand) Name() string { return "create_collection" }
func (createCollectionCommand) Requirements() Requirements {
	return Requirements{Login: true, Database: true}
}

func (createCollectionCommand) Execute(ctx context.Context, m *Manager, s *session.Session, payload json.RawMessage) (*Outcome, error) {
	name, err := decodeName(payload)
	if err != nil {
		return nil, err
	}
	db, err := currentDatabase(m, s)
	if err != nil {
		return nil, err
	}

	if _, err := db.CreateCollection(name); err != nil {
		if errors.Is(err, engine.ErrCollectionExists) {
			return nil, fail(protocol.CodeExist)
		}
		return nil, err
	}

	return &Outcome{
		Events: []events.Event{{Name: events.CollCreate, Data: events.CollectionPayload{DB: db.Name(), Name: name}}},
		Log:    AccessEntry{Action: "create", Database: db.Name(), Collection: name},
	}, nil
}

type deleteCollectionCommand struct{}

func (deleteCollectionCommand) Name() string { return "delete_collection" }
func (deleteCollectionCommand) Requirements() Requirements {
	return Requirements{Login: true, Database: true}
}

func (deleteCollectionCommand) Execute(ctx context.Context, m *Manager, s *session.Session, payload json.RawMessage) (*Outcome, error) {
	name, err := decodeName(payload)
	if err != nil {
		return nil, err
	}
	db, err := currentDatabase(m, s)
	if err != nil {
		return nil, err
	}

	if err := db.DeleteCollection(name); err != nil {
		if errors.Is(err, engine.ErrCollectionNotFound) {
			return nil, fail(protocol.CodeDoesntExist)
		}
		return nil, err
	}

	return &Outcome{
		Events: []events.Event{{Name: events.CollDelete, Data: events.CollectionPayload{DB: db.Name(), Name: name}}},
		Log:    AccessEntry{Action: "delete", Database: db.Name(), Collection: name},
	}, nil
}

type listCollectionsCommand struct{}

func (listCollectionsCommand) Name() string { return "list_collections" }
func (listCollectionsCommand) Requirements() Requirements {
	return Requirements{Login: true, Database: true}
}

func (listCollectionsCommand) Execute(ctx context.Context, m *Manager, s *session.Session, payload json.RawMessage) (*Outcome, error) {
	db, err := currentDatabase(m, s)
	if err != nil {
		return nil, err
	}
	names, err := db.ListCollections()
	if err != nil {
		return nil, err
	}
	return &Outcome{Data: resultData{Result: names}}, nil
}
