package client

import (
	"context"
	"encoding/json"
	"fmt"

	"jsondb/src/helpers"
	"jsondb/src/protocol"
)

// Document is a JSON object as stored by the server, including its "@id".
// Numbers decode as json.Number so large integers stay exact.
type Document map[string]interface{}

// Change is one updated document in a doc_update event.
type Change struct {
	Before Document `json:"before"`
	After  Document `json:"after"`
}

type result[T any] struct {
	Result T `json:"result"`
}

func decodeResult[T any](raw json.RawMessage) (T, error) {
	var r result[T]
	if err := helpers.UnmarshalJSON(raw, &r); err != nil {
		return r.Result, fmt.Errorf("failed to decode result: %w", err)
	}
	return r.Result, nil
}

// Auth authenticates the connection. With zstd set both directions switch to
// compressed frames after the server accepts.
func (c *Client) Auth(ctx context.Context, name, password string, zstd bool) error {
	if zstd {
		c.wantZstd.Store(true)
		defer c.wantZstd.Store(false)
	}
	resp, err := c.roundTrip(ctx, "auth", map[string]interface{}{
		"name":     name,
		"password": password,
		"zstd":     zstd,
	})
	if err != nil {
		return err
	}
	if resp.Error != "" {
		return &Error{Code: resp.Error}
	}
	if resp.Op != protocol.OpAuthed {
		return fmt.Errorf("unexpected auth response %q", resp.Op)
	}
	return nil
}

func (c *Client) nameOp(ctx context.Context, op, name string) error {
	_, err := c.Request(ctx, op, map[string]string{"name": name})
	return err
}

func (c *Client) OpenDB(ctx context.Context, name string) error {
	return c.nameOp(ctx, "open_db", name)
}

func (c *Client) CreateDB(ctx context.Context, name string) error {
	return c.nameOp(ctx, "create_db", name)
}

func (c *Client) DeleteDB(ctx context.Context, name string) error {
	return c.nameOp(ctx, "delete_db", name)
}

func (c *Client) ListDB(ctx context.Context) ([]string, error) {
	raw, err := c.Request(ctx, "list_db", nil)
	if err != nil {
		return nil, err
	}
	return decodeResult[[]string](raw)
}

func (c *Client) CreateCollection(ctx context.Context, name string) error {
	return c.nameOp(ctx, "create_collection", name)
}

func (c *Client) DeleteCollection(ctx context.Context, name string) error {
	return c.nameOp(ctx, "delete_collection", name)
}

func (c *Client) ListCollections(ctx context.Context) ([]string, error) {
	raw, err := c.Request(ctx, "list_collections", nil)
	if err != nil {
		return nil, err
	}
	return decodeResult[[]string](raw)
}

// Insert stores doc in collection. The server assigns its "@id".
func (c *Client) Insert(ctx context.Context, collection string, doc Document) error {
	_, err := c.Request(ctx, "insert_doc", map[string]interface{}{
		"collection": collection,
		"dict":       doc,
	})
	return err
}

// FindOne returns the first match for query, or nil.
func (c *Client) FindOne(ctx context.Context, collection string, query Document) (Document, error) {
	raw, err := c.Request(ctx, "find_one_doc", map[string]interface{}{
		"collection": collection,
		"query":      query,
	})
	if err != nil {
		return nil, err
	}
	return decodeResult[Document](raw)
}

// FindAll returns every match for query. A nil query returns the whole
// collection.
func (c *Client) FindAll(ctx context.Context, collection string, query Document) ([]Document, error) {
	d := map[string]interface{}{"collection": collection}
	if query != nil {
		d["query"] = query
	}
	raw, err := c.Request(ctx, "find_all_doc", d)
	if err != nil {
		return nil, err
	}
	return decodeResult[[]Document](raw)
}

func (c *Client) Update(ctx context.Context, collection string, query, update Document) error {
	_, err := c.Request(ctx, "update_doc", map[string]interface{}{
		"collection": collection,
		"query":      query,
		"update":     update,
	})
	return err
}

func (c *Client) Delete(ctx context.Context, collection string, query Document) error {
	_, err := c.Request(ctx, "delete_doc", map[string]interface{}{
		"collection": collection,
		"query":      query,
	})
	return err
}

// Subscribe asks the server to send the named events. Register handlers with
// On.
func (c *Client) Subscribe(ctx context.Context, names ...string) error {
	_, err := c.Request(ctx, "event_sub", map[string]interface{}{"events": names})
	return err
}

func (c *Client) Unsubscribe(ctx context.Context, names ...string) error {
	_, err := c.Request(ctx, "event_unsub", map[string]interface{}{"events": names})
	return err
}

func (c *Client) CreateUser(ctx context.Context, name, password string, global ...string) error {
	_, err := c.Request(ctx, "create_user", map[string]interface{}{
		"name":               name,
		"password":           password,
		"global_permissions": global,
	})
	return err
}

func (c *Client) GrantDBPermission(ctx context.Context, user, db, permission string) error {
	_, err := c.Request(ctx, "grant_db_permission", map[string]string{
		"user": user, "db": db, "permission": permission,
	})
	return err
}

func (c *Client) RevokeDBPermission(ctx context.Context, user, db, permission string) error {
	_, err := c.Request(ctx, "revoke_db_permission", map[string]string{
		"user": user, "db": db, "permission": permission,
	})
	return err
}
