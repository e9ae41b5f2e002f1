package client

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"jsondb/src/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer greets each connection and hands it to handle.
func fakeServer(t *testing.T, handle func(conn net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				if err := protocol.WriteFrame(conn, []byte(`{"op":"auth"}`)); err != nil {
					return
				}
				handle(conn)
			}()
		}
	}()
	return ln.Addr().String()
}

func readRequest(t *testing.T, conn net.Conn) map[string]interface{} {
	payload, err := protocol.ReadFrame(conn, 1<<20)
	if err != nil {
		return nil
	}
	var req map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &req))
	return req
}

func reply(conn net.Conn, v interface{}) {
	raw, _ := json.Marshal(v)
	protocol.WriteFrame(conn, raw)
}

func TestErrorIsMatchesCode(t *testing.T) {
	var err error = &Error{Code: "active"}
	assert.ErrorIs(t, err, ErrActive)
	assert.NotErrorIs(t, err, ErrFormat)
	assert.Equal(t, "jsondb: active", err.Error())
}

func TestDialGivesUpAfterRetries(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	start := time.Now()
	_, err = Dial(context.Background(), addr, Options{Retries: 3, Backoff: 20 * time.Millisecond})
	require.Error(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestDialRespectsContext(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = Dial(ctx, addr, Options{Backoff: 10 * time.Millisecond})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDialRejectsWrongGreeting(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		protocol.WriteFrame(conn, []byte(`{"op":"hello"}`))
		time.Sleep(100 * time.Millisecond)
	}()

	_, err = Dial(context.Background(), ln.Addr().String(), Options{Retries: 1})
	assert.ErrorIs(t, err, ErrUnexpectedGreeting)
}

func TestResponsesMatchedByID(t *testing.T) {
	addr := fakeServer(t, func(conn net.Conn) {
		// answer two requests in reverse order
		first := readRequest(t, conn)
		second := readRequest(t, conn)
		reply(conn, map[string]interface{}{"op": "ok", "id": second["id"], "d": map[string]interface{}{"result": []string{"second"}}})
		reply(conn, map[string]interface{}{"error": "non_open", "id": first["id"]})
	})

	c, err := Dial(context.Background(), addr, Options{Retries: 1})
	require.NoError(t, err)
	defer c.Close()

	firstErr := make(chan error, 1)
	go func() {
		_, err := c.ListCollections(context.Background())
		firstErr <- err
	}()
	time.Sleep(50 * time.Millisecond)

	dbs, err := c.ListDB(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"second"}, dbs)
	assert.ErrorIs(t, <-firstErr, ErrNonOpen)
}

func TestEventsReachListeners(t *testing.T) {
	addr := fakeServer(t, func(conn net.Conn) {
		req := readRequest(t, conn)
		reply(conn, map[string]interface{}{"op": "ok", "id": req["id"]})
		reply(conn, map[string]interface{}{"op": "event", "d": map[string]interface{}{"ev": "db_create", "d": map[string]string{"name": "shop"}}})
		readRequest(t, conn)
	})

	c, err := Dial(context.Background(), addr, Options{Retries: 1})
	require.NoError(t, err)
	defer c.Close()

	got := make(chan string, 1)
	c.On("DB_CREATE", func(data json.RawMessage) {
		var p struct{ Name string }
		json.Unmarshal(data, &p)
		got <- p.Name
	})
	require.NoError(t, c.Subscribe(context.Background(), "db_create"))

	select {
	case name := <-got:
		assert.Equal(t, "shop", name)
	case <-time.After(time.Second):
		t.Fatal("listener not called")
	}
}

func TestPendingRequestsFailOnDisconnect(t *testing.T) {
	addr := fakeServer(t, func(conn net.Conn) {
		readRequest(t, conn)
	})

	c, err := Dial(context.Background(), addr, Options{Retries: 1})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.ListDB(context.Background())
	assert.True(t, errors.Is(err, ErrClosed))
	assert.Error(t, c.Err())
}
