package server

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"jsondb/src/auth"
	"jsondb/src/client"
	"jsondb/src/directors"
	"jsondb/src/protocol"
	"jsondb/src/settings"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const rootPassword = "hunter2"

var testParams = auth.HashParams{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32, SaltLen: 16}

type testServer struct {
	addr string
	stop func()
}

func startServer(t *testing.T, dir string, modify func(*settings.Arguments)) *testServer {
	t.Helper()
	cfg := settings.Defaults()
	cfg.DataDir = dir
	cfg.Port = 0
	cfg.RootPassword = rootPassword
	if modify != nil {
		modify(cfg)
	}

	logger := zap.NewNop().Sugar()
	m, err := directors.NewManager(cfg, logger, directors.ManagerOptions{HashParams: testParams})
	require.NoError(t, err)

	srv := NewServer(cfg, m, logger)
	require.NoError(t, srv.Listen())

	serveCtx, stopServe := context.WithCancel(context.Background())
	managerCtx, stopManager := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.Run(managerCtx)
	}()
	go func() {
		defer wg.Done()
		srv.Serve(serveCtx)
		stopManager()
	}()

	var once sync.Once
	ts := &testServer{
		addr: srv.Addr().String(),
		stop: func() {
			once.Do(func() {
				stopServe()
				wg.Wait()
				m.Close()
			})
		},
	}
	t.Cleanup(ts.stop)
	return ts
}

func dial(t *testing.T, addr string) *client.Client {
	t.Helper()
	c, err := client.Dial(context.Background(), addr, client.Options{Retries: 3, Backoff: 50 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func login(t *testing.T, addr string) *client.Client {
	t.Helper()
	c := dial(t, addr)
	require.NoError(t, c.Auth(context.Background(), auth.RootUsername, rootPassword, false))
	return c
}

func TestShopOrdersEndToEnd(t *testing.T) {
	ctx := context.Background()
	ts := startServer(t, t.TempDir(), nil)
	c := login(t, ts.addr)

	require.NoError(t, c.CreateDB(ctx, "shop"))
	require.NoError(t, c.OpenDB(ctx, "shop"))
	require.NoError(t, c.CreateCollection(ctx, "orders"))
	require.NoError(t, c.Insert(ctx, "orders", client.Document{"item": "pen", "qty": 3}))

	doc, err := c.FindOne(ctx, "orders", client.Document{"item": "pen"})
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, json.Number("3"), doc["qty"])
	assert.NotEmpty(t, doc["@id"])
}

func TestReloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	ts := startServer(t, dir, nil)
	c := login(t, ts.addr)
	require.NoError(t, c.CreateDB(ctx, "shop"))
	require.NoError(t, c.OpenDB(ctx, "shop"))
	require.NoError(t, c.CreateCollection(ctx, "orders"))
	for i := 0; i < 5; i++ {
		require.NoError(t, c.Insert(ctx, "orders", client.Document{"n": i}))
	}
	before, err := c.FindAll(ctx, "orders", nil)
	require.NoError(t, err)
	require.Len(t, before, 5)

	c.Close()
	ts.stop()

	ts2 := startServer(t, dir, func(a *settings.Arguments) { a.RootPassword = "" })
	c2 := login(t, ts2.addr)
	require.NoError(t, c2.OpenDB(ctx, "shop"))
	after, err := c2.FindAll(ctx, "orders", nil)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestLargeIntegersSurviveRestart(t *testing.T) {
	for _, format := range []string{"json", "bson"} {
		t.Run(format, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()
			useFormat := func(a *settings.Arguments) { a.StorageFormat = format }

			ts := startServer(t, dir, useFormat)
			c := login(t, ts.addr)
			require.NoError(t, c.CreateDB(ctx, "ledger"))
			require.NoError(t, c.OpenDB(ctx, "ledger"))
			require.NoError(t, c.CreateCollection(ctx, "entries"))
			require.NoError(t, c.Insert(ctx, "entries", client.Document{"n": json.Number("9007199254740993")}))

			doc, err := c.FindOne(ctx, "entries", client.Document{"n": json.Number("9007199254740992")})
			require.NoError(t, err)
			assert.Nil(t, doc)

			c.Close()
			ts.stop()

			ts2 := startServer(t, dir, func(a *settings.Arguments) {
				useFormat(a)
				a.RootPassword = ""
			})
			c2 := login(t, ts2.addr)
			require.NoError(t, c2.OpenDB(ctx, "ledger"))
			doc, err = c2.FindOne(ctx, "entries", client.Document{"n": json.Number("9007199254740993")})
			require.NoError(t, err)
			require.NotNil(t, doc)
			assert.Equal(t, json.Number("9007199254740993"), doc["n"])
		})
	}
}

func TestUniqueIDs(t *testing.T) {
	ctx := context.Background()
	ts := startServer(t, t.TempDir(), nil)
	c := login(t, ts.addr)
	require.NoError(t, c.CreateDB(ctx, "shop"))
	require.NoError(t, c.OpenDB(ctx, "shop"))
	require.NoError(t, c.CreateCollection(ctx, "items"))

	for i := 0; i < 50; i++ {
		require.NoError(t, c.Insert(ctx, "items", client.Document{"n": i, "@id": "fixed"}))
	}
	docs, err := c.FindAll(ctx, "items", nil)
	require.NoError(t, err)

	seen := map[interface{}]bool{}
	for i, d := range docs {
		assert.Equal(t, json.Number(strconv.Itoa(i)), d["n"])
		assert.False(t, seen[d["@id"]])
		seen[d["@id"]] = true
	}
	assert.Len(t, seen, 50)
}

func TestActiveDatabaseCannotBeDeleted(t *testing.T) {
	ctx := context.Background()
	ts := startServer(t, t.TempDir(), nil)
	a := login(t, ts.addr)
	b := login(t, ts.addr)
	c := login(t, ts.addr)

	require.NoError(t, a.CreateDB(ctx, "shop"))
	require.NoError(t, a.OpenDB(ctx, "shop"))
	require.NoError(t, b.OpenDB(ctx, "shop"))

	err := c.DeleteDB(ctx, "shop")
	assert.ErrorIs(t, err, client.ErrActive)

	// once both holders disconnect the delete goes through
	a.Close()
	b.Close()
	require.Eventually(t, func() bool {
		return c.DeleteDB(ctx, "shop") == nil
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRateLimitDelaysAfterFailures(t *testing.T) {
	ctx := context.Background()
	delay := 300 * time.Millisecond
	ts := startServer(t, t.TempDir(), func(a *settings.Arguments) {
		a.AuthLimit = 3
		a.AuthDelay = delay
	})
	c := dial(t, ts.addr)

	for i := 0; i < 3; i++ {
		err := c.Auth(ctx, auth.RootUsername, "wrong", false)
		require.ErrorIs(t, err, client.ErrUser)
	}

	start := time.Now()
	err := c.Auth(ctx, auth.RootUsername, rootPassword, false)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), delay)

	// success reset the counter, a fresh connection from the same host is not delayed
	other := dial(t, ts.addr)
	start = time.Now()
	require.NoError(t, other.Auth(ctx, auth.RootUsername, rootPassword, false))
	assert.Less(t, time.Since(start), delay)
}

func TestPermissionsEndToEnd(t *testing.T) {
	ctx := context.Background()
	ts := startServer(t, t.TempDir(), nil)
	root := login(t, ts.addr)
	require.NoError(t, root.CreateDB(ctx, "D"))
	require.NoError(t, root.OpenDB(ctx, "D"))
	require.NoError(t, root.CreateCollection(ctx, "c"))
	require.NoError(t, root.Insert(ctx, "c", client.Document{"k": "v"}))
	require.NoError(t, root.CreateUser(ctx, "reader", "pw"))
	require.NoError(t, root.GrantDBPermission(ctx, "reader", "D", "read"))

	r := dial(t, ts.addr)
	require.NoError(t, r.Auth(ctx, "reader", "pw", false))
	require.NoError(t, r.OpenDB(ctx, "D"))

	err := r.Update(ctx, "c", client.Document{"k": "v"}, client.Document{"k": "w"})
	assert.ErrorIs(t, err, client.ErrPermissions)

	require.NoError(t, root.Update(ctx, "c", client.Document{"k": "v"}, client.Document{"k": "w"}))
	doc, err := r.FindOne(ctx, "c", client.Document{"k": "w"})
	require.NoError(t, err)
	assert.NotNil(t, doc)
}

func TestCompressionAndEvents(t *testing.T) {
	ctx := context.Background()
	ts := startServer(t, t.TempDir(), nil)

	watcher := dial(t, ts.addr)
	require.NoError(t, watcher.Auth(ctx, auth.RootUsername, rootPassword, true))

	got := make(chan json.RawMessage, 4)
	watcher.On("doc_insert", func(data json.RawMessage) { got <- data })
	require.NoError(t, watcher.Subscribe(ctx, "doc_insert"))

	actor := login(t, ts.addr)
	require.NoError(t, actor.CreateDB(ctx, "shop"))
	require.NoError(t, actor.OpenDB(ctx, "shop"))
	require.NoError(t, actor.CreateCollection(ctx, "orders"))
	require.NoError(t, actor.Insert(ctx, "orders", client.Document{"item": "pen"}))

	select {
	case data := <-got:
		var payload struct {
			DB         string          `json:"db"`
			Collection string          `json:"collection"`
			Doc        client.Document `json:"doc"`
		}
		require.NoError(t, json.Unmarshal(data, &payload))
		assert.Equal(t, "shop", payload.DB)
		assert.Equal(t, "orders", payload.Collection)
		assert.Equal(t, "pen", payload.Doc["item"])
	case <-time.After(2 * time.Second):
		t.Fatal("no doc_insert event")
	}

	// the compressed connection keeps working for ordinary requests
	dbs, err := watcher.ListDB(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"shop"}, dbs)
}

func TestMalformedPayloadKeepsSession(t *testing.T) {
	ts := startServer(t, t.TempDir(), nil)

	conn, err := net.Dial("tcp", ts.addr)
	require.NoError(t, err)
	defer conn.Close()

	greeting, err := protocol.ReadFrame(conn, 1<<20)
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":"auth"}`, string(greeting))

	require.NoError(t, protocol.WriteFrame(conn, []byte(`{broken`)))
	resp, err := protocol.ReadFrame(conn, 1<<20)
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"decoding"}`, string(resp))

	require.NoError(t, protocol.WriteFrame(conn, []byte(`{"id":"a"}`)))
	resp, err = protocol.ReadFrame(conn, 1<<20)
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"format","id":"a"}`, string(resp))

	require.NoError(t, protocol.WriteFrame(conn, []byte(`{"op":"list_db","id":"b"}`)))
	resp, err = protocol.ReadFrame(conn, 1<<20)
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"unauthed","id":"b"}`, string(resp))
}

func TestOversizedFrameClosesSession(t *testing.T) {
	ts := startServer(t, t.TempDir(), func(a *settings.Arguments) { a.MaxFrameSize = 64 })

	conn, err := net.Dial("tcp", ts.addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = protocol.ReadFrame(conn, 1<<20)
	require.NoError(t, err)

	require.NoError(t, protocol.WriteFrame(conn, make([]byte, 128)))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = protocol.ReadFrame(conn, 1<<20)
	assert.Error(t, err)
}

func TestShutdownClosesClients(t *testing.T) {
	ts := startServer(t, t.TempDir(), nil)
	c := login(t, ts.addr)

	ts.stop()

	_, err := c.ListDB(context.Background())
	assert.Error(t, err)
}
