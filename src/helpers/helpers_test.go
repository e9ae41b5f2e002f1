package helpers

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestIsValidName(t *testing.T) {
	valid := []string{"shop", "orders_2024", "a", "My-DB"}
	invalid := []string{"", "../etc", "a/b", ".hidden", "name.json", "_x", string(make([]byte, 65))}

	for _, name := range valid {
		assert.True(t, IsValidName(name), name)
	}
	for _, name := range invalid {
		assert.False(t, IsValidName(name), name)
	}
}

func TestGenerateIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := GenerateUUID()
		require.False(t, seen[id])
		seen[id] = true
	}
	assert.Len(t, GenerateULID(), 26)
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "orders.json")

	require.NoError(t, WriteFileAtomic(target, []byte(`[1]`), 0644))
	require.NoError(t, WriteFileAtomic(target, []byte(`[1,2]`), 0644))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, `[1,2]`, string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
	assert.True(t, FileExists(target))
	assert.False(t, FileExists(dir))
	assert.True(t, DirExists(dir))
}

func TestLockDirectory(t *testing.T) {
	dir := t.TempDir()

	lock, err := LockDirectory(dir)
	require.NoError(t, err)

	_, err = LockDirectory(dir)
	assert.ErrorIs(t, err, ErrDirectoryLocked)

	require.NoError(t, lock.Close())

	lock, err = LockDirectory(dir)
	require.NoError(t, err)
	lock.Close()
}

func TestBSONRoundTrip(t *testing.T) {
	in := bson.M{"item": "pen", "qty": int64(3), "tags": bson.A{"a", "b"}, "meta": nil}

	encoded, err := EncodeBSON(in)
	require.NoError(t, err)

	var out bson.M
	require.NoError(t, DecodeBSON(encoded, &out))
	assert.Equal(t, "pen", out["item"])
	assert.Equal(t, int64(3), out["qty"])
	assert.Nil(t, out["meta"])

	assert.Error(t, DecodeBSON([]byte{1, 2, 3}, &out))
}

func TestUnmarshalJSONKeepsNumbersExact(t *testing.T) {
	var doc map[string]interface{}
	require.NoError(t, UnmarshalJSON([]byte(`{"n": 9007199254740993, "f": 1.5}`), &doc))
	assert.Equal(t, json.Number("9007199254740993"), doc["n"])
	assert.Equal(t, json.Number("1.5"), doc["f"])

	var typed struct {
		Name string `json:"name"`
	}
	require.NoError(t, UnmarshalJSON([]byte(`{"name": "shop"}`), &typed))
	assert.Equal(t, "shop", typed.Name)

	assert.Error(t, UnmarshalJSON([]byte(`{"a": 1} {"b": 2}`), &doc))
	assert.Error(t, UnmarshalJSON([]byte(`{"a": `), &doc))
}
