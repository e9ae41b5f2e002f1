package engine

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"jsondb/src/helpers"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SnapshotCodec converts a collection's documents to and from the bytes of
// its file.
type SnapshotCodec interface {
	// Extension is the file suffix, including the dot.
	Extension() string
	Encode(docs []Document) ([]byte, error)
	Decode(data []byte) ([]Document, error)
}

// CodecFor returns the codec for a storage format name.
func CodecFor(format string) (SnapshotCodec, error) {
	switch format {
	case "", "json":
		return JSONCodec{}, nil
	case "bson":
		return BSONCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown storage format %q", format)
	}
}

// JSONCodec stores a collection as a JSON array of objects.
type JSONCodec struct{}

func (JSONCodec) Extension() string { return ".json" }

func (JSONCodec) Encode(docs []Document) ([]byte, error) {
	if docs == nil {
		docs = []Document{}
	}
	return json.Marshal(docs)
}

func (JSONCodec) Decode(data []byte) ([]Document, error) {
	if len(data) == 0 {
		return []Document{}, nil
	}
	var docs []Document
	if err := helpers.UnmarshalJSON(data, &docs); err != nil {
		return nil, fmt.Errorf("error decoding collection: %w", err)
	}
	return docs, nil
}

// BSONCodec stores a collection as a single BSON document whose "documents"
// field holds the array. BSON has no top-level arrays.
//
// Integers that fit are stored as int64 and every other number as
// decimal128, so values read back are the numbers that were written.
type BSONCodec struct{}

type bsonSnapshot struct {
	Documents []primitive.M `bson:"documents"`
}

func (BSONCodec) Extension() string { return ".bson" }

func (BSONCodec) Encode(docs []Document) ([]byte, error) {
	snap := bsonSnapshot{Documents: make([]primitive.M, len(docs))}
	for i, d := range docs {
		snap.Documents[i] = toBSON(d).(primitive.M)
	}
	return helpers.EncodeBSON(snap)
}

func (BSONCodec) Decode(data []byte) ([]Document, error) {
	if len(data) == 0 {
		return []Document{}, nil
	}
	var snap bsonSnapshot
	if err := helpers.DecodeBSON(data, &snap); err != nil {
		return nil, fmt.Errorf("error decoding collection: %w", err)
	}

	docs := make([]Document, len(snap.Documents))
	for i, m := range snap.Documents {
		docs[i] = Document(fromBSON(m).(map[string]interface{}))
	}
	return docs, nil
}

func toBSON(v interface{}) interface{} {
	switch t := v.(type) {
	case Document:
		return toBSON(map[string]interface{}(t))
	case map[string]interface{}:
		out := make(primitive.M, len(t))
		for k, inner := range t {
			out[k] = toBSON(inner)
		}
		return out
	case []interface{}:
		out := make(primitive.A, len(t))
		for i, inner := range t {
			out[i] = toBSON(inner)
		}
		return out
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if d, err := primitive.ParseDecimal128(string(t)); err == nil {
			return d
		}
		f, _ := t.Float64()
		return f
	default:
		return v
	}
}

func fromBSON(v interface{}) interface{} {
	switch t := v.(type) {
	case primitive.M:
		return fromBSON(map[string]interface{}(t))
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, inner := range t {
			out[k] = fromBSON(inner)
		}
		return out
	case primitive.D:
		out := make(map[string]interface{}, len(t))
		for _, e := range t {
			out[e.Key] = fromBSON(e.Value)
		}
		return out
	case primitive.A:
		return fromBSON([]interface{}(t))
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, inner := range t {
			out[i] = fromBSON(inner)
		}
		return out
	case int32:
		return json.Number(strconv.FormatInt(int64(t), 10))
	case int64:
		return json.Number(strconv.FormatInt(t, 10))
	case float64:
		if math.IsInf(t, 0) || math.IsNaN(t) {
			return t
		}
		return json.Number(strconv.FormatFloat(t, 'g', -1, 64))
	case primitive.Decimal128:
		return json.Number(t.String())
	default:
		return v
	}
}
