package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// isoLayout is the on-disk timestamp format: UTC, millisecond precision, Z suffix.
const isoLayout = "2006-01-02T15:04:05.000Z"

// ISOTime formats t as an ISO-8601 UTC timestamp.
func ISOTime(t time.Time) string {
	return t.UTC().Format(isoLayout)
}

// DocID is a 24-char hex document id. It is stored as an ObjectID in MongoDB
// when it parses as one and as plain text everywhere else.
type DocID string

// NewDocID returns a fresh ObjectID-style id.
func NewDocID() DocID {
	return DocID(primitive.NewObjectID().Hex())
}

// Valid reports whether id is a 24-char hex string.
func (id DocID) Valid() bool {
	_, err := primitive.ObjectIDFromHex(string(id))
	return err == nil
}

func (id DocID) String() string { return string(id) }

// Ptr returns a pointer to a copy of id.
func (id DocID) Ptr() *DocID { return &id }

// MarshalBSONValue implements bson.ValueMarshaler.
func (id DocID) MarshalBSONValue() (bsontype.Type, []byte, error) {
	if oid, err := primitive.ObjectIDFromHex(string(id)); err == nil {
		return bson.MarshalValue(oid)
	}
	return bson.MarshalValue(string(id))
}

// UnmarshalBSONValue implements bson.ValueUnmarshaler.
func (id *DocID) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	rv := bson.RawValue{Type: t, Value: data}
	switch t {
	case bsontype.ObjectID:
		*id = DocID(rv.ObjectID().Hex())
	case bsontype.String:
		*id = DocID(rv.StringValue())
	case bsontype.Null, bsontype.Undefined:
		*id = ""
	default:
		return fmt.Errorf("cannot decode bson %s into DocID", t)
	}
	return nil
}

// Stamp is a stored message timestamp. New records carry ISO-8601 strings;
// legacy records may carry millisecond epochs, which Stamp accepts on every
// decode path.
type Stamp string

// StampFromTime returns the ISO form of t.
func StampFromTime(t time.Time) Stamp {
	return Stamp(ISOTime(t))
}

var stampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Millis returns the timestamp as milliseconds since the Unix epoch.
// A timestamp without zone designator is read as UTC. Unparseable values yield 0.
func (s Stamp) Millis() int64 {
	v := strings.TrimSpace(string(s))
	if v == "" {
		return 0
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return ms
	}
	for _, layout := range stampLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UnixMilli()
		}
	}
	return 0
}

func stampFromMillis(ms int64) Stamp {
	return Stamp(strconv.FormatInt(ms, 10))
}

// UnmarshalBSONValue implements bson.ValueUnmarshaler.
func (s *Stamp) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	rv := bson.RawValue{Type: t, Value: data}
	switch t {
	case bsontype.String:
		*s = Stamp(rv.StringValue())
	case bsontype.Int64:
		*s = stampFromMillis(rv.Int64())
	case bsontype.Int32:
		*s = stampFromMillis(int64(rv.Int32()))
	case bsontype.Double:
		*s = stampFromMillis(int64(rv.Double()))
	case bsontype.DateTime:
		*s = Stamp(ISOTime(time.UnixMilli(rv.DateTime())))
	case bsontype.Null, bsontype.Undefined:
		*s = ""
	default:
		return fmt.Errorf("cannot decode bson %s into Stamp", t)
	}
	return nil
}

// Scan implements sql.Scanner.
func (s *Stamp) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s = ""
	case string:
		*s = Stamp(v)
	case []byte:
		*s = Stamp(string(v))
	case int64:
		*s = stampFromMillis(v)
	case float64:
		*s = stampFromMillis(int64(v))
	case time.Time:
		*s = Stamp(ISOTime(v))
	default:
		return fmt.Errorf("cannot scan %T into Stamp", src)
	}
	return nil
}

// UnmarshalJSON accepts either a string or a number of milliseconds.
func (s *Stamp) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = Stamp(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid timestamp %s", string(b))
	}
	ms, err := n.Int64()
	if err != nil {
		return fmt.Errorf("invalid timestamp %s: %w", string(b), err)
	}
	*s = stampFromMillis(ms)
	return nil
}
