package store

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// IDField is the field that addresses an item within its collection.
const IDField = "id"

// Item is a single JSON object stored in a collection. Field order is
// preserved: new fields are appended, overwritten fields keep their place.
type Item struct {
	fields *orderedmap.OrderedMap[string, any]
}

// NewItem returns an empty item.
func NewItem() *Item {
	return &Item{fields: orderedmap.New[string, any]()}
}

// DecodeItem parses a JSON object into an item. Nested objects keep their
// key order too.
func DecodeItem(data []byte) (*Item, error) {
	data = bytes.TrimSpace(data)
	if !json.Valid(data) {
		return nil, errors.New("invalid JSON")
	}
	if len(data) == 0 || data[0] != '{' {
		return nil, errors.New("item is not a JSON object")
	}
	v, err := decodeValue(json.NewDecoder(bytes.NewReader(data)))
	if err != nil {
		return nil, err
	}
	return &Item{fields: v.(*orderedmap.OrderedMap[string, any])}, nil
}

// decodeValue reads one JSON value. Objects become ordered maps, arrays
// []any, and scalars what encoding/json produces for interface{}.
func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch delim {
	case '{':
		obj := orderedmap.New[string, any]()
		for dec.More() {
			kt, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, ok := kt.(string)
			if !ok {
				return nil, errors.Errorf("unexpected object key %v", kt)
			}
			v, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			obj.Set(key, v)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return obj, nil
	case '[':
		arr := []any{}
		for dec.More() {
			v, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return arr, nil
	default:
		return nil, errors.Errorf("unexpected delimiter %v", delim)
	}
}

func (it *Item) init() {
	if it.fields == nil {
		it.fields = orderedmap.New[string, any]()
	}
}

// Get returns the value of a field.
func (it *Item) Get(key string) (any, bool) {
	if it.fields == nil {
		return nil, false
	}
	return it.fields.Get(key)
}

// Set adds or overwrites a field.
func (it *Item) Set(key string, value any) {
	it.init()
	it.fields.Set(key, value)
}

// Keys returns the field names in order.
func (it *Item) Keys() []string {
	if it.fields == nil {
		return nil
	}
	keys := make([]string, 0, it.fields.Len())
	for p := it.fields.Oldest(); p != nil; p = p.Next() {
		keys = append(keys, p.Key)
	}
	return keys
}

// Len returns the number of fields.
func (it *Item) Len() int {
	if it.fields == nil {
		return 0
	}
	return it.fields.Len()
}

// ID returns the item's id field.
func (it *Item) ID() (any, bool) {
	return it.Get(IDField)
}

// MatchesID reports whether the item's id, coerced to a string, equals id.
// An item without an id field coerces to "undefined".
func (it *Item) MatchesID(id string) bool {
	v, ok := it.ID()
	if !ok {
		return id == "undefined"
	}
	return CoerceString(v) == id
}

// Merge copies every field of patch onto it. Fields absent from patch are
// left alone; there is no way to remove a field.
func (it *Item) Merge(patch *Item) {
	if patch == nil || patch.fields == nil {
		return
	}
	it.init()
	for p := patch.fields.Oldest(); p != nil; p = p.Next() {
		it.fields.Set(p.Key, p.Value)
	}
}

func (it *Item) MarshalJSON() ([]byte, error) {
	if it.fields == nil {
		return []byte("{}"), nil
	}
	return it.fields.MarshalJSON()
}

func (it *Item) UnmarshalJSON(data []byte) error {
	decoded, err := DecodeItem(data)
	if err != nil {
		return err
	}
	it.fields = decoded.fields
	return nil
}

// entry is the value under one top-level key. Keys holding an array of
// objects are collections; anything else is kept verbatim in raw and
// written back unchanged.
type entry struct {
	items []*Item
	raw   json.RawMessage
}

func (e *entry) MarshalJSON() ([]byte, error) {
	if e.raw != nil {
		return e.raw, nil
	}
	if e.items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(e.items)
}

// Document is the whole persisted state: collection name -> items.
// Collection order is preserved.
type Document struct {
	collections *orderedmap.OrderedMap[string, *entry]
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{collections: orderedmap.New[string, *entry]()}
}

var (
	// ErrNotObject is returned when the persisted top-level value is not a
	// JSON object.
	ErrNotObject = errors.New("document is not a JSON object")

	// ErrNotCollection is returned when an item operation addresses a key
	// whose value is not an array of objects.
	ErrNotCollection = errors.New("value is not a collection of objects")
)

// DecodeDocument parses persisted bytes. Empty input and a top-level null
// both yield an empty document.
func DecodeDocument(data []byte) (*Document, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return NewDocument(), nil
	}
	if !json.Valid(data) {
		return nil, errors.New("invalid JSON")
	}
	if bytes.Equal(data, []byte("null")) {
		return NewDocument(), nil
	}
	if data[0] != '{' {
		return nil, ErrNotObject
	}

	raw := orderedmap.New[string, json.RawMessage]()
	if err := raw.UnmarshalJSON(data); err != nil {
		return nil, errors.Wrap(err, "decode document")
	}

	doc := NewDocument()
	for p := raw.Oldest(); p != nil; p = p.Next() {
		doc.collections.Set(p.Key, decodeEntry(p.Value))
	}
	return doc, nil
}

func decodeEntry(data json.RawMessage) *entry {
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return &entry{raw: append(json.RawMessage(nil), data...)}
	}
	items := make([]*Item, 0, len(elems))
	for _, elem := range elems {
		it, err := DecodeItem(elem)
		if err != nil {
			return &entry{raw: append(json.RawMessage(nil), data...)}
		}
		items = append(items, it)
	}
	return &entry{items: items}
}

func (d *Document) MarshalJSON() ([]byte, error) {
	if d.collections == nil {
		return []byte("{}"), nil
	}
	return d.collections.MarshalJSON()
}

// Names returns the top-level keys in order.
func (d *Document) Names() []string {
	names := make([]string, 0, d.collections.Len())
	for p := d.collections.Oldest(); p != nil; p = p.Next() {
		names = append(names, p.Key)
	}
	return names
}

// Raw returns the verbatim value of a key that is not a collection.
func (d *Document) Raw(name string) (json.RawMessage, bool) {
	e, ok := d.collections.Get(name)
	if !ok || e.raw == nil {
		return nil, false
	}
	return e.raw, true
}

// SetRaw stores value verbatim under name.
func (d *Document) SetRaw(name string, value json.RawMessage) {
	d.collections.Set(name, &entry{raw: append(json.RawMessage(nil), value...)})
}

// Items returns the items of a collection, or ErrNotCollection if the key
// holds some other value. A missing collection yields an empty slice.
func (d *Document) Items(name string) ([]*Item, error) {
	e, ok := d.collections.Get(name)
	if !ok {
		return []*Item{}, nil
	}
	if e.raw != nil {
		return nil, errors.Wrapf(ErrNotCollection, "key %q", name)
	}
	if e.items == nil {
		return []*Item{}, nil
	}
	return e.items, nil
}

// Collection returns the items of a collection. A missing collection, or a
// key that is not a collection, yields an empty, non-nil slice.
func (d *Document) Collection(name string) []*Item {
	items, err := d.Items(name)
	if err != nil {
		return []*Item{}
	}
	return items
}

// Has reports whether the key exists.
func (d *Document) Has(name string) bool {
	_, ok := d.collections.Get(name)
	return ok
}

// Ensure creates an empty collection if it does not exist yet.
func (d *Document) Ensure(name string) {
	if !d.Has(name) {
		d.collections.Set(name, &entry{items: []*Item{}})
	}
}

// Append adds an item to the end of a collection, creating it if needed.
// A key that is not a collection is replaced; callers check Items first.
func (d *Document) Append(name string, it *Item) {
	items := d.Collection(name)
	d.collections.Set(name, &entry{items: append(items, it)})
}

// Find returns the position and item of the first element whose id matches.
// It returns -1 and nil when nothing matches.
func (d *Document) Find(name, id string) (int, *Item) {
	for i, it := range d.Collection(name) {
		if it.MatchesID(id) {
			return i, it
		}
	}
	return -1, nil
}

// RemoveAt deletes the element at position i, keeping the order of the rest.
func (d *Document) RemoveAt(name string, i int) *Item {
	items := d.Collection(name)
	if i < 0 || i >= len(items) {
		return nil
	}
	removed := items[i]
	rest := make([]*Item, 0, len(items)-1)
	rest = append(rest, items[:i]...)
	rest = append(rest, items[i+1:]...)
	d.collections.Set(name, &entry{items: rest})
	return removed
}

// CoerceString renders a JSON value the way a JavaScript String() call does.
// Ids are compared through it so "3" matches 3.
func CoerceString(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return formatNumber(t)
	case float32:
		return formatNumber(float64(t))
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return formatNumber(f)
		}
		return t.String()
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			if e != nil {
				parts[i] = CoerceString(e)
			}
		}
		return strings.Join(parts, ",")
	default:
		return "[object Object]"
	}
}

func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}
	abs := math.Abs(f)
	if abs >= 1e21 || abs < 1e-6 {
		s := strconv.FormatFloat(f, 'e', -1, 64)
		mant, exp, _ := strings.Cut(s, "e")
		return mant + "e" + exp[:1] + strings.TrimLeft(exp[1:], "0")
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
