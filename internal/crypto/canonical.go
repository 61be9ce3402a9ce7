package crypto

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	ErrFloatNotAllowed = errors.New("float values are not allowed")
	ErrNonStringMapKey = errors.New("map keys must be strings")
	ErrUnsupportedType = errors.New("unsupported type for canonicalization")
	ErrKeyCollision    = errors.New("normalized map key collision")
)

// Canonicalize encodes v as canonical JSON: object keys sorted, strings NFC
// normalized, null object members dropped and only integral numbers allowed.
// Two values that differ only in map iteration order or Unicode composition
// encode to identical bytes.
func Canonicalize(v any) ([]byte, error) {
	enc := canonicalEncoder{stripNulls: true}
	if err := enc.value(v); err != nil {
		return nil, err
	}
	return enc.buf.Bytes(), nil
}

type canonicalEncoder struct {
	buf        bytes.Buffer
	stripNulls bool
}

type member struct {
	key   string
	value any
}

func (e *canonicalEncoder) value(v any) error {
	if v == nil {
		e.buf.WriteString("null")
		return nil
	}
	if n, ok := v.(json.Number); ok {
		return e.number(n)
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Interface || rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			e.buf.WriteString("null")
			return nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.String:
		return e.str(rv.String())
	case reflect.Bool:
		e.buf.WriteString(strconv.FormatBool(rv.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		e.buf.WriteString(strconv.FormatInt(rv.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		e.buf.WriteString(strconv.FormatUint(rv.Uint(), 10))
	case reflect.Float32, reflect.Float64:
		return ErrFloatNotAllowed
	case reflect.Map:
		return e.object(rv)
	case reflect.Slice, reflect.Array:
		return e.array(rv)
	case reflect.Invalid:
		e.buf.WriteString("null")
	default:
		return ErrUnsupportedType
	}
	return nil
}

func (e *canonicalEncoder) str(s string) error {
	encoded, err := json.Marshal(norm.NFC.String(s))
	if err != nil {
		return err
	}
	e.buf.Write(encoded)
	return nil
}

func (e *canonicalEncoder) number(n json.Number) error {
	if strings.ContainsAny(n.String(), ".eE") {
		return ErrFloatNotAllowed
	}
	parsed, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		return ErrFloatNotAllowed
	}
	e.buf.WriteString(strconv.FormatInt(parsed, 10))
	return nil
}

func (e *canonicalEncoder) object(rv reflect.Value) error {
	if rv.Type().Key().Kind() != reflect.String {
		return ErrNonStringMapKey
	}

	members := make([]member, 0, rv.Len())
	seen := make(map[string]struct{}, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		key := norm.NFC.String(iter.Key().String())
		if _, dup := seen[key]; dup {
			return ErrKeyCollision
		}
		seen[key] = struct{}{}

		val := iter.Value().Interface()
		if e.stripNulls && isNil(val) {
			continue
		}
		members = append(members, member{key: key, value: val})
	}
	sort.Slice(members, func(i, j int) bool { return members[i].key < members[j].key })

	e.buf.WriteByte('{')
	for i, m := range members {
		if i > 0 {
			e.buf.WriteByte(',')
		}
		if err := e.str(m.key); err != nil {
			return err
		}
		e.buf.WriteByte(':')
		if err := e.value(m.value); err != nil {
			return err
		}
	}
	e.buf.WriteByte('}')
	return nil
}

func (e *canonicalEncoder) array(rv reflect.Value) error {
	if rv.Kind() == reflect.Slice && rv.IsNil() {
		e.buf.WriteString("null")
		return nil
	}
	e.buf.WriteByte('[')
	for i := 0; i < rv.Len(); i++ {
		if i > 0 {
			e.buf.WriteByte(',')
		}
		if err := e.value(rv.Index(i).Interface()); err != nil {
			return err
		}
	}
	e.buf.WriteByte(']')
	return nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice:
		return rv.IsNil()
	default:
		return false
	}
}
