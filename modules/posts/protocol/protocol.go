// Package protocol implements the MAP key/value wire format embedded in
// transaction outputs: a namespace marker push, a verb, then alternating
// key and value data pushes.
package protocol

import (
	"encoding/json"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/btcsuite/btcd/txscript"
)

// Marker is the namespace push identifying outputs that carry this
// application's data. Outputs without it are inert.
var Marker = []byte("1PuQa7K62MiKCtssSLKy1kh56WWU7MtUR5")

// verbSet is the write verb following the marker.
const verbSet = "SET"

type Kind int

const (
	KindString Kind = iota
	KindInt
	KindBool
	KindList
)

// integerFields parse to int64 with 0 on failure.
var integerFields = map[string]struct{}{
	"sequence":        {},
	"parent_sequence": {},
	"lock_amount":     {},
	"lock_duration":   {},
	"option_index":    {},
	"total_options":   {},
}

// booleanFields parse case-insensitively, true only on literal "true".
var booleanFields = map[string]struct{}{
	"is_vote":   {},
	"is_locked": {},
}

// listFields parse a JSON array of strings, empty on failure.
var listFields = map[string]struct{}{
	"tags": {},
}

// Value is one decoded field value, typed at decode time. The original
// value bytes are retained for binary payloads.
type Value struct {
	kind Kind
	raw  []byte
	str  string
	num  int64
	b    bool
	list []string
}

func (v Value) Kind() Kind     { return v.kind }
func (v Value) Str() string    { return v.str }
func (v Value) Int() int64     { return v.num }
func (v Value) Bool() bool     { return v.b }
func (v Value) List() []string { return v.list }
func (v Value) Bytes() []byte  { return v.raw }

// Fields is a flat mapping from lower-case field name to typed value,
// produced per output.
type Fields map[string]Value

func (f Fields) Has(name string) bool {
	_, ok := f[name]
	return ok
}

func (f Fields) Str(name string) string    { return f[name].str }
func (f Fields) Int(name string) int64     { return f[name].num }
func (f Fields) Bool(name string) bool     { return f[name].b }
func (f Fields) List(name string) []string { return f[name].list }
func (f Fields) Bytes(name string) []byte  { return f[name].raw }

// DecodeOutput decodes one output script. It returns ok=false when the
// script does not carry the namespace marker. Malformed pushes fail soft:
// the offending pair is omitted and decoding continues; DecodeOutput never
// returns an error.
func DecodeOutput(script []byte) (Fields, bool) {
	pushes := dataPushes(script)

	markerAt := -1
	for i, push := range pushes {
		if string(push) == string(Marker) {
			markerAt = i
			break
		}
	}
	if markerAt < 0 {
		return nil, false
	}

	rest := pushes[markerAt+1:]
	if len(rest) > 0 && strings.EqualFold(string(rest[0]), verbSet) {
		rest = rest[1:]
	}

	fields := make(Fields)
	for i := 0; i+1 < len(rest); i += 2 {
		key, value := rest[i], rest[i+1]
		if len(key) == 0 || !utf8.Valid(key) {
			continue
		}
		name := strings.ToLower(string(key))
		fields[name] = coerce(name, value)
	}
	return fields, true
}

// dataPushes tokenizes the script and collects the data of every push
// opcode, ignoring everything else. Tokenizer errors truncate the result
// instead of failing the output.
func dataPushes(script []byte) [][]byte {
	pushes := make([][]byte, 0, 8)
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	for tokenizer.Next() {
		if data := tokenizer.Data(); data != nil {
			pushes = append(pushes, data)
		}
	}
	return pushes
}

func coerce(name string, value []byte) Value {
	v := Value{kind: KindString, raw: value, str: string(value)}

	switch {
	case isIntegerField(name):
		v.kind = KindInt
		n, err := strconv.ParseInt(strings.TrimSpace(v.str), 10, 64)
		if err != nil {
			n = 0
		}
		v.num = n
	case isBooleanField(name):
		v.kind = KindBool
		v.b = strings.EqualFold(strings.TrimSpace(v.str), "true")
	case isListField(name):
		v.kind = KindList
		var list []string
		if err := json.Unmarshal(value, &list); err != nil {
			list = []string{}
		}
		v.list = list
	}
	return v
}

func isIntegerField(name string) bool {
	_, ok := integerFields[name]
	return ok
}

func isBooleanField(name string) bool {
	_, ok := booleanFields[name]
	return ok
}

func isListField(name string) bool {
	_, ok := listFields[name]
	return ok
}
