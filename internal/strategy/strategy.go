// Package strategy defines the closed set of anonymization strategies and
// the pure transforms behind mask, hash and redact.
package strategy

import (
	"crypto/md5"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"strings"
	"unicode/utf8"
)

// Strategy names how a detected span is rewritten.
type Strategy string

const (
	Replace Strategy = "replace"
	Mask    Strategy = "mask"
	Hash    Strategy = "hash"
	Redact  Strategy = "redact"
)

// All lists every strategy in display order.
var All = []Strategy{Replace, Mask, Hash, Redact}

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case Replace, Mask, Hash, Redact:
		return true
	}
	return false
}

// Stateless reports whether the strategy needs no mapping store access.
func (s Strategy) Stateless() bool {
	return s == Mask || s == Hash || s == Redact
}

// Params is the opaque per-strategy parameter bag as stored in
// configuration. Numbers arriving from JSON are float64.
type Params map[string]any

// Clone returns a shallow copy.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Transform rewrites one span's text.
type Transform func(text, entityType string, p Params) string

var transforms = map[Strategy]Transform{
	Mask:   mask,
	Hash:   hashValue,
	Redact: redact,
}

// Apply runs a stateless strategy. Replace is rejected since it requires
// the mapping store.
func Apply(s Strategy, text, entityType string, p Params) (string, error) {
	fn, ok := transforms[s]
	if !ok {
		return "", fmt.Errorf("strategy %q is not a stateless transform", s)
	}
	return fn(text, entityType, p), nil
}

const (
	defaultMaskChar    = "*"
	defaultVisibleTail = 4
	defaultPlaceholder = "[REDACTED]"
	defaultHashType    = "sha256"
)

// mask hides all but the last visible_tail characters. When chars_to_mask
// is set, exactly that many characters are hidden from the start, or from
// the end with from_end.
func mask(text, _ string, p Params) string {
	char := p.stringOr("masking_char", defaultMaskChar)
	runes := []rune(text)
	n := len(runes)

	if count, ok := p.intParam("chars_to_mask"); ok {
		count = min(max(count, 0), n)
		if p.boolOr("from_end", false) {
			return string(runes[:n-count]) + strings.Repeat(char, count)
		}
		return strings.Repeat(char, count) + string(runes[count:])
	}

	tail, ok := p.intParam("visible_tail")
	if !ok {
		tail = defaultVisibleTail
	}
	tail = min(max(tail, 0), n)
	return strings.Repeat(char, n-tail) + string(runes[n-tail:])
}

// hashValue returns a hex digest of the span text.
func hashValue(text, _ string, p Params) string {
	var h hash.Hash
	switch p.stringOr("hash_type", defaultHashType) {
	case "sha512":
		h = sha512.New()
	case "md5":
		h = md5.New()
	default:
		h = sha256.New()
	}
	h.Write([]byte(text))
	digest := hex.EncodeToString(h.Sum(nil))

	if n, ok := p.intParam("truncate"); ok && n > 0 && n < len(digest) {
		digest = digest[:n]
	}
	return digest
}

func redact(_, entityType string, p Params) string {
	if p.boolOr("include_type", false) {
		return "[" + entityType + "_REDACTED]"
	}
	return p.stringOr("placeholder", defaultPlaceholder)
}

// Validate checks params against what strategy s accepts.
func Validate(s Strategy, p Params) error {
	if !s.Valid() {
		return fmt.Errorf("unknown strategy %q (must be one of replace, mask, hash, redact)", s)
	}

	switch s {
	case Mask:
		if v, ok := p["masking_char"]; ok {
			c, isString := v.(string)
			if !isString || utf8.RuneCountInString(c) != 1 {
				return fmt.Errorf("masking_char must be a single character")
			}
		}
		for _, key := range []string{"visible_tail", "chars_to_mask"} {
			if _, present := p[key]; !present {
				continue
			}
			if n, ok := p.intParam(key); !ok || n < 0 {
				return fmt.Errorf("%s must be a non-negative integer", key)
			}
		}
		if err := p.checkBool("from_end"); err != nil {
			return err
		}
	case Hash:
		if v, ok := p["hash_type"]; ok {
			switch v {
			case "sha256", "sha512", "md5":
			default:
				return fmt.Errorf("hash_type must be one of: sha256, sha512, md5")
			}
		}
		if v, present := p["truncate"]; present && v != nil {
			if n, ok := p.intParam("truncate"); !ok || n <= 0 {
				return fmt.Errorf("truncate must be a positive integer")
			}
		}
	case Redact:
		if v, ok := p["placeholder"]; ok {
			if _, isString := v.(string); !isString {
				return fmt.Errorf("placeholder must be a string")
			}
		}
		if err := p.checkBool("include_type"); err != nil {
			return err
		}
	}
	return nil
}

func (p Params) stringOr(key, def string) string {
	if s, ok := p[key].(string); ok && s != "" {
		return s
	}
	return def
}

func (p Params) boolOr(key string, def bool) bool {
	if b, ok := p[key].(bool); ok {
		return b
	}
	return def
}

func (p Params) checkBool(key string) error {
	if v, ok := p[key]; ok {
		if _, isBool := v.(bool); !isBool {
			return fmt.Errorf("%s must be a boolean", key)
		}
	}
	return nil
}

// intParam reads an integral parameter from any of the numeric forms produced by
// JSON decoding, YAML decoding or Go callers.
func (p Params) intParam(key string) (int, bool) {
	switch v := p[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != float64(int(v)) {
			return 0, false
		}
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}
