package media

import (
	"encoding/json"
	"net/url"
	"strings"
)

type rawKind int

const (
	rawAbsent rawKind = iota
	rawText
	rawList
)

// RawReferences is a stored media field before normalization. Historical rows
// hold a single URL, a JSON array serialized as text, a native list, or nothing.
type RawReferences struct {
	kind rawKind
	text string
	list []string
}

func Absent() RawReferences { return RawReferences{kind: rawAbsent} }

func Text(s string) RawReferences { return RawReferences{kind: rawText, text: s} }

func List(items []string) RawReferences { return RawReferences{kind: rawList, list: items} }

// FromValue decodes an untyped value into one of the accepted shapes.
// Anything else is treated as absent.
func FromValue(v any) RawReferences {
	switch t := v.(type) {
	case nil:
		return Absent()
	case string:
		return Text(t)
	case *string:
		if t == nil {
			return Absent()
		}
		return Text(*t)
	case []byte:
		return Text(string(t))
	case json.RawMessage:
		return Text(string(t))
	case []string:
		return List(t)
	case []any:
		items := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				items = append(items, s)
			}
		}
		return List(items)
	default:
		return Absent()
	}
}

// Normalize returns the ordered, deduplicated list of absolute http(s) URLs in raw.
// It never fails and never returns nil.
func Normalize(raw RawReferences) []string {
	return dedupeValid(candidates(raw))
}

// NormalizeValue is Normalize(FromValue(v)).
func NormalizeValue(v any) []string {
	return Normalize(FromValue(v))
}

// Merge appends added to existing and normalizes the union.
func Merge(existing []string, added ...[]string) []string {
	all := make([]string, 0, len(existing))
	all = append(all, existing...)
	for _, a := range added {
		all = append(all, a...)
	}
	return dedupeValid(all)
}

// Encode renders a reference list in the canonical stored form, a JSON array.
func Encode(refs []string) string {
	refs = dedupeValid(refs)
	b, err := json.Marshal(refs)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// IsValidReference reports whether s is an absolute http or https URL with a host.
// Bare tokens such as "room2" or "image.jpg" fail the scheme check.
func IsValidReference(s string) bool {
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return u.Host != ""
}

func candidates(raw RawReferences) []string {
	switch raw.kind {
	case rawList:
		return raw.list
	case rawText:
		trimmed := strings.TrimSpace(raw.text)
		if trimmed == "" {
			return nil
		}
		if strings.HasPrefix(trimmed, "[") {
			var decoded []any
			if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
				items := make([]string, 0, len(decoded))
				for _, e := range decoded {
					if s, ok := e.(string); ok {
						items = append(items, s)
					}
				}
				return items
			}
		}
		return []string{raw.text}
	default:
		return nil
	}
}

func dedupeValid(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, c := range in {
		c = strings.TrimSpace(c)
		if c == "" || !IsValidReference(c) {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
