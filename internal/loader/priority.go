package loader

import (
	"fmt"
	"path"
	"strings"
)

// Priority orders admissions inside a Host. The zero value asks the Loader to
// derive the priority from the resource kind.
type Priority int

const (
	PriorityAuto Priority = iota
	Low
	Medium
	High
)

const numPriorities = 3

func (p Priority) String() string {
	switch p {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	default:
		return "auto"
	}
}

// Valid reports whether p names a concrete bucket.
func (p Priority) Valid() bool {
	return p >= Low && p <= High
}

func (p Priority) bucket() int {
	return int(p - Low)
}

// ParsePriority accepts "low", "medium", "high" and "auto" (or "").
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return PriorityAuto, nil
	case "low":
		return Low, nil
	case "medium":
		return Medium, nil
	case "high":
		return High, nil
	default:
		return PriorityAuto, fmt.Errorf("unknown priority %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Kind is the class of subresource being fetched.
type Kind int

const (
	KindOther Kind = iota
	KindImage
	KindStyleSheet
	KindScript
	KindFont
	KindXSLStyleSheet
	KindPrefetch
)

var kindNames = map[Kind]string{
	KindOther:         "other",
	KindImage:         "image",
	KindStyleSheet:    "stylesheet",
	KindScript:        "script",
	KindFont:          "font",
	KindXSLStyleSheet: "xsl",
	KindPrefetch:      "prefetch",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "other"
}

// ParseKind maps a kind name back onto a Kind.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return KindOther, nil
	}
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return KindOther, fmt.Errorf("unknown resource kind %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// KindFromURL guesses a kind from the locator's file extension.
func KindFromURL(locator string) Kind {
	p := locator
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".css":
		return KindStyleSheet
	case ".js", ".mjs":
		return KindScript
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg", ".ico", ".avif":
		return KindImage
	case ".woff", ".woff2", ".ttf", ".otf":
		return KindFont
	case ".xsl", ".xslt":
		return KindXSLStyleSheet
	default:
		return KindOther
	}
}

// PriorityTable maps resource kinds to admission priorities.
type PriorityTable map[Kind]Priority

// DefaultPriorities returns the built-in kind → priority mapping. Stylesheets
// and scripts block rendering so they go first; images and prefetches last.
func DefaultPriorities() PriorityTable {
	return PriorityTable{
		KindStyleSheet:    High,
		KindXSLStyleSheet: High,
		KindScript:        High,
		KindFont:          Medium,
		KindImage:         Low,
		KindPrefetch:      Low,
		KindOther:         Low,
	}
}

// Lookup returns the priority for k, Low when k is missing.
func (t PriorityTable) Lookup(k Kind) Priority {
	if p, ok := t[k]; ok && p.Valid() {
		return p
	}
	return Low
}

// Merge returns a copy of t with overrides applied on top.
func (t PriorityTable) Merge(overrides PriorityTable) PriorityTable {
	out := make(PriorityTable, len(t)+len(overrides))
	for k, p := range t {
		out[k] = p
	}
	for k, p := range overrides {
		if p.Valid() {
			out[k] = p
		}
	}
	return out
}
