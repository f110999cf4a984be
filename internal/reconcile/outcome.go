package reconcile

import (
	"strings"

	"github.com/google/uuid"
)

// IDKind tells how an incoming record identifier was resolved.
type IDKind int

const (
	// IDKept means the incoming identifier is used as is.
	IDKept IDKind = iota
	// IDRemapped means the incoming identifier was malformed or already
	// taken and a new one was minted.
	IDRemapped
	// IDMinted means the record carried no identifier.
	IDMinted
)

func (k IDKind) String() string {
	switch k {
	case IDKept:
		return "kept"
	case IDRemapped:
		return "remapped"
	case IDMinted:
		return "minted"
	default:
		return "unknown"
	}
}

// MarshalText renders the kind by name in JSON summaries.
func (k IDKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// IDOutcome is the identifier decision for one imported record.
type IDOutcome struct {
	Kind       IDKind `json:"kind"`
	OriginalID string `json:"originalId,omitempty"`
	ID         string `json:"id"`
}

// canonicalID returns the lowercase canonical form of a UUID-shaped id.
func canonicalID(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return "", false
	}
	return parsed.String(), true
}

// resolveID keeps raw when it is a well-formed UUID that is neither stored
// nor used earlier in the batch. Everything else gets a fresh UUID.
func resolveID(raw string, taken func(id string) bool) IDOutcome {
	original := strings.TrimSpace(raw)
	if original == "" {
		return IDOutcome{Kind: IDMinted, ID: uuid.NewString()}
	}
	if id, ok := canonicalID(original); ok && !taken(id) {
		return IDOutcome{Kind: IDKept, OriginalID: original, ID: id}
	}
	return IDOutcome{Kind: IDRemapped, OriginalID: original, ID: uuid.NewString()}
}
