package ident

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vbonduro/homewiz/internal/domain"
)

const temporaryPrefix = "tmp_"

var (
	ErrConflictingReconciliation = errors.New("conflicting reconciliation")
	ErrNotTemporary              = errors.New("identifier is not temporary")
	ErrInvalidCanonical          = errors.New("invalid canonical identifier")
	ErrUnreconciled              = errors.New("temporary identifier has not been reconciled")
)

// Allocator hands out temporary identifiers and binds them to canonical ones.
// A binding is permanent for the lifetime of the Allocator.
type Allocator struct {
	mu       sync.RWMutex
	mappings map[string]string
	seq      atomic.Uint64
	now      func() time.Time
}

func NewAllocator() *Allocator {
	return &Allocator{
		mappings: make(map[string]string),
		now:      time.Now,
	}
}

// AllocateTemporary returns an identifier unique within the process, tagged with kind.
func (a *Allocator) AllocateTemporary(kind domain.EntityKind) string {
	n := a.seq.Add(1)
	return fmt.Sprintf("%s%s_%s_%s_%s",
		temporaryPrefix,
		kind,
		strconv.FormatInt(a.now().UnixNano(), 36),
		strconv.FormatUint(n, 36),
		randomSuffix(),
	)
}

// Reconcile binds temporaryID to canonicalID. Repeating an identical call is a no-op;
// binding an already reconciled id to a different canonical id fails.
func (a *Allocator) Reconcile(temporaryID, canonicalID string) error {
	if !IsTemporary(temporaryID) {
		return fmt.Errorf("%w: %q", ErrNotTemporary, temporaryID)
	}
	if canonicalID == "" || IsTemporary(canonicalID) {
		return fmt.Errorf("%w: %q", ErrInvalidCanonical, canonicalID)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if existing, ok := a.mappings[temporaryID]; ok {
		if existing == canonicalID {
			return nil
		}
		return fmt.Errorf("%w: %s is bound to %s, not %s", ErrConflictingReconciliation, temporaryID, existing, canonicalID)
	}
	a.mappings[temporaryID] = canonicalID
	return nil
}

// Resolve returns the canonical identifier for id. Canonical identifiers are
// returned unchanged.
func (a *Allocator) Resolve(id string) (string, error) {
	if !IsTemporary(id) {
		return id, nil
	}
	a.mu.RLock()
	canonical, ok := a.mappings[id]
	a.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnreconciled, id)
	}
	return canonical, nil
}

func IsTemporary(id string) bool {
	return strings.HasPrefix(id, temporaryPrefix)
}

// KindOf extracts the entity kind embedded in a temporary identifier.
func KindOf(id string) (domain.EntityKind, bool) {
	if !IsTemporary(id) {
		return "", false
	}
	rest := strings.TrimPrefix(id, temporaryPrefix)
	kind, _, found := strings.Cut(rest, "_")
	if !found {
		return "", false
	}
	k := domain.EntityKind(kind)
	return k, k.Valid()
}

func randomSuffix() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "0000"
	}
	return hex.EncodeToString(b[:])
}
