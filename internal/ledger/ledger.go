// Package ledger guarantees at-most-once content generation per signal and
// rejects byte-identical output across signals.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/herald/internal/signal"
	"github.com/kalambet/herald/internal/storage"
)

// ErrDuplicateSource means the (sourceType, sourceID) pair already produced
// content. A normal filtering outcome, logged, never fatal.
var ErrDuplicateSource = errors.New("source already processed")

// ErrDuplicateContent means byte-identical content already exists, possibly
// from a different source. Also a normal filtering outcome.
var ErrDuplicateContent = errors.New("duplicate content")

// Store is the subset of storage.Store the ledger needs.
type Store interface {
	InsertLedgerEntry(e storage.LedgerEntry) error
	HasLedgerEntry(sourceType, sourceID string) (bool, error)
	HasContentHash(hash string) (bool, error)
	SaveContent(c storage.ContentRecord) (int64, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Ledger enforces the two uniqueness invariants in front of content
// persistence.
type Ledger struct {
	store Store
	clock Clock
}

// New creates a Ledger over the given store.
func New(store Store) *Ledger {
	return &Ledger{store: store, clock: realClock{}}
}

// NewWithClock creates a Ledger with a custom clock (for testing).
func NewWithClock(store Store, clock Clock) *Ledger {
	return &Ledger{store: store, clock: clock}
}

// SourceTypeFor maps a signal kind to its ledger source type.
func SourceTypeFor(kind signal.Kind) string {
	switch kind {
	case signal.KindPost:
		return "tweet"
	case signal.KindTrend:
		return "trend"
	case signal.KindTask:
		return "task"
	default:
		return string(kind)
	}
}

// SourceIDFor returns the dedup identity of a signal. Posts and tasks carry
// natural identifiers. Trends have none, so the id is synthesized from the
// truncated topic, the calendar date, and a short hash of the first two
// sample texts: the same topic may regenerate content on a later day, or the
// same day with materially different evidence, but an identical snapshot is
// caught within a run.
func (l *Ledger) SourceIDFor(sig signal.Signal) string {
	switch sig.Kind {
	case signal.KindPost:
		return sig.Post.PostID
	case signal.KindTask:
		return sig.Task.ID
	case signal.KindTrend:
		return trendSourceID(sig.Trend, l.clock.Now())
	default:
		return ""
	}
}

func trendSourceID(t *signal.Trend, now time.Time) string {
	topic := strings.ToLower(strings.TrimSpace(t.Topic))
	if len(topic) > 24 {
		topic = topic[:24]
	}
	topic = strings.ReplaceAll(topic, " ", "-")

	h := fnv.New32a()
	for i, s := range t.SampleTexts {
		if i >= 2 {
			break
		}
		h.Write([]byte(s))
	}
	digest := fmt.Sprintf("%08x", h.Sum32())

	return fmt.Sprintf("%s:%s:%s", topic, now.Format("2006-01-02"), digest)
}

// HashContent returns the hex SHA-256 of the joined body parts.
func HashContent(body []string) string {
	sum := sha256.Sum256([]byte(strings.Join(body, "\n")))
	return hex.EncodeToString(sum[:])
}

// HasEntryFor reports whether the source was already processed.
func (l *Ledger) HasEntryFor(sourceType, sourceID string) (bool, error) {
	return l.store.HasLedgerEntry(sourceType, sourceID)
}

// IsDuplicateContent reports whether identical content was already persisted.
func (l *Ledger) IsDuplicateContent(body []string) (bool, error) {
	return l.store.HasContentHash(HashContent(body))
}

// Content is the ledger-facing shape of a finalized draft.
type Content struct {
	Body              []string
	Kind              string
	SourceDescription string
	RelevanceScore    float64
	BrandScore        float64
	ImageRef          string
}

// Persist writes the content row and its ledger entry. The ledger entry is
// written first: its constraints are the authority, so content can never
// land without a matching entry. Returns the content UUID.
func (l *Ledger) Persist(c Content, sourceType, sourceID string) (string, error) {
	id := uuid.New().String()
	now := l.clock.Now().UTC()
	hash := HashContent(c.Body)

	err := l.store.InsertLedgerEntry(storage.LedgerEntry{
		SourceType:  sourceType,
		SourceID:    sourceID,
		ContentHash: hash,
		ContentUUID: id,
		CreatedAt:   now,
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			// Disambiguate which invariant tripped.
			if dup, hashErr := l.store.HasContentHash(hash); hashErr == nil && dup {
				return "", fmt.Errorf("%w: hash %.12s", ErrDuplicateContent, hash)
			}
			return "", fmt.Errorf("%w: %s/%s", ErrDuplicateSource, sourceType, sourceID)
		}
		return "", fmt.Errorf("inserting ledger entry: %w", err)
	}

	bodyJSON, err := json.Marshal(c.Body)
	if err != nil {
		return "", fmt.Errorf("marshalling body: %w", err)
	}

	if _, err := l.store.SaveContent(storage.ContentRecord{
		UUID:              id,
		Body:              string(bodyJSON),
		Kind:              c.Kind,
		SourceDescription: c.SourceDescription,
		RelevanceScore:    c.RelevanceScore,
		BrandScore:        c.BrandScore,
		ImageRef:          c.ImageRef,
		SourceType:        sourceType,
		SourceID:          sourceID,
		ContentHash:       hash,
		CreatedAt:         now,
	}); err != nil {
		return "", fmt.Errorf("saving content: %w", err)
	}

	return id, nil
}

// MarkProcessed records that a source was handled without producing content
// (skipped, filtered, or nothing worth saying). Hashless entries never
// collide with each other.
func (l *Ledger) MarkProcessed(sourceType, sourceID string) error {
	err := l.store.InsertLedgerEntry(storage.LedgerEntry{
		SourceType: sourceType,
		SourceID:   sourceID,
		CreatedAt:  l.clock.Now().UTC(),
	})
	if errors.Is(err, storage.ErrDuplicate) {
		return nil // already recorded, nothing to do
	}
	return err
}
