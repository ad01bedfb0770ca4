package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledgerd/pkg/db/models"
)

// Content types that transaction records point at.
const (
	TargetInvoice      = "invoice"
	TargetDeliverable  = "deliverable"
	TargetSubscription = "subscription"
)

// Target is a weak reference to the business object a record is about.
type Target struct {
	ContentType string `json:"content_type"`
	ObjectID    string `json:"object_id"`
}

func (t Target) String() string {
	return t.ContentType + ":" + t.ObjectID
}

// NewTarget builds a target for a uuid-keyed object.
func NewTarget(contentType string, id uuid.UUID) Target {
	return Target{ContentType: contentType, ObjectID: id.String()}
}

func InvoiceTarget(id uuid.UUID) Target      { return NewTarget(TargetInvoice, id) }
func DeliverableTarget(id uuid.UUID) Target  { return NewTarget(TargetDeliverable, id) }
func SubscriptionTarget(id uuid.UUID) Target { return NewTarget(TargetSubscription, id) }

// ParseTarget reads the "type:id" form produced by String.
func ParseTarget(raw string) (Target, error) {
	contentType, objectID, ok := strings.Cut(raw, ":")
	if !ok || contentType == "" || objectID == "" {
		return Target{}, fmt.Errorf("invalid target %q", raw)
	}
	return Target{ContentType: contentType, ObjectID: objectID}, nil
}

// NormalizeTargets drops blanks and duplicates and sorts the rest.
func NormalizeTargets(targets []Target) []Target {
	seen := make(map[Target]struct{}, len(targets))
	out := make([]Target, 0, len(targets))
	for _, t := range targets {
		t.ContentType = strings.TrimSpace(t.ContentType)
		t.ObjectID = strings.TrimSpace(t.ObjectID)
		if t.ContentType == "" || t.ObjectID == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ContentType != out[j].ContentType {
			return out[i].ContentType < out[j].ContentType
		}
		return out[i].ObjectID < out[j].ObjectID
	})
	return out
}

// TargetsOf returns the targets stored on a record, in stored order.
func TargetsOf(record *models.TransactionRecord) []Target {
	rows := append([]models.TransactionTarget(nil), record.Targets...)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Position < rows[j].Position })
	out := make([]Target, 0, len(rows))
	for _, row := range rows {
		out = append(out, Target{ContentType: row.ContentType, ObjectID: row.ObjectID})
	}
	return out
}

// Loader resolves a target to the object it references.
type Loader func(ctx context.Context, db *gorm.DB, objectID string) (any, error)

// TargetRegistry maps content types to loaders.
type TargetRegistry struct {
	mu      sync.RWMutex
	loaders map[string]Loader
}

// NewTargetRegistry returns a registry preloaded with the built-in model loaders.
func NewTargetRegistry() *TargetRegistry {
	r := &TargetRegistry{loaders: map[string]Loader{}}
	r.Register(TargetInvoice, modelLoader[models.Invoice]())
	r.Register(TargetDeliverable, modelLoader[models.Deliverable]())
	r.Register(TargetSubscription, modelLoader[models.Subscription]())
	return r
}

// Register installs or replaces the loader for contentType.
func (r *TargetRegistry) Register(contentType string, loader Loader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders[contentType] = loader
}

// Known reports whether contentType has a loader.
func (r *TargetRegistry) Known(contentType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.loaders[contentType]
	return ok
}

// Load resolves target through its registered loader.
func (r *TargetRegistry) Load(ctx context.Context, db *gorm.DB, target Target) (any, error) {
	r.mu.RLock()
	loader, ok := r.loaders[target.ContentType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no loader registered for content type %q", target.ContentType)
	}
	return loader(ctx, db, target.ObjectID)
}

func modelLoader[T any]() Loader {
	return func(ctx context.Context, db *gorm.DB, objectID string) (any, error) {
		id, err := uuid.Parse(objectID)
		if err != nil {
			return nil, fmt.Errorf("invalid object id %q: %w", objectID, err)
		}
		var out T
		if err := db.WithContext(ctx).Where("id = ?", id).Take(&out).Error; err != nil {
			return nil, err
		}
		return &out, nil
	}
}
