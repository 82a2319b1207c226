package integration

import (
	"context"

	"github.com/gmaisuradze-adm/it-asset-management-sub001/pkg/models"
)

// Logger defines the logging interface for the Coordinator.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// The orchestration core reaches the plain CRUD modules only through these
// narrow contracts. Lookups report absence with the ok flag and reserve the
// error for infrastructure faults.

type AssetService interface {
	GetByID(ctx context.Context, id int64) (models.Asset, bool, error)
	UpdateStatus(ctx context.Context, id int64, status models.AssetStatus) error
	UpdateLocation(ctx context.Context, id int64, locationID int64) error
	// FindAvailableByCategory returns the first available asset of the
	// category, if any. First match, no scoring.
	FindAvailableByCategory(ctx context.Context, category string) (models.Asset, bool, error)
	RecordMovement(ctx context.Context, m models.AssetMovement) error
}

type RequestService interface {
	GetByID(ctx context.Context, id int64) (models.Request, bool, error)
	UpdateStatus(ctx context.Context, id int64, status models.RequestStatus) error
	// AppendDescription adds a human-readable note to the request description.
	AppendDescription(ctx context.Context, id int64, note string) error
}

type InventoryService interface {
	// PartsForCategory returns the spare parts a repair of this asset
	// category consumes. An empty slice means the repair needs no parts.
	PartsForCategory(ctx context.Context, category string) ([]models.InventoryItem, error)
	CheckAvailability(ctx context.Context, itemID int64, quantity int) (bool, error)
	Reserve(ctx context.Context, itemID int64, quantity int) error
}

type ProcurementService interface {
	// CreateFromRequest stores a procurement request and returns its id.
	CreateFromRequest(ctx context.Context, pr models.ProcurementRequest) (int64, error)
}

type LocationService interface {
	GetByID(ctx context.Context, id int64) (models.Location, bool, error)
	// FindByRole returns the first location tagged with the role, if any.
	FindByRole(ctx context.Context, role models.LocationRole) (models.Location, bool, error)
}

// AuditEntry is one audit trail record.
type AuditEntry struct {
	Action      string
	EntityType  string
	EntityID    int64
	UserID      string
	Description string
	OldValue    string
	NewValue    string
}

// AuditLogger records auditable outcomes. Calls are fire-and-forget: the
// Coordinator logs failures and never lets them fail the primary operation.
type AuditLogger interface {
	Log(ctx context.Context, entry AuditEntry) error
}
