package models

import "time"

// Shapes exchanged with the external asset-management CRUD services. The
// orchestration core never persists these itself; it reads and mutates them
// through the collaborator interfaces in pkg/integration.

type AssetStatus string

const (
	InUseAssetStatus            AssetStatus = "IN_USE"
	AvailableAssetStatus        AssetStatus = "AVAILABLE"
	UnderMaintenanceAssetStatus AssetStatus = "UNDER_MAINTENANCE"
	WrittenOffAssetStatus       AssetStatus = "WRITTEN_OFF"
)

type Asset struct {
	ID         int64       `json:"id"`
	Tag        string      `json:"tag"` // inventory tag printed on the device
	Name       string      `json:"name"`
	Category   string      `json:"category"` // e.g. "Laptop", "Printer", "Monitor"
	Status     AssetStatus `json:"status"`
	LocationID int64       `json:"location_id"`
	AssignedTo string      `json:"assigned_to,omitempty"`
}

// LocationRole tags a location with its function so placement decisions do
// not depend on room-name pattern matching.
type LocationRole string

const (
	GeneralLocationRole     LocationRole = "GENERAL"
	MaintenanceLocationRole LocationRole = "MAINTENANCE"
	ITLocationRole          LocationRole = "IT"
	StorageLocationRole     LocationRole = "STORAGE"
)

type Location struct {
	ID       int64        `json:"id"`
	Building string       `json:"building"`
	Room     string       `json:"room"`
	Role     LocationRole `json:"role"`
}

// AssetMovement records one relocation of an asset between locations.
type AssetMovement struct {
	ID             int64     `json:"id"`
	AssetID        int64     `json:"asset_id"`
	FromLocationID int64     `json:"from_location_id"`
	ToLocationID   int64     `json:"to_location_id"`
	Reason         string    `json:"reason"`
	MovedBy        string    `json:"moved_by"`
	MovedAt        time.Time `json:"moved_at"`
}

type RequestStatus string

const (
	SubmittedRequestStatus          RequestStatus = "SUBMITTED"
	InProgressRequestStatus         RequestStatus = "IN_PROGRESS"
	ProcurementPendingRequestStatus RequestStatus = "PROCUREMENT_PENDING"
	ReadyForCompletionRequestStatus RequestStatus = "READY_FOR_COMPLETION"
	CompletedRequestStatus          RequestStatus = "COMPLETED"
	CancelledRequestStatus          RequestStatus = "CANCELLED"
	RejectedRequestStatus           RequestStatus = "REJECTED"
)

// Terminal reports whether the request can no longer change state.
func (s RequestStatus) Terminal() bool {
	return s == CompletedRequestStatus || s == CancelledRequestStatus || s == RejectedRequestStatus
}

// Request is an IT service request (repair, replacement, provisioning).
type Request struct {
	ID          int64         `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	AssetID     int64         `json:"asset_id,omitempty"` // 0 when not asset-bound
	Status      RequestStatus `json:"status"`
	RequestedBy string        `json:"requested_by"`
	CreatedAt   time.Time     `json:"created_at"`
}

type ProcurementStatus string

const (
	DraftProcurementStatus     ProcurementStatus = "DRAFT"
	OrderedProcurementStatus   ProcurementStatus = "ORDERED"
	ReceivedProcurementStatus  ProcurementStatus = "RECEIVED"
	CancelledProcurementStatus ProcurementStatus = "CANCELLED"
)

// ProcurementRequest is a purchase request, optionally linked back to the
// originating service request.
type ProcurementRequest struct {
	ID              int64             `json:"id"`
	ItemName        string            `json:"item_name"`
	Quantity        int               `json:"quantity"`
	EstimatedCost   float64           `json:"estimated_cost"`
	Status          ProcurementStatus `json:"status"`
	SourceRequestID int64             `json:"source_request_id,omitempty"` // FK to Request
	CreatedBy       string            `json:"created_by"`
	CreatedAt       time.Time         `json:"created_at"`
}

// InventoryItem is a stocked spare part.
type InventoryItem struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Category string  `json:"category"` // matches Asset.Category it services
	InStock  int     `json:"in_stock"`
	UnitCost float64 `json:"unit_cost"`
}
