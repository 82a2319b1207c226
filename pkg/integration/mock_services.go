package integration

import (
	"context"
	"sync"

	"github.com/gmaisuradze-adm/it-asset-management-sub001/pkg/models"
)

// MockServices implements every collaborator contract with in-memory state,
// mirroring how the storage package exposes its mock store. Tests and
// examples seed it directly.
type MockServices struct {
	mu           sync.Mutex
	Assets       map[int64]models.Asset
	Requests     map[int64]models.Request
	Parts        map[string][]models.InventoryItem // category -> needed parts
	Stock        map[int64]int                     // item id -> in stock
	Locations    map[int64]models.Location
	Procurements map[int64]models.ProcurementRequest
	Movements    []models.AssetMovement
	AuditTrail   []AuditEntry
	nextProcID   int64
}

func NewMockServices() *MockServices {
	return &MockServices{
		Assets:       make(map[int64]models.Asset),
		Requests:     make(map[int64]models.Request),
		Parts:        make(map[string][]models.InventoryItem),
		Stock:        make(map[int64]int),
		Locations:    make(map[int64]models.Location),
		Procurements: make(map[int64]models.ProcurementRequest),
	}
}

func (m *MockServices) GetByID(ctx context.Context, id int64) (models.Asset, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.Assets[id]
	return a, ok, nil
}

func (m *MockServices) UpdateStatus(ctx context.Context, id int64, status models.AssetStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.Assets[id]
	a.Status = status
	m.Assets[id] = a
	return nil
}

func (m *MockServices) UpdateLocation(ctx context.Context, id int64, locationID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.Assets[id]
	a.LocationID = locationID
	m.Assets[id] = a
	return nil
}

func (m *MockServices) FindAvailableByCategory(ctx context.Context, category string) (models.Asset, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// First match by ascending id for deterministic tests.
	var best models.Asset
	found := false
	for _, a := range m.Assets {
		if a.Category == category && a.Status == models.AvailableAssetStatus {
			if !found || a.ID < best.ID {
				best = a
				found = true
			}
		}
	}
	return best, found, nil
}

func (m *MockServices) RecordMovement(ctx context.Context, mv models.AssetMovement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mv.ID = int64(len(m.Movements) + 1)
	m.Movements = append(m.Movements, mv)
	return nil
}

// requestService view

type mockRequestService struct{ m *MockServices }

func (m *MockServices) RequestService() RequestService { return &mockRequestService{m} }

func (r *mockRequestService) GetByID(ctx context.Context, id int64) (models.Request, bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	req, ok := r.m.Requests[id]
	return req, ok, nil
}

func (r *mockRequestService) UpdateStatus(ctx context.Context, id int64, status models.RequestStatus) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	req := r.m.Requests[id]
	req.Status = status
	r.m.Requests[id] = req
	return nil
}

func (r *mockRequestService) AppendDescription(ctx context.Context, id int64, note string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	req := r.m.Requests[id]
	if req.Description != "" {
		req.Description += "\n"
	}
	req.Description += note
	r.m.Requests[id] = req
	return nil
}

// inventoryService view

type mockInventoryService struct{ m *MockServices }

func (m *MockServices) InventoryService() InventoryService { return &mockInventoryService{m} }

func (i *mockInventoryService) PartsForCategory(ctx context.Context, category string) ([]models.InventoryItem, error) {
	i.m.mu.Lock()
	defer i.m.mu.Unlock()
	return i.m.Parts[category], nil
}

func (i *mockInventoryService) CheckAvailability(ctx context.Context, itemID int64, quantity int) (bool, error) {
	i.m.mu.Lock()
	defer i.m.mu.Unlock()
	return i.m.Stock[itemID] >= quantity, nil
}

func (i *mockInventoryService) Reserve(ctx context.Context, itemID int64, quantity int) error {
	i.m.mu.Lock()
	defer i.m.mu.Unlock()
	i.m.Stock[itemID] -= quantity
	return nil
}

// procurementService view

type mockProcurementService struct{ m *MockServices }

func (m *MockServices) ProcurementService() ProcurementService { return &mockProcurementService{m} }

func (p *mockProcurementService) CreateFromRequest(ctx context.Context, pr models.ProcurementRequest) (int64, error) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	p.m.nextProcID++
	pr.ID = p.m.nextProcID
	p.m.Procurements[pr.ID] = pr
	return pr.ID, nil
}

// locationService view

type mockLocationService struct{ m *MockServices }

func (m *MockServices) LocationService() LocationService { return &mockLocationService{m} }

func (l *mockLocationService) GetByID(ctx context.Context, id int64) (models.Location, bool, error) {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	loc, ok := l.m.Locations[id]
	return loc, ok, nil
}

func (l *mockLocationService) FindByRole(ctx context.Context, role models.LocationRole) (models.Location, bool, error) {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	var best models.Location
	found := false
	for _, loc := range l.m.Locations {
		if loc.Role == role {
			if !found || loc.ID < best.ID {
				best = loc
				found = true
			}
		}
	}
	return best, found, nil
}

// audit view

type mockAuditLogger struct{ m *MockServices }

func (m *MockServices) AuditLogger() AuditLogger { return &mockAuditLogger{m} }

func (a *mockAuditLogger) Log(ctx context.Context, entry AuditEntry) error {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	a.m.AuditTrail = append(a.m.AuditTrail, entry)
	return nil
}
