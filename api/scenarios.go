/*
scenarios.go - Demo data loaders for demonstrations and local runs

PURPOSE:

	Provides pre-built store-room histories so the UI and the MAS export can
	be shown without the real master sheet. Each scenario is a master list
	plus a sequence of movements posted through the Executor, exactly as an
	operator would post them.

AVAILABLE SCENARIOS:

	substation-store: A dozen common spares with one month of traffic
	backdated-entry:  Late paperwork posted after the month closed
	low-stock:        Items driven below their minimum stock

HOW SCENARIOS WORK:
 1. Seed the master list (fails if the store was already seeded)
 2. Post each movement through the Executor, in order
 3. The change feed updates the projection like any other write

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "substation-store"}

NOTE:

	The ledger is append-only, so there is no reset. Load a scenario into
	an empty store (STORE_DRIVER=memory is the easy way).

SEE ALSO:
  - handlers.go: Seed, PostMovement
  - inventory/seed.go: Seeder
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gridmaster/spares-ledger/inventory"
	"github.com/shopspring/decimal"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

// ScenarioDTO describes a loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// LoadScenarioResponse summarizes what a scenario wrote.
type LoadScenarioResponse struct {
	ScenarioID string `json:"scenario_id"`
	Items      int    `json:"items"`
	Movements  int    `json:"movements"`
}

// demoMovement references its item by position in the master list.
type demoMovement struct {
	row       int
	mtype     inventory.MovementType
	qty       string
	date      string
	reference string
}

type scenario struct {
	ScenarioDTO
	master    []inventory.SeedItem
	movements []demoMovement
}

func spare(name, unit, stock, rate string) inventory.SeedItem {
	return inventory.SeedItem{
		Details: inventory.ItemDetails{
			LegacyName: name,
			Unit:       unit,
			UnitRate:   decimal.RequireFromString(rate),
		},
		InitialStock: decimal.RequireFromString(stock),
	}
}

func withMin(item inventory.SeedItem, min string) inventory.SeedItem {
	item.Details.MinStock = decimal.RequireFromString(min)
	return item
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "substation-store",
			Name:        "Substation Store",
			Description: "Common spares with one month of receipts and issues",
		},
		master: []inventory.SeedItem{
			spare("ACSR Dog Conductor", "Mtr", "1200", "185.50"),
			spare("Disc Insulator 70kN", "No.", "48", "1450"),
			spare("Transformer Oil", "Ltr", "860", "210"),
			spare("Silica Gel", "Kg", "25", "640"),
			spare("HRC Fuse 63A", "No.", "40", "95"),
			spare("Lightning Arrester 10kA", "No.", "6", "8200"),
			spare("Earthing Rod 3m", "No.", "30", "1100"),
			spare("PVC Tape", "Roll", "150", "45"),
			spare("Battery Charger Card", "Set", "2", "23500"),
			spare("CT Secondary Cable 4C", "Mtr", "300", "320"),
			spare("Nut Bolt M16", "Set", "500", "38"),
			spare("Breaker Spring Assembly", "Set", "3", "18750"),
		},
		movements: []demoMovement{
			{row: 2, mtype: inventory.MovementReceive, qty: "420", date: "2025-10-03", reference: "Challan 1187 / Nepal Lubricants"},
			{row: 0, mtype: inventory.MovementIssue, qty: "250", date: "2025-10-05", reference: "Feeder 4 restringing"},
			{row: 1, mtype: inventory.MovementIssue, qty: "12", date: "2025-10-05", reference: "Bay 2 string replacement"},
			{row: 3, mtype: inventory.MovementIssue, qty: "4.5", date: "2025-10-09", reference: "Power transformer breather"},
			{row: 4, mtype: inventory.MovementIssue, qty: "10", date: "2025-10-12", reference: "Indent 52"},
			{row: 4, mtype: inventory.MovementReceive, qty: "50", date: "2025-10-18", reference: "Challan 1204 / Central Store"},
			{row: 2, mtype: inventory.MovementIssue, qty: "300", date: "2025-10-20", reference: "T2 top-up"},
			{row: 10, mtype: inventory.MovementIssue, qty: "120", date: "2025-10-22", reference: "Gantry maintenance"},
			{row: 5, mtype: inventory.MovementIssue, qty: "2", date: "2025-10-27", reference: "Line bay LA replacement"},
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "backdated-entry",
			Name:        "Backdated Entry",
			Description: "A September issue posted in November after October traffic",
		},
		master: []inventory.SeedItem{
			spare("Disc Insulator 70kN", "No.", "60", "1450"),
			spare("Transformer Oil", "Ltr", "500", "210"),
		},
		movements: []demoMovement{
			{row: 0, mtype: inventory.MovementReceive, qty: "24", date: "2025-10-03", reference: "Challan 1190"},
			{row: 0, mtype: inventory.MovementIssue, qty: "18", date: "2025-10-21", reference: "Bay 5 string replacement"},
			{row: 1, mtype: inventory.MovementIssue, qty: "120", date: "2025-10-25", reference: "T1 filtration"},
			{row: 0, mtype: inventory.MovementIssue, qty: "6", date: "2025-09-28", reference: "Late indent 47"},
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "low-stock",
			Name:        "Low Stock",
			Description: "Critical spares issued down to their minimum level",
		},
		master: []inventory.SeedItem{
			withMin(spare("HRC Fuse 63A", "No.", "20", "95"), "10"),
			withMin(spare("Battery Charger Card", "Set", "2", "23500"), "1"),
			withMin(spare("Silica Gel", "Kg", "25", "640"), "5"),
		},
		movements: []demoMovement{
			{row: 0, mtype: inventory.MovementIssue, qty: "12", date: "2025-10-04", reference: "Indent 61"},
			{row: 1, mtype: inventory.MovementIssue, qty: "1", date: "2025-10-11", reference: "Charger 2 failure"},
			{row: 2, mtype: inventory.MovementIssue, qty: "3", date: "2025-10-15", reference: "Breather refill"},
		},
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns the available demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// LoadScenario seeds a demo master list and posts its movements.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeRequest(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	s, ok := findScenario(req.ScenarioID)
	if !ok {
		h.writeDomainError(w, r, &requestError{msg: fmt.Sprintf("unknown scenario %q", req.ScenarioID)})
		return
	}

	resp, err := h.loadScenario(r.Context(), s)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) loadScenario(ctx context.Context, s scenario) (*LoadScenarioResponse, error) {
	items, err := h.Seeder.Seed(ctx, s.master)
	if err != nil {
		return nil, err
	}

	for i, dm := range s.movements {
		date, err := time.ParseInLocation(DateLayout, dm.date, h.loc())
		if err != nil {
			return nil, fmt.Errorf("scenario %s movement %d: %w", s.ID, i+1, err)
		}
		m := inventory.Movement{
			ItemID:    items[dm.row].ID,
			Type:      dm.mtype,
			Quantity:  decimal.RequireFromString(dm.qty),
			Reference: dm.reference,
			Date:      date,
			Actor:     "demo",
		}
		if _, err := h.Executor.Execute(ctx, m); err != nil {
			return nil, fmt.Errorf("scenario %s movement %d: %w", s.ID, i+1, err)
		}
	}

	return &LoadScenarioResponse{ScenarioID: s.ID, Items: len(items), Movements: len(s.movements)}, nil
}
