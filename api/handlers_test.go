/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Item create/get/update and validation failures
- Movements through the Executor and their error statuses
- Report JSON and xlsx export
- Seeding (JSON and multipart xlsx), at most once
- Projection search following the change feed
- Server-sent events
*/
package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gridmaster/spares-ledger/feed"
	"github.com/gridmaster/spares-ledger/inventory"
	"github.com/gridmaster/spares-ledger/inventory/store"
	"github.com/gridmaster/spares-ledger/sheet"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

type testEnv struct {
	handler *Handler
	router  http.Handler
	store   *store.TxMemory
	hub     *feed.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mem := store.NewTxMemory()
	hub := feed.NewHub()
	h := NewHandler(mem, hub, zap.NewNop())
	h.Events = hub
	h.Executor.RetryBackoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	events, unsubscribe := hub.Subscribe(256)
	go h.Projection.Run(ctx, events)
	t.Cleanup(func() {
		cancel()
		unsubscribe()
	})

	return &testEnv{handler: h, router: NewRouter(h, nil), store: mem, hub: hub}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (e *testEnv) createItem(t *testing.T, name, stock string) ItemDTO {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/items", ItemRequest{
		LegacyName:   name,
		Unit:         "No.",
		UnitRate:     "100",
		InitialStock: stock,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[ItemDTO](t, rec)
}

func (e *testEnv) move(t *testing.T, id, mtype, qty, date string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, http.MethodPost, "/api/items/"+id+"/movements", MovementRequest{
		Type:      mtype,
		Quantity:  qty,
		Date:      date,
		Reference: "test",
	})
}

// =============================================================================
// ITEMS
// =============================================================================

func TestCreateAndGetItem(t *testing.T) {
	// GIVEN: an empty store
	env := newTestEnv(t)

	// WHEN: an item is created with opening stock
	created := env.createItem(t, "Disc Insulator 70kN", "48")

	// THEN: it can be read back from the store
	rec := env.do(t, http.MethodGet, "/api/items/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[ItemDTO](t, rec)
	assert.Equal(t, "Disc Insulator 70kN", got.LegacyName)
	assert.Equal(t, "48", got.Quantity)
	assert.Equal(t, "48", got.InitialQuantity)
	assert.Equal(t, "4800", got.TotalValue)
}

func TestCreateItem_ValidationFailure(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/items", ItemRequest{Unit: "No.", UnitRate: "abc"})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "invalid_request", resp.Code)
	fields, ok := resp.Details.([]any)
	require.True(t, ok, "details should list failed fields")
	assert.Len(t, fields, 2)
}

func TestCreateItem_UnknownField(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/items", `{"legacy_name":"Fuse","unit":"No.","quantity":"5"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetItem_NotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/items/missing", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateItem_KeepsQuantity(t *testing.T) {
	// GIVEN: an item with stock
	env := newTestEnv(t)
	item := env.createItem(t, "Fuse 63A", "40")

	// WHEN: descriptive fields are replaced
	rec := env.do(t, http.MethodPut, "/api/items/"+item.ID, ItemRequest{
		LegacyName: "HRC Fuse 63A",
		Nickname:   "fuse",
		Unit:       "No.",
		UnitRate:   "95",
	})

	// THEN: the names change and the quantity does not
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decodeBody[ItemDTO](t, rec)
	assert.Equal(t, "HRC Fuse 63A", got.LegacyName)
	assert.Equal(t, "fuse", got.Nickname)
	assert.Equal(t, "40", got.Quantity)

	// AND: initial stock cannot be edited this way
	rec = env.do(t, http.MethodPut, "/api/items/"+item.ID, ItemRequest{LegacyName: "x", Unit: "No.", InitialStock: "99"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListItems_FollowsChangeFeed(t *testing.T) {
	// GIVEN: items created through the API
	env := newTestEnv(t)
	oil := env.createItem(t, "Transformer Oil", "860")
	env.createItem(t, "Silica Gel", "25")

	// THEN: the projection picks them up from the feed
	assert.Eventually(t, func() bool {
		rec := env.do(t, http.MethodGet, "/api/items?q=oil", nil)
		items := decodeBody[[]ItemDTO](t, rec)
		return len(items) == 1 && items[0].ID == oil.ID
	}, 2*time.Second, 10*time.Millisecond)

	// WHEN: stock moves
	require.Equal(t, http.StatusCreated, env.move(t, oil.ID, "ISSUE", "60", "").Code)

	// THEN: the projected quantity follows
	assert.Eventually(t, func() bool {
		items := decodeBody[[]ItemDTO](t, env.do(t, http.MethodGet, "/api/items?q=oil", nil))
		return len(items) == 1 && items[0].Quantity == "800"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestListItems_BadLowStockFlag(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/items?low_stock=maybe", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// MOVEMENTS
// =============================================================================

func TestPostMovement_Receive(t *testing.T) {
	// GIVEN: an item with 10 on hand
	env := newTestEnv(t)
	item := env.createItem(t, "Transformer Oil", "10")

	// WHEN: 100 are received
	rec := env.move(t, item.ID, "RECEIVE", "100", "2025-10-03")

	// THEN: the entry reports the new quantity and the item agrees
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	entry := decodeBody[EntryDTO](t, rec)
	assert.Equal(t, "RECEIVE", entry.Type)
	assert.Equal(t, "110", entry.QuantityAfter)
	assert.True(t, strings.HasPrefix(entry.Date, "2025-10-03"))

	got := decodeBody[ItemDTO](t, env.do(t, http.MethodGet, "/api/items/"+item.ID, nil))
	assert.Equal(t, "110", got.Quantity)
}

func TestPostMovement_InsufficientStock(t *testing.T) {
	// GIVEN: 5 on hand
	env := newTestEnv(t)
	item := env.createItem(t, "Lightning Arrester", "5")

	// WHEN: 6 are issued
	rec := env.move(t, item.ID, "ISSUE", "6", "")

	// THEN: 409 carries what is available and nothing changed
	require.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "insufficient_stock", resp.Code)
	details, ok := resp.Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "5", details["available"])
	assert.Equal(t, "6", details["requested"])

	got := decodeBody[ItemDTO](t, env.do(t, http.MethodGet, "/api/items/"+item.ID, nil))
	assert.Equal(t, "5", got.Quantity)
}

func TestPostMovement_ClientErrors(t *testing.T) {
	env := newTestEnv(t)
	item := env.createItem(t, "Nut Bolt M16", "500")

	tests := []struct {
		name   string
		id     string
		body   any
		status int
	}{
		{"unknown type", item.ID, MovementRequest{Type: "TRANSFER", Quantity: "1"}, http.StatusBadRequest},
		{"zero quantity", item.ID, MovementRequest{Type: "ISSUE", Quantity: "0"}, http.StatusBadRequest},
		{"negative quantity", item.ID, MovementRequest{Type: "RECEIVE", Quantity: "-3"}, http.StatusBadRequest},
		{"not a number", item.ID, MovementRequest{Type: "RECEIVE", Quantity: "ten"}, http.StatusBadRequest},
		{"bad date", item.ID, MovementRequest{Type: "RECEIVE", Quantity: "1", Date: "03/10/2025"}, http.StatusBadRequest},
		{"missing item", "nope", MovementRequest{Type: "RECEIVE", Quantity: "1"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/items/"+tt.id+"/movements", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	got := decodeBody[ItemDTO](t, env.do(t, http.MethodGet, "/api/items/"+item.ID, nil))
	assert.Equal(t, "500", got.Quantity)
}

func TestPostMovement_ActorHeader(t *testing.T) {
	env := newTestEnv(t)
	item := env.createItem(t, "PVC Tape", "150")

	rec := env.do(t, http.MethodPost, "/api/items/"+item.ID+"/movements",
		MovementRequest{Type: "ISSUE", Quantity: "10"}, "X-Actor", "storekeeper-2")

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "storekeeper-2", decodeBody[EntryDTO](t, rec).Actor)
}

// busyStore never wins the unit of work.
type busyStore struct {
	*store.TxMemory
}

func (busyStore) WithTx(context.Context, func(inventory.UnitOfWork) error) error {
	return inventory.ErrConcurrencyConflict
}

func TestPostMovement_ConflictAfterRetries(t *testing.T) {
	// GIVEN: a store that always reports a lost race
	mem := store.NewTxMemory()
	h := NewHandler(busyStore{mem}, nil, nil)
	h.Executor.MaxAttempts = 2
	h.Executor.RetryBackoff = time.Millisecond
	router := NewRouter(h, nil)

	item, err := h.Catalog.Create(context.Background(), inventory.ItemDetails{LegacyName: "Fuse", Unit: "No."}, decimal.RequireFromString("5"))
	require.NoError(t, err)

	// WHEN
	body, _ := json.Marshal(MovementRequest{Type: "ISSUE", Quantity: "1"})
	req := httptest.NewRequest(http.MethodPost, "/api/items/"+string(item.ID)+"/movements", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	// THEN: 503 with a retry hint
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestItemEntriesAndVerify(t *testing.T) {
	env := newTestEnv(t)
	item := env.createItem(t, "Earthing Rod", "30")
	require.Equal(t, http.StatusCreated, env.move(t, item.ID, "ISSUE", "4", "2025-10-20").Code)
	require.Equal(t, http.StatusCreated, env.move(t, item.ID, "RECEIVE", "10", "2025-10-03").Code)

	rec := env.do(t, http.MethodGet, "/api/items/"+item.ID+"/entries", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decodeBody[[]EntryDTO](t, rec)
	require.Len(t, entries, 2)
	assert.Equal(t, "RECEIVE", entries[0].Type, "ordered by effective date")

	rec = env.do(t, http.MethodGet, "/api/items/"+item.ID+"/verify", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	check := decodeBody[FoldCheckDTO](t, rec)
	assert.True(t, check.Consistent)
	assert.Equal(t, "36", check.Actual)
	assert.Equal(t, "0", check.Drift)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/items/missing/entries", nil).Code)
}

func TestListEntries_Range(t *testing.T) {
	env := newTestEnv(t)
	a := env.createItem(t, "A", "100")
	b := env.createItem(t, "B", "100")
	env.move(t, a.ID, "ISSUE", "1", "2025-09-30")
	env.move(t, b.ID, "ISSUE", "2", "2025-10-01")
	env.move(t, a.ID, "ISSUE", "3", "2025-10-31")
	env.move(t, b.ID, "ISSUE", "4", "2025-11-01")

	rec := env.do(t, http.MethodGet, "/api/entries?from=2025-10-01&to=2025-10-31", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	entries := decodeBody[[]EntryDTO](t, rec)
	require.Len(t, entries, 2)
	assert.Equal(t, "2", entries[0].Quantity)
	assert.Equal(t, "3", entries[1].Quantity)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/entries?from=2025-10-01", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/entries?from=2025-10-31&to=2025-10-01", nil).Code)
}

// =============================================================================
// REPORTS
// =============================================================================

func TestGetReport_Month(t *testing.T) {
	// GIVEN: 10 on hand, October receipt of 100 and issue of 4
	env := newTestEnv(t)
	item := env.createItem(t, "Transformer Oil", "10")
	require.Equal(t, http.StatusCreated, env.move(t, item.ID, "RECEIVE", "100", "2025-10-03").Code)
	require.Equal(t, http.StatusCreated, env.move(t, item.ID, "ISSUE", "4", "2025-10-20").Code)

	// WHEN
	rec := env.do(t, http.MethodGet, "/api/reports?month=2025-10", nil)

	// THEN: opening 10, closing 106
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decodeBody[ReportDTO](t, rec)
	assert.Equal(t, "2025-10-01", report.PeriodStart)
	assert.Equal(t, "2025-10-31", report.PeriodEnd)
	require.Len(t, report.Rows, 1)
	row := report.Rows[0]
	assert.Equal(t, "10", row.OpeningBalance)
	assert.Equal(t, "106", row.ClosingBalance)
	assert.Equal(t, "100", row.TotalReceived)
	assert.Equal(t, "4", row.TotalIssued)
	require.Len(t, row.Receipts, 1)
	assert.Equal(t, "2025-10-03", row.Receipts[0].Date)
}

func TestGetReport_InvalidPeriod(t *testing.T) {
	env := newTestEnv(t)

	for _, q := range []string{"month=October", "from=2025-10-31&to=2025-10-01", "to=2025-10-01"} {
		rec := env.do(t, http.MethodGet, "/api/reports?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestExportReport_Workbook(t *testing.T) {
	env := newTestEnv(t)
	item := env.createItem(t, "Silica Gel", "25")
	env.move(t, item.ID, "ISSUE", "4.5", "2025-10-09")

	rec := env.do(t, http.MethodGet, "/api/reports/export?month=2025-10", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, sheet.MIMEType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "MAS-2025-10.xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(sheet.SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, sheet.Columns, rows[0][:len(sheet.Columns)])
	assert.Equal(t, "Silica Gel", rows[1][1])
	assert.Equal(t, "09-10-2025", rows[1][7])
}

func TestListReportRuns_Empty(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/reports/runs", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]ReportRunDTO](t, rec))
}

// =============================================================================
// SEEDING
// =============================================================================

func TestSeed_JSONOnce(t *testing.T) {
	// GIVEN: an empty store
	env := newTestEnv(t)
	req := SeedRequest{Items: []ItemRequest{
		{LegacyName: "ACSR Dog Conductor", Unit: "Mtr", InitialStock: "1200", UnitRate: "185.50"},
		{LegacyName: "Disc Insulator", Unit: "No.", InitialStock: "48"},
	}}

	// WHEN: seeding twice
	first := env.do(t, http.MethodPost, "/api/seed", req)
	second := env.do(t, http.MethodPost, "/api/seed", req)

	// THEN: only the first run writes
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	assert.Equal(t, 2, decodeBody[SeedResponse](t, first).Seeded)
	assert.Equal(t, http.StatusConflict, second.Code)
	assert.Equal(t, "already_seeded", decodeBody[ErrorResponse](t, second).Code)

	items, err := env.store.ListItems(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestSeed_EmptyList(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/seed", SeedRequest{})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSeed_MasterSheetUpload(t *testing.T) {
	// GIVEN: a master sheet workbook
	env := newTestEnv(t)
	wb := excelize.NewFile()
	require.NoError(t, wb.SetSheetRow("Sheet1", "A1", &[]any{"S.N.", "Name of Materials", "Unit", "Quantity", "Unit Rate"}))
	require.NoError(t, wb.SetSheetRow("Sheet1", "A2", &[]any{1, "Transformer Oil", "Ltr", "860", "210"}))
	require.NoError(t, wb.SetSheetRow("Sheet1", "A3", &[]any{2, "Silica Gel", "Kg", "25", "640"}))
	xlsx, err := wb.WriteToBuffer()
	require.NoError(t, err)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "master.xlsx")
	require.NoError(t, err)
	_, err = part.Write(xlsx.Bytes())
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	// WHEN: uploading it
	req := httptest.NewRequest(http.MethodPost, "/api/seed", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	// THEN: items are seeded in sheet order
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 2, decodeBody[SeedResponse](t, rec).Seeded)

	assert.Eventually(t, func() bool {
		items := decodeBody[[]ItemDTO](t, env.do(t, http.MethodGet, "/api/items", nil))
		return len(items) == 2 && items[0].LegacyName == "Transformer Oil" && items[1].Quantity == "25"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSeed_UnreadableUpload(t *testing.T) {
	env := newTestEnv(t)
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "master.xlsx")
	require.NoError(t, err)
	part.Write([]byte("not a workbook"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/seed", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestLoadScenario_SubstationStore(t *testing.T) {
	// GIVEN: an empty store
	env := newTestEnv(t)

	// WHEN: the demo is loaded
	rec := env.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "substation-store"})

	// THEN: the October report reflects the demo traffic
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decodeBody[LoadScenarioResponse](t, rec)
	assert.Equal(t, 12, resp.Items)

	report := decodeBody[ReportDTO](t, env.do(t, http.MethodGet, "/api/reports?month=2025-10", nil))
	require.Len(t, report.Rows, 12)
	fuse := report.Rows[4]
	assert.Equal(t, "HRC Fuse 63A", fuse.Name)
	assert.Equal(t, "40", fuse.OpeningBalance)
	assert.Equal(t, "80", fuse.ClosingBalance)

	// AND: a second load is refused
	rec = env.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "low-stock"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLoadScenario_Unknown(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, decodeBody[[]ScenarioDTO](t, env.do(t, http.MethodGet, "/api/scenarios", nil)), len(scenarios))
}

// =============================================================================
// LIVE EVENTS
// =============================================================================

func TestStreamEvents(t *testing.T) {
	// GIVEN: a subscribed client
	env := newTestEnv(t)
	item := env.createItem(t, "Breaker Spring", "3")
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	require.True(t, lines.Scan())
	require.Equal(t, ": connected", lines.Text())

	// WHEN: stock moves
	require.Equal(t, http.StatusCreated, env.move(t, item.ID, "ISSUE", "1", "").Code)

	// THEN: the change arrives as an event
	for lines.Scan() {
		if strings.HasPrefix(lines.Text(), "event: ") {
			assert.Equal(t, "event: "+string(feed.KindQuantityChanged), lines.Text())
			require.True(t, lines.Scan())
			assert.Contains(t, lines.Text(), item.ID)
			return
		}
	}
	t.Fatal("stream ended without an event")
}

func TestStreamEvents_Disabled(t *testing.T) {
	h := NewHandler(store.NewTxMemory(), nil, nil)

	rec := httptest.NewRecorder()
	NewRouter(h, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}
