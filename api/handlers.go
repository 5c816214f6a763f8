/*
handlers.go - HTTP API handlers for the spares ledger

PURPOSE:
  Exposes the inventory engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the inventory package.

ENDPOINTS:
  Items:
    GET    /api/items?q=&low_stock=      Search the projection
    POST   /api/items                    Create item
    GET    /api/items/{id}               Get item (from the store)
    PUT    /api/items/{id}               Replace descriptive fields
    GET    /api/items/{id}/entries       Ledger history of one item
    GET    /api/items/{id}/verify        Fold invariant check

  Movements:
    POST   /api/items/{id}/movements     RECEIVE or ISSUE (Executor)
    GET    /api/entries?from=&to=        Register for a date range

  Reports:
    GET    /api/reports?month=YYYY-MM    Statement as JSON
    GET    /api/reports?from=&to=        Statement for a custom window
    GET    /api/reports/export?...       Statement as MAS .xlsx
    GET    /api/reports/runs             Archived scheduled runs

  Seeding:
    POST   /api/seed                     JSON list or multipart xlsx upload

  Live:
    GET    /api/events                   Server-sent change events

REQUEST FLOW:
  1. Parse HTTP request (decodeRequest validates the body)
  2. Call the inventory package
  3. Serialize response
  4. Map errors through writeDomainError

ERROR HANDLING:
  - 400: Validation errors, invalid quantity/type/period/item
  - 404: Item not found
  - 409: Insufficient stock (details carry available), already seeded
  - 503: Concurrency conflict after retries
  - 500: Internal errors (logged)

ACTOR:
  The X-Actor header names the operator when the body does not.

SECURITY NOTE:
  No authentication or authorization. Deploy behind the substation
  network boundary.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gridmaster/spares-ledger/feed"
	"github.com/gridmaster/spares-ledger/inventory"
	"github.com/gridmaster/spares-ledger/sheet"
	"go.uber.org/zap"
)

// maxUpload bounds the master sheet upload.
const maxUpload = 16 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is everything the API needs from a backend.
type Store interface {
	inventory.TxStore
	inventory.ReportRunStore
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      Store
	Executor   *inventory.Executor
	Engine     *inventory.ReconciliationEngine
	Catalog    *inventory.Catalog
	Seeder     *inventory.Seeder
	Projection *inventory.Projection

	// Events serves /api/events. Nil disables the endpoint.
	Events *feed.Hub

	// Location interprets calendar dates and months. Nil means UTC.
	Location *time.Location
	Logger   *zap.Logger
}

// NewHandler wires the inventory services over one store. Every write
// publishes to publisher.
func NewHandler(store Store, publisher feed.Publisher, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = feed.Nop{}
	}

	exec := inventory.NewExecutor(store)
	exec.Publisher = publisher
	exec.Logger = logger.Named("executor")

	engine := inventory.NewReconciliationEngine(store)
	engine.Logger = logger.Named("reconcile")

	catalog := inventory.NewCatalog(store)
	catalog.Publisher = publisher
	catalog.Logger = logger.Named("catalog")

	seeder := inventory.NewSeeder(store)
	seeder.Publisher = publisher
	seeder.Logger = logger.Named("seed")

	return &Handler{
		Store:      store,
		Executor:   exec,
		Engine:     engine,
		Catalog:    catalog,
		Seeder:     seeder,
		Projection: inventory.NewProjection(store, logger.Named("projection")),
		Location:   time.UTC,
		Logger:     logger,
	}
}

func (h *Handler) loc() *time.Location {
	if h.Location == nil {
		return time.UTC
	}
	return h.Location
}

// =============================================================================
// ITEM HANDLERS
// =============================================================================

// ListItems searches the projection.
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	f := inventory.Filter{Query: r.URL.Query().Get("q")}
	if raw := r.URL.Query().Get("low_stock"); raw != "" {
		low, err := strconv.ParseBool(raw)
		if err != nil {
			h.writeDomainError(w, r, &requestError{msg: "low_stock must be true or false", err: err})
			return
		}
		f.LowStockOnly = low
	}

	items := h.Projection.Search(f)
	dtos := make([]ItemDTO, len(items))
	for i, item := range items {
		dtos[i] = toItemDTO(item)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetItem returns one item as currently stored.
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.Store.GetItem(r.Context(), itemID(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(*item))
}

// CreateItem adds an item outside the seed, with optional opening stock.
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req ItemRequest
	if err := decodeRequest(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	item, err := h.Catalog.Create(r.Context(), req.Details(), decimalOrZero(req.InitialStock))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemDTO(*item))
}

// UpdateItem replaces the descriptive fields of an item. Quantity is not
// editable here.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var req ItemRequest
	if err := decodeRequest(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if req.InitialStock != "" {
		h.writeDomainError(w, r, &requestError{msg: "initial_stock cannot be changed; post a movement instead"})
		return
	}

	item, err := h.Catalog.UpdateDetails(r.Context(), itemID(r), req.Details())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(*item))
}

// GetItemEntries returns the ledger history of one item.
func (h *Handler) GetItemEntries(w http.ResponseWriter, r *http.Request) {
	id := itemID(r)
	if _, err := h.Store.GetItem(r.Context(), id); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	entries, err := h.Store.Entries(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

// VerifyItem recomputes the fold invariant for one item.
func (h *Handler) VerifyItem(w http.ResponseWriter, r *http.Request) {
	check, err := h.Engine.VerifyItem(r.Context(), itemID(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFoldCheckDTO(check))
}

// =============================================================================
// MOVEMENT HANDLERS
// =============================================================================

// PostMovement records one RECEIVE or ISSUE through the Executor.
func (h *Handler) PostMovement(w http.ResponseWriter, r *http.Request) {
	var req MovementRequest
	if err := decodeRequest(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	mtype, err := inventory.ParseMovementType(req.Type)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	qty, err := inventory.ParseQuantity(req.Quantity)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	m := inventory.Movement{
		ItemID:    itemID(r),
		Type:      mtype,
		Quantity:  qty,
		Reference: req.Reference,
		Remarks:   req.Remarks,
		Actor:     req.Actor,
	}
	if m.Actor == "" {
		m.Actor = r.Header.Get("X-Actor")
	}
	if req.Date != "" {
		if m.Date, err = parseDate(req.Date, h.loc()); err != nil {
			h.writeDomainError(w, r, &requestError{msg: "invalid date", err: err})
			return
		}
	}

	entry, err := h.Executor.Execute(r.Context(), m)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(*entry))
}

// ListEntries returns the register of every item for a date range.
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	period, err := h.periodFromQuery(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	entries, err := h.Store.EntriesInRange(r.Context(), period.Start, period.End)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// GetReport returns the statement as JSON.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	report, ok := h.generate(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(report))
}

// ExportReport streams the statement as a MAS workbook.
func (h *Handler) ExportReport(w http.ResponseWriter, r *http.Request) {
	report, ok := h.generate(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", sheet.MIMEType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", sheet.FileName(report.Period)))
	w.WriteHeader(http.StatusOK)
	if err := sheet.WriteReport(w, report); err != nil {
		// headers are gone; all we can do is log
		h.Logger.Error("write report workbook", zap.String("period", report.Period.String()), zap.Error(err))
	}
}

// ListReportRuns returns archived scheduled runs, newest first.
func (h *Handler) ListReportRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Store.ListReportRuns(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]ReportRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toReportRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request) (*inventory.Report, bool) {
	period, err := h.periodFromQuery(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return nil, false
	}
	report, err := h.Engine.GenerateReport(r.Context(), period)
	if err != nil {
		h.writeDomainError(w, r, err)
		return nil, false
	}
	return report, true
}

// periodFromQuery reads ?month=YYYY-MM or ?from=&to= (inclusive days).
// With neither, it is the current month.
func (h *Handler) periodFromQuery(r *http.Request) (inventory.Period, error) {
	q := r.URL.Query()
	loc := h.loc()

	if month := q.Get("month"); month != "" {
		return inventory.ParseMonth(month, loc)
	}

	from, to := q.Get("from"), q.Get("to")
	if from == "" && to == "" {
		now := time.Now().In(loc)
		return inventory.MonthPeriod(now.Year(), now.Month(), loc), nil
	}
	if from == "" || to == "" {
		return inventory.Period{}, fmt.Errorf("%w: from and to must be given together", inventory.ErrInvalidPeriod)
	}

	start, err := time.ParseInLocation(DateLayout, from, loc)
	if err != nil {
		return inventory.Period{}, fmt.Errorf("%w: from %q must be YYYY-MM-DD", inventory.ErrInvalidPeriod, from)
	}
	end, err := time.ParseInLocation(DateLayout, to, loc)
	if err != nil {
		return inventory.Period{}, fmt.Errorf("%w: to %q must be YYYY-MM-DD", inventory.ErrInvalidPeriod, to)
	}
	period := inventory.DayRange(start, end, loc)
	if err := period.Validate(); err != nil {
		return inventory.Period{}, fmt.Errorf("%w: %s", err, period)
	}
	return period, nil
}

// =============================================================================
// SEED HANDLER
// =============================================================================

// Seed performs the one-time import from a JSON list or an uploaded master
// sheet (multipart field "file").
func (h *Handler) Seed(w http.ResponseWriter, r *http.Request) {
	var rows []inventory.SeedItem

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUpload); err != nil {
			h.writeDomainError(w, r, &requestError{msg: "invalid upload", err: err})
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			h.writeDomainError(w, r, &requestError{msg: "missing file field", err: err})
			return
		}
		defer file.Close()

		rows, err = sheet.ReadMasterSheet(file)
		if err != nil {
			h.writeDomainError(w, r, &requestError{msg: "unreadable master sheet", err: err})
			return
		}
	} else {
		var req SeedRequest
		if err := decodeRequest(r, &req); err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		rows = req.SeedItems()
	}

	items, err := h.Seeder.Seed(r.Context(), rows)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, SeedResponse{Seeded: len(items)})
}

// =============================================================================
// LIVE EVENTS
// =============================================================================

// StreamEvents relays change events as server-sent events until the client
// goes away.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	if h.Events == nil {
		writeError(w, http.StatusNotFound, "live feed disabled", "not_found", nil)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported", "internal", nil)
		return
	}

	events, cancel := h.Events.Subscribe(64)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.Logger.Warn("encode change event", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
			flusher.Flush()
		}
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func itemID(r *http.Request) inventory.ItemID {
	return inventory.ItemID(chi.URLParam(r, "id"))
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message, code string, details any) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}

// writeDomainError maps inventory errors onto HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		reqErr *requestError
		short  *inventory.InsufficientStockError
	)
	switch {
	case errors.As(err, &reqErr):
		var details any
		if len(reqErr.fields) > 0 {
			details = reqErr.fields
		} else if reqErr.err != nil {
			details = reqErr.err.Error()
		}
		writeError(w, http.StatusBadRequest, reqErr.msg, "invalid_request", details)

	case errors.As(err, &short):
		writeError(w, http.StatusConflict, "insufficient stock", "insufficient_stock", map[string]string{
			"item_id":   string(short.ItemID),
			"available": short.Available.String(),
			"requested": short.Requested.String(),
		})

	case errors.Is(err, inventory.ErrAlreadySeeded):
		writeError(w, http.StatusConflict, err.Error(), "already_seeded", nil)

	case inventory.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error(), "not_found", nil)

	case inventory.IsRetryable(err):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "item is busy, try again", "conflict", err.Error())

	case inventory.IsClientError(err):
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_input", nil)

	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled", "cancelled", nil)

	default:
		h.Logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error", "internal", nil)
	}
}
