/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract. Quantities and
  money travel as decimal strings so no precision is lost in JSON numbers.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Items:      ItemDTO, ItemRequest
  Movements:  MovementRequest, EntryDTO
  Reports:    ReportDTO, ReportRowDTO, MovementLineDTO, ReportRunDTO
  Audit:      FoldCheckDTO
  Seeding:    SeedRequest, SeedResponse

VALIDATION:
  Request types carry go-playground/validator tags. decodeRequest rejects
  unknown fields, then runs the validator. The custom "decimal" tag
  accepts anything shopspring/decimal can parse. Domain rules (positive
  quantity, non-negative rate) are still enforced by the inventory package.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gridmaster/spares-ledger/inventory"
	"github.com/shopspring/decimal"
)

// DateLayout is the wire format of calendar dates.
const DateLayout = "2006-01-02"

// =============================================================================
// ITEMS
// =============================================================================

// ItemDTO represents an item in API responses.
type ItemDTO struct {
	ID              string `json:"id"`
	LegacyName      string `json:"legacy_name"`
	StandardName    string `json:"standard_name,omitempty"`
	Nickname        string `json:"nickname,omitempty"`
	MasterSN        int    `json:"master_sn"`
	SortIndex       int    `json:"sort_index"`
	Unit            string `json:"unit"`
	UnitRate        string `json:"unit_rate"`
	MinStock        string `json:"min_stock"`
	Location        string `json:"location,omitempty"`
	Quantity        string `json:"quantity"`
	InitialQuantity string `json:"initial_quantity"`
	TotalValue      string `json:"total_value"`
	LowStock        bool   `json:"low_stock"`
	Version         int64  `json:"version"`
	CreatedAt       string `json:"created_at"`
	LastUpdated     string `json:"last_updated"`
}

func toItemDTO(item inventory.Item) ItemDTO {
	return ItemDTO{
		ID:              string(item.ID),
		LegacyName:      item.LegacyName,
		StandardName:    item.StandardName,
		Nickname:        item.Nickname,
		MasterSN:        item.MasterSN,
		SortIndex:       item.SortIndex,
		Unit:            item.Unit,
		UnitRate:        item.UnitRate.String(),
		MinStock:        item.MinStock.String(),
		Location:        item.Location,
		Quantity:        item.Quantity.String(),
		InitialQuantity: item.InitialQuantity.String(),
		TotalValue:      item.TotalValue().String(),
		LowStock:        item.IsLowStock(),
		Version:         item.Version,
		CreatedAt:       item.CreatedAt.Format(time.RFC3339),
		LastUpdated:     item.LastUpdated.Format(time.RFC3339),
	}
}

// ItemRequest creates an item or replaces its descriptive fields.
// InitialStock is only read on create.
type ItemRequest struct {
	LegacyName   string `json:"legacy_name" validate:"required,max=200"`
	StandardName string `json:"standard_name" validate:"max=200"`
	Nickname     string `json:"nickname" validate:"max=100"`
	MasterSN     int    `json:"master_sn" validate:"gte=0"`
	SortIndex    int    `json:"sort_index" validate:"gte=0"`
	Unit         string `json:"unit" validate:"required,max=20"`
	UnitRate     string `json:"unit_rate" validate:"omitempty,decimal"`
	MinStock     string `json:"min_stock" validate:"omitempty,decimal"`
	Location     string `json:"location" validate:"max=100"`
	InitialStock string `json:"initial_stock" validate:"omitempty,decimal"`
}

// Details converts the request into domain details. Decimal fields were
// already checked by the validator.
func (r ItemRequest) Details() inventory.ItemDetails {
	return inventory.ItemDetails{
		LegacyName:   r.LegacyName,
		StandardName: r.StandardName,
		Nickname:     r.Nickname,
		MasterSN:     r.MasterSN,
		SortIndex:    r.SortIndex,
		Unit:         r.Unit,
		UnitRate:     decimalOrZero(r.UnitRate),
		MinStock:     decimalOrZero(r.MinStock),
		Location:     r.Location,
	}
}

// =============================================================================
// MOVEMENTS
// =============================================================================

// MovementRequest posts one RECEIVE or ISSUE.
type MovementRequest struct {
	Type      string `json:"type" validate:"required,oneof=RECEIVE ISSUE"`
	Quantity  string `json:"quantity" validate:"required,decimal"`
	Reference string `json:"reference" validate:"max=200"`
	Remarks   string `json:"remarks" validate:"max=500"`
	// Date is YYYY-MM-DD or RFC3339; empty means now.
	Date  string `json:"date"`
	Actor string `json:"actor" validate:"max=100"`
}

// EntryDTO represents a ledger entry.
type EntryDTO struct {
	ID            string `json:"id"`
	ItemID        string `json:"item_id"`
	ItemName      string `json:"item_name"`
	Type          string `json:"type"`
	Quantity      string `json:"quantity"`
	Date          string `json:"date"`
	Reference     string `json:"reference,omitempty"`
	Remarks       string `json:"remarks,omitempty"`
	Actor         string `json:"actor,omitempty"`
	Seq           int64  `json:"seq"`
	RecordedAt    string `json:"recorded_at"`
	QuantityAfter string `json:"quantity_after"`
}

func toEntryDTO(e inventory.LedgerEntry) EntryDTO {
	return EntryDTO{
		ID:            string(e.ID),
		ItemID:        string(e.ItemID),
		ItemName:      e.ItemName,
		Type:          string(e.Type),
		Quantity:      e.Quantity.String(),
		Date:          e.Date.Format(time.RFC3339),
		Reference:     e.Reference,
		Remarks:       e.Remarks,
		Actor:         e.Actor,
		Seq:           e.Seq,
		RecordedAt:    e.RecordedAt.Format(time.RFC3339),
		QuantityAfter: e.QuantityAfter.String(),
	}
}

func toEntryDTOs(entries []inventory.LedgerEntry) []EntryDTO {
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	return dtos
}

// =============================================================================
// REPORTS
// =============================================================================

// MovementLineDTO is one receipt or issue on a report row.
type MovementLineDTO struct {
	EntryID   string `json:"entry_id"`
	Date      string `json:"date"`
	Reference string `json:"reference,omitempty"`
	Quantity  string `json:"quantity"`
}

// ReportRowDTO is one item of the statement.
type ReportRowDTO struct {
	SerialNumber   int               `json:"sn"`
	ItemID         string            `json:"item_id"`
	Name           string            `json:"name"`
	Unit           string            `json:"unit"`
	OpeningBalance string            `json:"opening_balance"`
	Receipts       []MovementLineDTO `json:"receipts"`
	Issues         []MovementLineDTO `json:"issues"`
	TotalReceived  string            `json:"total_received"`
	TotalIssued    string            `json:"total_issued"`
	ClosingBalance string            `json:"closing_balance"`
	UnitRate       string            `json:"unit_rate"`
	TotalValue     string            `json:"total_value"`
	Remarks        string            `json:"remarks,omitempty"`
	StandardName   string            `json:"standard_name,omitempty"`
	Anomalies      []string          `json:"anomalies,omitempty"`
}

// ReportDTO is the statement for one period.
type ReportDTO struct {
	PeriodStart  string         `json:"period_start"`
	PeriodEnd    string         `json:"period_end"`
	GeneratedAt  string         `json:"generated_at"`
	RolledBack   bool           `json:"rolled_back"`
	HasAnomalies bool           `json:"has_anomalies"`
	Rows         []ReportRowDTO `json:"rows"`
}

func toReportDTO(r *inventory.Report) ReportDTO {
	dto := ReportDTO{
		PeriodStart:  r.Period.Start.Format(DateLayout),
		PeriodEnd:    r.Period.End.Format(DateLayout),
		GeneratedAt:  r.GeneratedAt.Format(time.RFC3339),
		RolledBack:   r.RolledBack,
		HasAnomalies: r.HasAnomalies(),
		Rows:         make([]ReportRowDTO, len(r.Rows)),
	}
	for i, row := range r.Rows {
		dto.Rows[i] = ReportRowDTO{
			SerialNumber:   row.SerialNumber,
			ItemID:         string(row.ItemID),
			Name:           row.Name,
			Unit:           row.Unit,
			OpeningBalance: row.OpeningBalance.String(),
			Receipts:       toLineDTOs(row.Receipts),
			Issues:         toLineDTOs(row.Issues),
			TotalReceived:  row.TotalReceived.String(),
			TotalIssued:    row.TotalIssued.String(),
			ClosingBalance: row.ClosingBalance.String(),
			UnitRate:       row.UnitRate.String(),
			TotalValue:     row.TotalValue.String(),
			Remarks:        row.Remarks,
			StandardName:   row.StandardName,
			Anomalies:      row.Anomalies,
		}
	}
	return dto
}

func toLineDTOs(lines []inventory.MovementLine) []MovementLineDTO {
	dtos := make([]MovementLineDTO, len(lines))
	for i, l := range lines {
		dtos[i] = MovementLineDTO{
			EntryID:   string(l.EntryID),
			Date:      l.Date.Format(DateLayout),
			Reference: l.Reference,
			Quantity:  l.Quantity.String(),
		}
	}
	return dtos
}

// ReportRunDTO is an archived scheduled run.
type ReportRunDTO struct {
	ID          string  `json:"id"`
	PeriodStart string  `json:"period_start"`
	PeriodEnd   string  `json:"period_end"`
	Status      string  `json:"status"`
	Rows        int     `json:"rows"`
	File        string  `json:"file,omitempty"`
	Error       string  `json:"error,omitempty"`
	StartedAt   string  `json:"started_at"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

func toReportRunDTO(run inventory.ReportRun) ReportRunDTO {
	dto := ReportRunDTO{
		ID:          run.ID,
		PeriodStart: run.PeriodStart.Format(DateLayout),
		PeriodEnd:   run.PeriodEnd.Format(DateLayout),
		Status:      string(run.Status),
		Rows:        run.Rows,
		File:        run.File,
		Error:       run.Error,
		StartedAt:   run.StartedAt.Format(time.RFC3339),
	}
	if run.CompletedAt != nil {
		s := run.CompletedAt.Format(time.RFC3339)
		dto.CompletedAt = &s
	}
	return dto
}

// FoldCheckDTO reports the result of VerifyItem.
type FoldCheckDTO struct {
	ItemID          string  `json:"item_id"`
	InitialQuantity string  `json:"initial_quantity"`
	Received        string  `json:"received"`
	Issued          string  `json:"issued"`
	Expected        string  `json:"expected"`
	Actual          string  `json:"actual"`
	Drift           string  `json:"drift"`
	Entries         int     `json:"entries"`
	Consistent      bool    `json:"consistent"`
	BrokenSeq       []int64 `json:"broken_seq,omitempty"`
}

func toFoldCheckDTO(c *inventory.FoldCheck) FoldCheckDTO {
	return FoldCheckDTO{
		ItemID:          string(c.ItemID),
		InitialQuantity: c.InitialQuantity.String(),
		Received:        c.Received.String(),
		Issued:          c.Issued.String(),
		Expected:        c.Expected.String(),
		Actual:          c.Actual.String(),
		Drift:           c.Drift().String(),
		Entries:         c.Entries,
		Consistent:      c.Consistent(),
		BrokenSeq:       c.BrokenSeq,
	}
}

// =============================================================================
// SEEDING
// =============================================================================

// SeedRequest is the JSON form of the master list, in sheet order.
type SeedRequest struct {
	Items []ItemRequest `json:"items" validate:"required,min=1,dive"`
}

func (r SeedRequest) SeedItems() []inventory.SeedItem {
	rows := make([]inventory.SeedItem, len(r.Items))
	for i, it := range r.Items {
		rows[i] = inventory.SeedItem{Details: it.Details(), InitialStock: decimalOrZero(it.InitialStock)}
	}
	return rows
}

// SeedResponse summarizes a completed seed.
type SeedResponse struct {
	Seeded int `json:"seeded"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// FieldError describes one failed validation rule.
type FieldError struct {
	Field string `json:"field"`
	Tag   string `json:"tag"`
	Param string `json:"param,omitempty"`
}

// =============================================================================
// DECODING + VALIDATION
// =============================================================================

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("decimal", func(fl validator.FieldLevel) bool {
		_, err := decimal.NewFromString(fl.Field().String())
		return err == nil
	})
	return v
}

// requestError is a decoding or validation failure, always a 400.
type requestError struct {
	msg    string
	fields []FieldError
	err    error
}

func (e *requestError) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *requestError) Unwrap() error { return e.err }

// decodeRequest reads a JSON body into dst and validates it.
func decodeRequest(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &requestError{msg: "invalid request body", err: err}
	}
	return validateRequest(dst)
}

func validateRequest(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &requestError{msg: "invalid request", err: err}
	}
	fields := make([]FieldError, len(verrs))
	for i, fe := range verrs {
		fields[i] = FieldError{Field: fe.StructNamespace(), Tag: fe.Tag(), Param: fe.Param()}
	}
	return &requestError{msg: fmt.Sprintf("validation failed on %d field(s)", len(fields)), fields: fields}
}

func decimalOrZero(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// parseDate accepts YYYY-MM-DD (midnight in loc) or RFC3339.
func parseDate(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation(DateLayout, s, loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q must be YYYY-MM-DD or RFC3339", s)
	}
	return t, nil
}
