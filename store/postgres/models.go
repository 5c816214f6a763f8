package postgres

import (
	"time"

	"github.com/gridmaster/spares-ledger/inventory"
	"github.com/shopspring/decimal"
)

// =============================================================================
// ROW MODELS - Explicit schema, mapped to inventory types at the boundary
// =============================================================================

type itemModel struct {
	ID              string          `gorm:"primaryKey;type:text"`
	LegacyName      string          `gorm:"type:text;not null"`
	StandardName    string          `gorm:"type:text;not null;default:''"`
	Nickname        string          `gorm:"type:text;not null;default:''"`
	MasterSN        int             `gorm:"column:master_sn;not null;default:0"`
	SortIndex       int             `gorm:"not null;default:0;index:idx_items_sort,priority:1"`
	Unit            string          `gorm:"type:text;not null;default:''"`
	UnitRate        decimal.Decimal `gorm:"type:numeric;not null"`
	MinStock        decimal.Decimal `gorm:"type:numeric;not null"`
	Location        string          `gorm:"type:text;not null;default:''"`
	Quantity        decimal.Decimal `gorm:"type:numeric;not null;check:chk_items_quantity_non_negative,quantity >= 0"`
	InitialQuantity decimal.Decimal `gorm:"type:numeric;not null"`
	Version         int64           `gorm:"not null;default:0"`
	CreatedAt       time.Time       `gorm:"not null"`
	LastUpdated     time.Time       `gorm:"not null"`
}

func (itemModel) TableName() string { return "items" }

func itemToModel(i inventory.Item) itemModel {
	return itemModel{
		ID:              string(i.ID),
		LegacyName:      i.LegacyName,
		StandardName:    i.StandardName,
		Nickname:        i.Nickname,
		MasterSN:        i.MasterSN,
		SortIndex:       i.SortIndex,
		Unit:            i.Unit,
		UnitRate:        i.UnitRate,
		MinStock:        i.MinStock,
		Location:        i.Location,
		Quantity:        i.Quantity,
		InitialQuantity: i.InitialQuantity,
		Version:         i.Version,
		CreatedAt:       i.CreatedAt,
		LastUpdated:     i.LastUpdated,
	}
}

func (m itemModel) toDomain() inventory.Item {
	return inventory.Item{
		ID:              inventory.ItemID(m.ID),
		LegacyName:      m.LegacyName,
		StandardName:    m.StandardName,
		Nickname:        m.Nickname,
		MasterSN:        m.MasterSN,
		SortIndex:       m.SortIndex,
		Unit:            m.Unit,
		UnitRate:        m.UnitRate,
		MinStock:        m.MinStock,
		Location:        m.Location,
		Quantity:        m.Quantity,
		InitialQuantity: m.InitialQuantity,
		Version:         m.Version,
		CreatedAt:       m.CreatedAt.UTC(),
		LastUpdated:     m.LastUpdated.UTC(),
	}
}

type entryModel struct {
	Seq           int64           `gorm:"primaryKey;autoIncrement"`
	ID            string          `gorm:"type:text;not null;uniqueIndex"`
	ItemID        string          `gorm:"type:text;not null;index:idx_ledger_item_date,priority:1"`
	ItemName      string          `gorm:"type:text;not null"`
	Type          string          `gorm:"type:varchar(16);not null;check:chk_ledger_type,type IN ('RECEIVE', 'ISSUE')"`
	Quantity      decimal.Decimal `gorm:"type:numeric;not null;check:chk_ledger_quantity_positive,quantity > 0"`
	Date          time.Time       `gorm:"column:effective_date;not null;index:idx_ledger_item_date,priority:2;index:idx_ledger_date"`
	Reference     string          `gorm:"type:text;not null;default:''"`
	Remarks       string          `gorm:"type:text;not null;default:''"`
	Actor         string          `gorm:"type:text;not null;default:''"`
	RecordedAt    time.Time       `gorm:"not null"`
	QuantityAfter decimal.Decimal `gorm:"type:numeric;not null"`
	ItemVersion   int64           `gorm:"not null"`
}

func (entryModel) TableName() string { return "ledger_entries" }

func entryToModel(e inventory.LedgerEntry) entryModel {
	return entryModel{
		ID:            string(e.ID),
		ItemID:        string(e.ItemID),
		ItemName:      e.ItemName,
		Type:          string(e.Type),
		Quantity:      e.Quantity,
		Date:          e.Date,
		Reference:     e.Reference,
		Remarks:       e.Remarks,
		Actor:         e.Actor,
		RecordedAt:    e.RecordedAt,
		QuantityAfter: e.QuantityAfter,
		ItemVersion:   e.ItemVersion,
	}
}

// toDomain fails on a movement type the engine does not know.
func (m entryModel) toDomain() (inventory.LedgerEntry, error) {
	typ, err := inventory.ParseMovementType(m.Type)
	if err != nil {
		return inventory.LedgerEntry{}, &inventory.CorruptRecordError{Table: "ledger_entries", ID: m.ID, Field: "type", Err: err}
	}
	return inventory.LedgerEntry{
		ID:            inventory.EntryID(m.ID),
		ItemID:        inventory.ItemID(m.ItemID),
		ItemName:      m.ItemName,
		Type:          typ,
		Quantity:      m.Quantity,
		Date:          m.Date.UTC(),
		Reference:     m.Reference,
		Remarks:       m.Remarks,
		Actor:         m.Actor,
		Seq:           m.Seq,
		RecordedAt:    m.RecordedAt.UTC(),
		QuantityAfter: m.QuantityAfter,
		ItemVersion:   m.ItemVersion,
	}, nil
}

type metaModel struct {
	Key   string `gorm:"primaryKey;type:text"`
	Value string `gorm:"type:text;not null"`
}

func (metaModel) TableName() string { return "meta" }

type reportRunModel struct {
	ID          string    `gorm:"primaryKey;type:text"`
	PeriodStart time.Time `gorm:"not null;index:idx_report_runs_period,priority:1"`
	PeriodEnd   time.Time `gorm:"not null;index:idx_report_runs_period,priority:2"`
	Status      string    `gorm:"type:varchar(16);not null"`
	Rows        int       `gorm:"not null;default:0"`
	File        string    `gorm:"type:text;not null;default:''"`
	Error       string    `gorm:"type:text;not null;default:''"`
	StartedAt   time.Time `gorm:"not null"`
	CompletedAt *time.Time
}

func (reportRunModel) TableName() string { return "report_runs" }

func runToModel(r inventory.ReportRun) reportRunModel {
	return reportRunModel{
		ID:          r.ID,
		PeriodStart: r.PeriodStart,
		PeriodEnd:   r.PeriodEnd,
		Status:      string(r.Status),
		Rows:        r.Rows,
		File:        r.File,
		Error:       r.Error,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}
}

func (m reportRunModel) toDomain() inventory.ReportRun {
	return inventory.ReportRun{
		ID:          m.ID,
		PeriodStart: m.PeriodStart.UTC(),
		PeriodEnd:   m.PeriodEnd.UTC(),
		Status:      inventory.RunStatus(m.Status),
		Rows:        m.Rows,
		File:        m.File,
		Error:       m.Error,
		StartedAt:   m.StartedAt.UTC(),
		CompletedAt: m.CompletedAt,
	}
}
