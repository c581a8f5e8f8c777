package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"invoice-hand/models"
)

// sortableColumns sind die Spalten, nach denen die Liste sortiert werden darf.
// Unbekannte Werte fallen auf id zurück.
var sortableColumns = map[string]bool{
	"id":             true,
	"invoice_number": true,
	"invoice_date":   true,
	"customer_name":  true,
	"vendor_name":    true,
	"total_amount":   true,
	"created_at":     true,
}

// ListParams steuern Pagination, Sortierung und Filter der Rechnungsliste.
type ListParams struct {
	Page      int
	Limit     int
	SortBy    string
	SortOrder string
	Search    string
	DateFrom  string
	DateTo    string
}

// InvoiceStore kapselt alle Datenbankzugriffe für Rechnungen und Positionen.
type InvoiceStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewInvoiceStore erstellt einen neuen InvoiceStore.
func NewInvoiceStore(db *gorm.DB, logger *zap.Logger) *InvoiceStore {
	return &InvoiceStore{db: db, logger: logger}
}

// Create legt die Rechnung samt Positionen in einer Transaktion an. Schlägt
// das Insert fehl (z.B. Unique-Verletzung auf invoice_number), wird die
// Transaktion zurückgerollt und der Fehler unverändert zurückgegeben.
func (s *InvoiceStore) Create(ctx context.Context, inv *models.Invoice) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(inv).Error
	})
}

// GetByID lädt eine Rechnung samt Positionen. Nicht vorhandene IDs liefern
// gorm.ErrRecordNotFound.
func (s *InvoiceStore) GetByID(ctx context.Context, id uint) (*models.Invoice, error) {
	var inv models.Invoice
	if err := s.db.WithContext(ctx).Preload("Items").First(&inv, id).Error; err != nil {
		return nil, err
	}
	return &inv, nil
}

// GetByNumber lädt eine Rechnung über ihre eindeutige Rechnungsnummer.
func (s *InvoiceStore) GetByNumber(ctx context.Context, number string) (*models.Invoice, error) {
	var inv models.Invoice
	err := s.db.WithContext(ctx).
		Preload("Items").
		Where("invoice_number = ?", number).
		First(&inv).Error
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// Update wendet ein partielles Update transaktional an: nur non-nil Felder
// werden geschrieben; Positionen mit bekannter ID werden in-place
// aktualisiert, ohne ID neu angelegt, mit unbekannter ID übersprungen.
// Nach dem Commit wird die Rechnung explizit neu geladen statt auf einen
// Session-Refresh zu vertrauen.
func (s *InvoiceStore) Update(ctx context.Context, id uint, upd models.InvoiceUpdate) (*models.Invoice, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var invoice models.Invoice
		if err := tx.Preload("Items").First(&invoice, id).Error; err != nil {
			return err
		}

		fields := invoiceUpdateFields(upd)
		if len(fields) > 0 {
			if err := tx.Model(&invoice).Updates(fields).Error; err != nil {
				return err
			}
		}

		for _, item := range upd.Items {
			if item.ID == nil {
				newItem := models.Item{InvoiceID: invoice.ID}
				applyItemUpdate(&newItem, item)
				if err := tx.Create(&newItem).Error; err != nil {
					return err
				}
				continue
			}

			existing := findItem(invoice.Items, *item.ID)
			if existing == nil {
				s.logger.Warn("Position nicht gefunden, Update wird übersprungen",
					zap.Uint("item_id", *item.ID), zap.Uint("invoice_id", id))
				continue
			}
			itemFields := itemUpdateFields(item)
			if len(itemFields) == 0 {
				continue
			}
			if err := tx.Model(existing).Updates(itemFields).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetByID(ctx, id)
}

// List liefert eine Seite Rechnungen plus die Gesamtanzahl über alle Filter.
func (s *InvoiceStore) List(ctx context.Context, p ListParams) ([]models.Invoice, int64, error) {
	filters := s.listFilters(p)

	var total int64
	if err := filters(s.db.WithContext(ctx).Model(&models.Invoice{})).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	sortBy := p.SortBy
	if !sortableColumns[sortBy] {
		sortBy = "id"
	}
	order := "desc"
	if strings.EqualFold(p.SortOrder, "asc") {
		order = "asc"
	}

	offset := (p.Page - 1) * p.Limit
	var invoices []models.Invoice
	err := filters(s.db.WithContext(ctx).Model(&models.Invoice{})).
		Preload("Items").
		Order(fmt.Sprintf("%s %s", sortBy, order)).
		Offset(offset).
		Limit(p.Limit).
		Find(&invoices).Error
	if err != nil {
		return nil, 0, err
	}
	return invoices, total, nil
}

// listFilters baut die Where-Klauseln für Suche und Datumsbereich. Ungültige
// Datumsfilter werden mit Warnung ignoriert, nicht als Fehler behandelt.
func (s *InvoiceStore) listFilters(p ListParams) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if p.Search != "" {
			term := "%" + p.Search + "%"
			db = db.Where(
				"invoice_number ILIKE ? OR vendor_name ILIKE ? OR customer_name ILIKE ?",
				term, term, term,
			)
		}
		if p.DateFrom != "" {
			if _, err := time.Parse("2006-01-02", p.DateFrom); err != nil {
				s.logger.Warn("Ungültiges date_from-Format, Filter wird ignoriert",
					zap.String("date_from", p.DateFrom))
			} else {
				// String-Vergleich reicht, da Daten kanonisch als YYYY-MM-DD gespeichert sind
				db = db.Where("invoice_date >= ?", p.DateFrom)
			}
		}
		if p.DateTo != "" {
			if _, err := time.Parse("2006-01-02", p.DateTo); err != nil {
				s.logger.Warn("Ungültiges date_to-Format, Filter wird ignoriert",
					zap.String("date_to", p.DateTo))
			} else {
				db = db.Where("invoice_date <= ?", p.DateTo)
			}
		}
		return db
	}
}

// FindNonCanonicalDates liefert Rechnungen, deren invoice_date noch nicht im
// Format YYYY-MM-DD vorliegt. Wird vom nächtlichen Sweep verwendet.
func (s *InvoiceStore) FindNonCanonicalDates(ctx context.Context) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := s.db.WithContext(ctx).
		Where(`invoice_date <> '' AND invoice_date !~ '^\d{4}-\d{2}-\d{2}$'`).
		Find(&invoices).Error
	return invoices, err
}

// UpdateDate setzt nur das invoice_date einer Rechnung.
func (s *InvoiceStore) UpdateDate(ctx context.Context, id uint, date string) error {
	return s.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("id = ?", id).
		Update("invoice_date", date).Error
}

// SetArchiveLink hinterlegt den S3-Link des archivierten Originalbilds.
func (s *InvoiceStore) SetArchiveLink(ctx context.Context, id uint, link string) error {
	return s.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("id = ?", id).
		Updates(map[string]any{"source_s3_link": link, "cloud_stored": true}).Error
}

func invoiceUpdateFields(upd models.InvoiceUpdate) map[string]any {
	fields := map[string]any{}
	if upd.InvoiceNumber != nil {
		fields["invoice_number"] = *upd.InvoiceNumber
	}
	if upd.InvoiceDate != nil {
		fields["invoice_date"] = *upd.InvoiceDate
	}
	if upd.CustomerName != nil {
		fields["customer_name"] = *upd.CustomerName
	}
	if upd.VendorName != nil {
		fields["vendor_name"] = *upd.VendorName
	}
	if upd.TotalAmount != nil {
		fields["total_amount"] = *upd.TotalAmount
	}
	return fields
}

func itemUpdateFields(item models.ItemUpdate) map[string]any {
	fields := map[string]any{}
	if item.ItemDescription != nil {
		fields["item_description"] = *item.ItemDescription
	}
	if item.Quantity != nil {
		fields["quantity"] = *item.Quantity
	}
	if item.UnitPrice != nil {
		fields["unit_price"] = *item.UnitPrice
	}
	if item.TotalAmount != nil {
		fields["total_amount"] = *item.TotalAmount
	}
	return fields
}

func applyItemUpdate(target *models.Item, item models.ItemUpdate) {
	if item.ItemDescription != nil {
		target.ItemDescription = *item.ItemDescription
	}
	if item.Quantity != nil {
		target.Quantity = *item.Quantity
	}
	if item.UnitPrice != nil {
		target.UnitPrice = *item.UnitPrice
	}
	if item.TotalAmount != nil {
		target.TotalAmount = *item.TotalAmount
	}
}

func findItem(items []models.Item, id uint) *models.Item {
	for i := range items {
		if items[i].ID == id {
			return &items[i]
		}
	}
	return nil
}
