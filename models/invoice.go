package models

import (
	"time"

	"gorm.io/datatypes"
)

// Invoice repräsentiert eine extrahierte Rechnung samt Positionen.
type Invoice struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// invoice_number ist der fachliche Schlüssel für die De-Duplizierung.
	InvoiceNumber string `json:"invoice_number" gorm:"uniqueIndex;not null"`
	// Nach der Normalisierung im Format YYYY-MM-DD, sonst der Original-String.
	InvoiceDate  string `json:"invoice_date"`
	CustomerName string `json:"customer_name"`
	VendorName   string `json:"vendor_name"`
	TotalAmount  string `json:"total_amount"`

	Items []Item `json:"items" gorm:"foreignKey:InvoiceID"`

	// Archiv des Original-Uploads
	SourceS3Link string `json:"source_s3_link,omitempty"`
	CloudStored  bool   `json:"cloud_stored"`

	// Rohes Extraktions-Ergebnis für Audit/Debugging
	ExtractionJSON datatypes.JSON `json:"-" gorm:"type:jsonb"`
}

// TableName gibt explizit den Tabellennamen an.
func (Invoice) TableName() string {
	return "invoices"
}

// Item ist eine einzelne Rechnungsposition.
type Item struct {
	ID        uint `json:"id" gorm:"primaryKey"`
	InvoiceID uint `json:"invoice_id" gorm:"index"`

	ItemDescription string `json:"item_description"`
	Quantity        string `json:"quantity"`
	UnitPrice       string `json:"unit_price"`
	TotalAmount     string `json:"total_amount"`
}

// TableName gibt explizit den Tabellennamen an.
func (Item) TableName() string {
	return "items"
}
