package models

// InvoiceUpdate ist der Payload für partielle Updates. Nur gesetzte (non-nil)
// Felder werden übernommen.
type InvoiceUpdate struct {
	InvoiceNumber *string      `json:"invoice_number"`
	InvoiceDate   *string      `json:"invoice_date"`
	CustomerName  *string      `json:"customer_name"`
	VendorName    *string      `json:"vendor_name"`
	TotalAmount   *string      `json:"total_amount"`
	Items         []ItemUpdate `json:"items"`
}

// ItemUpdate aktualisiert eine bestehende Position (mit ID) oder legt eine
// neue an (ohne ID).
type ItemUpdate struct {
	ID              *uint   `json:"id"`
	ItemDescription *string `json:"item_description"`
	Quantity        *string `json:"quantity"`
	UnitPrice       *string `json:"unit_price"`
	TotalAmount     *string `json:"total_amount"`
}
