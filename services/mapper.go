package services

// invoiceKeyMap bildet die vom Extraktor gelieferten Labels auf die
// kanonischen Feldnamen der Rechnung ab. Unbekannte Keys bleiben unverändert.
var invoiceKeyMap = map[string]string{
	"Invoice Number": "invoice_number",
	"Invoice Date":   "invoice_date",
	"Customer Name":  "customer_name",
	"Vendor Name":    "vendor_name",
	"Total Amount":   "total_amount",
	"Items":          "items",
}

// itemKeyMap ist die eigene Tabelle für Positionen: "Total Amount" meint hier
// den Zeilenbetrag, nicht die Rechnungssumme.
var itemKeyMap = map[string]string{
	"Item Description": "item_description",
	"Quantity":         "quantity",
	"Unit Price":       "unit_price",
	"Total Amount":     "total_amount",
}

// MapInvoiceKeys schreibt die Top-Level-Keys einer extrahierten Rechnung um.
func MapInvoiceKeys(data map[string]any) map[string]any {
	return remapKeys(data, invoiceKeyMap)
}

// MapItemKeys schreibt die Keys einer einzelnen Position um.
func MapItemKeys(item map[string]any) map[string]any {
	return remapKeys(item, itemKeyMap)
}

func remapKeys(data map[string]any, table map[string]string) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if canonical, ok := table[k]; ok {
			out[canonical] = v
		} else {
			out[k] = v
		}
	}
	return out
}
