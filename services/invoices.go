package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"invoice-hand/config"
	"invoice-hand/models"
	"invoice-hand/providers"
	"invoice-hand/store"
)

// ErrInvoiceNotFound signalisiert eine unbekannte Rechnungs-ID; der
// HTTP-Layer mappt das auf 404.
var ErrInvoiceNotFound = errors.New("invoice not found")

// Ergebnis-Stati der Upload-Pipeline.
const (
	StatusSuccess       = "success"
	StatusAlreadyParsed = "already_parsed"
)

// InvoiceRepository beschreibt die Persistenz-Fähigkeiten, die der Service
// benötigt. Implementiert von store.InvoiceStore.
type InvoiceRepository interface {
	Create(ctx context.Context, inv *models.Invoice) error
	GetByID(ctx context.Context, id uint) (*models.Invoice, error)
	GetByNumber(ctx context.Context, number string) (*models.Invoice, error)
	Update(ctx context.Context, id uint, upd models.InvoiceUpdate) (*models.Invoice, error)
	List(ctx context.Context, p store.ListParams) ([]models.Invoice, int64, error)
	FindNonCanonicalDates(ctx context.Context) ([]models.Invoice, error)
	UpdateDate(ctx context.Context, id uint, date string) error
	SetArchiveLink(ctx context.Context, id uint, link string) error
}

// ImageArchiver legt das Original-Bild eines Uploads ab und gibt den Link
// zurück. Implementiert von storage.Archiver.
type ImageArchiver interface {
	Archive(ctx context.Context, filename string, image []byte) (string, error)
}

// UploadResult bündelt das Ergebnis der Upload-Pipeline: den persistierten
// (bzw. bereits vorhandenen) Datensatz, die Anzeige-Felder für das Frontend
// und den Status.
type UploadResult struct {
	Invoice *models.Invoice
	Fields  map[string]any
	Status  string
}

// InvoiceService orchestriert Extraktion, Normalisierung und Persistenz.
type InvoiceService struct {
	Config    *config.Config
	Repo      InvoiceRepository
	Archiver  ImageArchiver
	Logger    *zap.Logger
	Extractor providers.Extractor

	dates *DateNormalizer
}

// NewInvoiceService erstellt eine neue Instanz des InvoiceService.
func NewInvoiceService(cfg *config.Config, repo InvoiceRepository, archiver ImageArchiver, logger *zap.Logger, extractor providers.Extractor) *InvoiceService {
	return &InvoiceService{
		Config:    cfg,
		Repo:      repo,
		Archiver:  archiver,
		Logger:    logger,
		Extractor: extractor,
		dates:     NewDateNormalizer(logger),
	}
}

// ProcessUpload führt die komplette Pipeline für ein hochgeladenes
// Rechnungsbild aus: Extraktor aufrufen, JSON parsen, Keys umschreiben, Datum
// normalisieren, Schema validieren, persistieren. Läuft das Insert in die
// Unique-Verletzung auf invoice_number, wird die Transaktion verworfen und
// stattdessen der bestehende Datensatz mit Status already_parsed geliefert.
func (s *InvoiceService) ProcessUpload(ctx context.Context, filename string, image []byte) (*UploadResult, error) {
	log := s.Logger.With(zap.String("filename", filename), zap.String("extractor", s.Extractor.Name()))
	log.Info("Extrahiere Rechnungsdaten über externen Extraktor")

	rawText, err := s.Extractor.ExtractInvoice(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("extraction service: %w", err)
	}

	var extracted map[string]any
	if err := json.Unmarshal([]byte(stripCodeFences(rawText)), &extracted); err != nil {
		return nil, fmt.Errorf("extractor returned invalid JSON: %w", err)
	}

	normalized := MapInvoiceKeys(extracted)

	if rawDate, ok := normalized["invoice_date"].(string); ok {
		if d := s.dates.Normalize(rawDate); d == "" {
			delete(normalized, "invoice_date")
		} else {
			normalized["invoice_date"] = d
		}
	}

	switch rawItems := normalized["items"].(type) {
	case []any:
		// Nicht-Objekte bleiben im Array stehen, damit die Schema-Validierung
		// sie ablehnt statt sie stillschweigend zu verwerfen.
		items := make([]any, 0, len(rawItems))
		for _, entry := range rawItems {
			if m, ok := entry.(map[string]any); ok {
				items = append(items, MapItemKeys(m))
			} else {
				items = append(items, entry)
			}
		}
		normalized["items"] = items
	case nil:
		normalized["items"] = []any{}
	}

	body, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("marshal normalized payload: %w", err)
	}
	if err := ValidateAgainstSchema(BuildInvoiceJSONSchema(), body); err != nil {
		return nil, fmt.Errorf("extraction payload failed validation: %w", err)
	}

	var invoice models.Invoice
	if err := json.Unmarshal(body, &invoice); err != nil {
		return nil, fmt.Errorf("decode normalized payload: %w", err)
	}
	invoice.ExtractionJSON = datatypes.JSON(body)

	fields := displayFields(normalized)

	if err := s.Repo.Create(ctx, &invoice); err != nil {
		if isDuplicateKey(err) {
			log.Info("Rechnung existiert bereits, lade bestehenden Datensatz",
				zap.String("invoice_number", invoice.InvoiceNumber))
			existing, fetchErr := s.Repo.GetByNumber(ctx, invoice.InvoiceNumber)
			if fetchErr != nil {
				return nil, fmt.Errorf("fetch existing invoice: %w", fetchErr)
			}
			// Der gespeicherte Datensatz bleibt maßgeblich; frisch extrahierte
			// Werte werden nicht hineingemerged.
			fields["id"] = existing.ID
			return &UploadResult{Invoice: existing, Fields: fields, Status: StatusAlreadyParsed}, nil
		}
		return nil, err
	}

	// Archiviert wird erst nach erfolgreichem Insert; ein Re-Upload einer
	// bekannten Rechnung erzeugt so kein verwaistes S3-Objekt.
	s.archiveImage(ctx, &invoice, filename, image)

	log.Info("Rechnung gespeichert",
		zap.Uint("invoice_id", invoice.ID), zap.String("invoice_number", invoice.InvoiceNumber))
	fields["id"] = invoice.ID
	return &UploadResult{Invoice: &invoice, Fields: fields, Status: StatusSuccess}, nil
}

// UpdateInvoice wendet ein partielles Update an und liefert den frisch
// geladenen Datensatz.
func (s *InvoiceService) UpdateInvoice(ctx context.Context, id uint, upd models.InvoiceUpdate) (*models.Invoice, error) {
	s.Logger.Info("Aktualisiere Rechnung", zap.Uint("invoice_id", id))
	invoice, err := s.Repo.Update(ctx, id, upd)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	return invoice, nil
}

// GetInvoice lädt eine einzelne Rechnung samt Positionen.
func (s *InvoiceService) GetInvoice(ctx context.Context, id uint) (*models.Invoice, error) {
	invoice, err := s.Repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	return invoice, nil
}

// ListInvoices liefert eine Seite Rechnungen, die Gesamtanzahl und die daraus
// abgeleitete Seitenzahl (ceil(total/limit)).
func (s *InvoiceService) ListInvoices(ctx context.Context, p store.ListParams) ([]models.Invoice, int64, int, error) {
	invoices, total, err := s.Repo.List(ctx, p)
	if err != nil {
		return nil, 0, 0, err
	}
	pages := 0
	if p.Limit > 0 {
		pages = int((total + int64(p.Limit) - 1) / int64(p.Limit))
	}
	return invoices, total, pages, nil
}

// RenormalizeDates läuft über alle Rechnungen mit nicht-kanonischem Datum und
// versucht die Normalisierung erneut. Wird vom Cron-Job aufgerufen.
func (s *InvoiceService) RenormalizeDates(ctx context.Context) (int, error) {
	invoices, err := s.Repo.FindNonCanonicalDates(ctx)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, inv := range invoices {
		normalized := s.dates.Normalize(inv.InvoiceDate)
		if normalized == "" || normalized == inv.InvoiceDate {
			continue
		}
		if err := s.Repo.UpdateDate(ctx, inv.ID, normalized); err != nil {
			s.Logger.Warn("Datum konnte nicht aktualisiert werden",
				zap.Uint("invoice_id", inv.ID), zap.Error(err))
			continue
		}
		updated++
	}
	return updated, nil
}

// archiveImage lädt das Original-Bild best-effort ins Archiv und hinterlegt
// den Link am Datensatz. Ein Fehler wird nur geloggt und bricht die
// Verarbeitung nicht ab.
func (s *InvoiceService) archiveImage(ctx context.Context, inv *models.Invoice, filename string, image []byte) {
	if s.Archiver == nil {
		return
	}
	link, err := s.Archiver.Archive(ctx, filename, image)
	if err != nil {
		s.Logger.Warn("S3-Upload des Originalbilds fehlgeschlagen", zap.Error(err))
		return
	}
	inv.SourceS3Link = link
	inv.CloudStored = true
	if err := s.Repo.SetArchiveLink(ctx, inv.ID, link); err != nil {
		s.Logger.Warn("Archiv-Link konnte nicht gespeichert werden",
			zap.Uint("invoice_id", inv.ID), zap.Error(err))
	}
}

// displayFields baut die Felder für die Upload-Antwort. Positionen bekommen
// das Frontend-Format (description/quantity/unit_price/amount).
func displayFields(normalized map[string]any) map[string]any {
	display := make([]map[string]any, 0)
	if rawItems, ok := normalized["items"].([]any); ok {
		for _, entry := range rawItems {
			it, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			display = append(display, map[string]any{
				"description": stringValue(it["item_description"]),
				"quantity":    stringValue(it["quantity"]),
				"unit_price":  stringValue(it["unit_price"]),
				"amount":      stringValue(it["total_amount"]),
			})
		}
	}
	return map[string]any{
		"invoice_number": stringValue(normalized["invoice_number"]),
		"invoice_date":   stringValue(normalized["invoice_date"]),
		"customer_name":  stringValue(normalized["customer_name"]),
		"vendor_name":    stringValue(normalized["vendor_name"]),
		"total_amount":   stringValue(normalized["total_amount"]),
		"items":          display,
	}
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

// stripCodeFences entfernt einen eventuellen ```json-Wrapper, den manche
// Modelle trotz Prompt-Verbot liefern.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// isDuplicateKey erkennt die Unique-Verletzung auf invoice_number, sowohl
// über gorm.ErrDuplicatedKey (TranslateError) als auch über die rohe
// Postgres-Meldung.
func isDuplicateKey(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "duplicate key value violates unique constraint")
}
