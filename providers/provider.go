package providers

import "context"

// Extractor ist das Interface, das jeder Extraktions-Dienst (z.B. OpenAI Vision)
// implementieren muss.
type Extractor interface {
	// ExtractInvoice schickt die rohen Bild-Bytes an den Dienst und gibt den
	// Antwort-Text zurück, der ein JSON-Objekt sein soll.
	ExtractInvoice(ctx context.Context, image []byte) (string, error)

	// Name gibt den eindeutigen Namen des Extraktors zurück (z.B. "openai").
	Name() string
}
