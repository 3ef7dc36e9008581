package helpers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	httperrors "github.com/dropDatabas3/hellojohn-identity/internal/http/errors"
)

// DefaultMaxBody limita el body de requests comunes (1MB).
const DefaultMaxBody = 1 << 20

// ReadJSON decodifica JSON de forma tolerante (no falla por campos desconocidos).
// Valida Content-Type y limita el body a maxBytes (DefaultMaxBody si es 0).
func ReadJSON(w http.ResponseWriter, r *http.Request, v any, maxBytes int64) error {
	ct := strings.ToLower(r.Header.Get("Content-Type"))
	if !strings.Contains(ct, "application/json") {
		return httperrors.ErrBadRequest.WithDetail("Content-Type debe ser application/json")
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBody
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil && err != io.EOF {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return httperrors.ErrBodyTooLarge.WithCause(err)
		}
		return httperrors.ErrInvalidJSON.WithCause(err)
	}
	return nil
}

// WriteJSON escribe una respuesta JSON estándar.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
