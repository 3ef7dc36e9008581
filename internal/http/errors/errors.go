// Package errors define el formato de error de la API y su serialización.
package errors

import (
	"encoding/json"
	"net/http"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// WriteError escribe la respuesta de error. Acepta *AppError o cualquier error
// (que sale como 500).
func WriteError(w http.ResponseWriter, err error) {
	appErr := FromError(err)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(appErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Code:    appErr.Code,
		Message: appErr.Message,
		Detail:  appErr.Detail,
	})
}

// WriteErrorWith escribe el error agregando campos extra al cuerpo (ej: la
// lista de usuarios inválidos de bulk import).
func WriteErrorWith(w http.ResponseWriter, err error, extra map[string]any) {
	appErr := FromError(err)

	body := map[string]any{"code": appErr.Code, "message": appErr.Message}
	if appErr.Detail != "" {
		body["detail"] = appErr.Detail
	}
	for k, v := range extra {
		body[k] = v
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(appErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(body)
}
