// Package bulkimport contiene los DTOs de las rutas /bulk-import.
package bulkimport

import (
	"encoding/json"

	"github.com/dropDatabas3/hellojohn-identity/internal/bulkimport"
	"github.com/dropDatabas3/hellojohn-identity/internal/domain/repository"
	dtolink "github.com/dropDatabas3/hellojohn-identity/internal/http/dto/accountlinking"
)

type AddUsersRequest struct {
	Users []bulkimport.User `json:"users"`
}

type AddUsersResponse struct {
	Status string   `json:"status"`
	IDs    []string `json:"ids"`
}

type ListUsersResponse struct {
	Status              string  `json:"status"`
	Users               []Entry `json:"users"`
	NextPaginationToken string  `json:"nextPaginationToken,omitempty"`
}

// Entry es una entrada de la cola con su payload original.
type Entry struct {
	ID            string          `json:"id"`
	Status        string          `json:"status"`
	PrimaryUserID string          `json:"primaryUserId,omitempty"`
	ErrorMessage  string          `json:"errorMessage,omitempty"`
	CreatedAt     int64           `json:"createdAt"`
	UpdatedAt     int64           `json:"updatedAt"`
	User          json.RawMessage `json:"user,omitempty"`
}

type RemoveUsersRequest struct {
	IDs []string `json:"ids"`
}

type RemoveUsersResponse struct {
	DeletedIDs []string `json:"deletedIds"`
	InvalidIDs []string `json:"invalidIds"`
}

type CountResponse struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

type ImportUserRequest struct {
	User bulkimport.User `json:"user"`
}

type ImportUserResponse struct {
	Status string        `json:"status"`
	User   *dtolink.User `json:"user"`
}

// FromEntries convierte entradas de storage (timestamps en ms).
func FromEntries(entries []repository.BulkImportEntry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		item := Entry{
			ID:            e.ID,
			Status:        string(e.Status),
			PrimaryUserID: e.PrimaryUserID,
			ErrorMessage:  e.ErrorMessage,
			CreatedAt:     e.CreatedAt.UnixMilli(),
			UpdatedAt:     e.UpdatedAt.UnixMilli(),
		}
		if json.Valid(e.RawData) {
			item.User = json.RawMessage(e.RawData)
		}
		out = append(out, item)
	}
	return out
}
