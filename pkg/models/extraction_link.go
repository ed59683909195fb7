package models

import (
	"time"

	"github.com/google/uuid"
)

// ExtractionLink binds a storage folder to a tabla. A folder may carry
// several links; each one receives its own extraction of the same document.
type ExtractionLink struct {
	ID         uuid.UUID `json:"id"`
	OwnerID    uuid.UUID `json:"owner_id"`
	FolderPath string    `json:"folder_path"` // normalized relative path
	FolderName string    `json:"folder_name"` // as entered by the user
	TablaID    uuid.UUID `json:"tabla_id"`
	CreatedAt  time.Time `json:"created_at"`

	// Populated for documents-tree responses.
	Tabla *Tabla    `json:"tabla,omitempty"`
	Rows  []ViewRow `json:"rows,omitempty"`
}
