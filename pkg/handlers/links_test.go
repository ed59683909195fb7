package handlers

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/obra-engine/pkg/apperrors"
	"github.com/ekaya-inc/obra-engine/pkg/models"
)

func TestLinkHandler_CreateAndList(t *testing.T) {
	ownerID := uuid.New()
	tablaID := uuid.New()
	links := &mockLinkService{links: []models.ExtractionLink{{ID: uuid.New(), OwnerID: ownerID, FolderPath: "certificados", TablaID: tablaID}}}
	h := NewLinkHandler(links, zap.NewNop())

	rec := serve(t, http.MethodPost, fmt.Sprintf("/api/owners/%s/links", ownerID),
		jsonBody(t, CreateLinkRequest{Folder: "certificados", TablaID: tablaID}), h)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, tablaID, decodeData[models.ExtractionLink](t, rec).TablaID)

	rec = serve(t, http.MethodGet, fmt.Sprintf("/api/owners/%s/links", ownerID), nil, h)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decodeData[LinkListResponse](t, rec).Total)
}

func TestLinkHandler_Create_Conflict(t *testing.T) {
	h := NewLinkHandler(&mockLinkService{returnErr: apperrors.ErrConflict}, zap.NewNop())

	rec := serve(t, http.MethodPost, fmt.Sprintf("/api/owners/%s/links", uuid.New()),
		jsonBody(t, CreateLinkRequest{Folder: "certificados", TablaID: uuid.New()}), h)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", errorCode(t, rec))
}

func TestLinkHandler_Resolve(t *testing.T) {
	links := &mockLinkService{}
	h := NewLinkHandler(links, zap.NewNop())
	ownerID := uuid.New()

	rec := serve(t, http.MethodGet, fmt.Sprintf("/api/owners/%s/links/resolve?folder=Certificados/2024", ownerID), nil, h)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Certificados/2024", links.resolved)
	assert.Contains(t, rec.Body.String(), `"links":[]`)

	rec = serve(t, http.MethodGet, fmt.Sprintf("/api/owners/%s/links/resolve", ownerID), nil, h)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLinkHandler_Delete(t *testing.T) {
	ownerID := uuid.New()

	rec := serve(t, http.MethodDelete, fmt.Sprintf("/api/owners/%s/links/%s", ownerID, uuid.New()), nil,
		NewLinkHandler(&mockLinkService{}, zap.NewNop()))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = serve(t, http.MethodDelete, fmt.Sprintf("/api/owners/%s/links/%s", ownerID, uuid.New()), nil,
		NewLinkHandler(&mockLinkService{returnErr: apperrors.ErrNotFound}, zap.NewNop()))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(t, http.MethodDelete, fmt.Sprintf("/api/owners/%s/links/nope", ownerID), nil,
		NewLinkHandler(&mockLinkService{}, zap.NewNop()))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_link_id", errorCode(t, rec))
}
