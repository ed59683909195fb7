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
	"github.com/ekaya-inc/obra-engine/pkg/config"
	"github.com/ekaya-inc/obra-engine/pkg/models"
	"github.com/ekaya-inc/obra-engine/pkg/services"
)

func TestTablaHandler_Create(t *testing.T) {
	ownerID := uuid.New()
	svc := newMockTablaService()
	h := NewTablaHandler(svc, zap.NewNop())

	rec := serve(t, http.MethodPost, fmt.Sprintf("/api/owners/%s/tablas", ownerID), jsonBody(t, services.CreateTablaRequest{
		Name:            "Certificados",
		DataInputMethod: models.DataInputExtraction,
		Columns:         []models.Column{{Label: "Monto", DataType: models.DataTypeCurrency}},
		Folder:          "Certificados",
	}), h)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeData[TablaCreatedResponse](t, rec)
	assert.Equal(t, "Certificados", created.Tabla.Name)
	assert.Equal(t, ownerID, created.Tabla.OwnerID)
	require.NotNil(t, created.Link)
	assert.Equal(t, created.Tabla.ID, created.Link.TablaID)
	assert.Equal(t, "Certificados", svc.created.Folder)
}

func TestTablaHandler_Create_Errors(t *testing.T) {
	ownerID := uuid.New()
	tests := []struct {
		name       string
		createErr  error
		body       string
		wantStatus int
		wantCode   string
	}{
		{"schema conflict", &apperrors.SchemaConflictError{FieldKey: "monto", Labels: []string{"Monto", "MONTO"}}, `{"name":"x"}`, http.StatusConflict, "schema_conflict"},
		{"invalid input", fmt.Errorf("name is required: %w", apperrors.ErrInvalidInput), `{"name":""}`, http.StatusBadRequest, "invalid_request"},
		{"malformed body", nil, `{"name":`, http.StatusBadRequest, "invalid_request"},
		{"storage failure", fmt.Errorf("insert tabla: connection reset"), `{"name":"x"}`, http.StatusInternalServerError, "create_tabla_failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newMockTablaService()
			svc.createErr = tt.createErr
			h := NewTablaHandler(svc, zap.NewNop())

			rec := serve(t, http.MethodPost, fmt.Sprintf("/api/owners/%s/tablas", ownerID), stringsBody(tt.body), h)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, errorCode(t, rec))
		})
	}
}

func TestTablaHandler_List(t *testing.T) {
	ownerID := uuid.New()
	svc := newMockTablaService(
		&models.Tabla{ID: uuid.New(), OwnerID: ownerID, Name: "Certificados"},
		&models.Tabla{ID: uuid.New(), OwnerID: uuid.New(), Name: "Ajena"},
	)
	h := NewTablaHandler(svc, zap.NewNop())

	rec := serve(t, http.MethodGet, fmt.Sprintf("/api/owners/%s/tablas", ownerID), nil, h)

	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeData[TablaListResponse](t, rec)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "Certificados", list.Tablas[0].Name)
}

func TestTablaHandler_List_EmptyIsArray(t *testing.T) {
	h := NewTablaHandler(newMockTablaService(), zap.NewNop())

	rec := serve(t, http.MethodGet, fmt.Sprintf("/api/owners/%s/tablas", uuid.New()), nil, h)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"tablas":[]`)
}

func TestTablaHandler_ForeignOwnerIsNotFound(t *testing.T) {
	tabla := &models.Tabla{ID: uuid.New(), OwnerID: uuid.New(), Name: "Ajena"}
	svc := newMockTablaService(tabla)
	h := NewTablaHandler(svc, zap.NewNop())
	target := fmt.Sprintf("/api/owners/%s/tablas/%s", uuid.New(), tabla.ID)

	rec := serve(t, http.MethodGet, target, nil, h)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(t, http.MethodDelete, target, nil, h)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, svc.tablas, tabla.ID)
}

func TestTablaHandler_UpdateColumns(t *testing.T) {
	ownerID := uuid.New()
	tabla := &models.Tabla{ID: uuid.New(), OwnerID: ownerID, Name: "Certificados"}
	h := NewTablaHandler(newMockTablaService(tabla), zap.NewNop())
	target := fmt.Sprintf("/api/owners/%s/tablas/%s/columns", ownerID, tabla.ID)

	rec := serve(t, http.MethodPatch, target, jsonBody(t, UpdateColumnsRequest{Columns: []models.Column{
		{Label: "Monto", DataType: models.DataTypeNumber},
		{Label: "monto", DataType: models.DataTypeNumber},
	}}), h)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "schema_conflict", errorCode(t, rec))

	rec = serve(t, http.MethodPatch, target, jsonBody(t, UpdateColumnsRequest{Columns: []models.Column{
		{Label: "Monto", DataType: models.DataTypeNumber},
	}}), h)
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decodeData[models.Tabla](t, rec)
	assert.Len(t, updated.Columns, 1)
}

func TestTablaHandler_Delete(t *testing.T) {
	ownerID := uuid.New()
	tabla := &models.Tabla{ID: uuid.New(), OwnerID: ownerID}
	svc := newMockTablaService(tabla)
	h := NewTablaHandler(svc, zap.NewNop())

	rec := serve(t, http.MethodDelete, fmt.Sprintf("/api/owners/%s/tablas/%s", ownerID, tabla.ID), nil, h)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotContains(t, svc.tablas, tabla.ID)
}

func TestTablaHandler_Templates(t *testing.T) {
	svc := newMockTablaService()
	svc.templates = []config.TablaTemplate{{Key: "certificados", Name: "Certificados"}}
	h := NewTablaHandler(svc, zap.NewNop())
	ownerID := uuid.New()

	rec := serve(t, http.MethodGet, "/api/tabla-templates", nil, h)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeData[[]config.TablaTemplate](t, rec), 1)

	rec = serve(t, http.MethodPost, fmt.Sprintf("/api/owners/%s/tablas/from-template", ownerID),
		jsonBody(t, CreateFromTemplateRequest{TemplateKey: "certificados", Folder: "Certificados"}), h)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Certificados", decodeData[TablaCreatedResponse](t, rec).Tabla.Name)

	rec = serve(t, http.MethodPost, fmt.Sprintf("/api/owners/%s/tablas/from-template", ownerID),
		jsonBody(t, CreateFromTemplateRequest{TemplateKey: "desconocida"}), h)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(t, http.MethodPost, fmt.Sprintf("/api/owners/%s/tablas/from-template", ownerID),
		jsonBody(t, CreateFromTemplateRequest{}), h)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
