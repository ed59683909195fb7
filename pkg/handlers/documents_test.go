package handlers

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/obra-engine/pkg/apperrors"
	"github.com/ekaya-inc/obra-engine/pkg/models"
)

func multipartUpload(t *testing.T, fields map[string]string, fileName, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileName != "" {
		part, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func postUpload(h *DocumentHandler, ownerID uuid.UUID, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux, passthroughOwner)
	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/owners/%s/documents", ownerID), body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestDocumentHandler_Upload(t *testing.T) {
	ownerID := uuid.New()
	docs := &mockDocumentService{}
	h := NewDocumentHandler(docs, &mockImportService{}, 1<<20, zap.NewNop())

	body, ct := multipartUpload(t, map[string]string{
		"folder":            "Certificados/2024",
		"extraction_folder": "Certificados",
	}, "c1.pdf", "%PDF-1.4 test")
	rec := postUpload(h, ownerID, body, ct)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	doc := decodeData[models.Document](t, rec)
	assert.Equal(t, ownerID.String()+"/Certificados/2024/c1.pdf", doc.StoragePath)
	assert.Equal(t, int64(len("%PDF-1.4 test")), doc.SizeBytes)
	assert.Equal(t, "Certificados", docs.uploaded.ExtractionFolder)
	assert.Equal(t, "%PDF-1.4 test", docs.uploadedBody)
}

func TestDocumentHandler_Upload_Errors(t *testing.T) {
	ownerID := uuid.New()

	t.Run("missing file part", func(t *testing.T) {
		h := NewDocumentHandler(&mockDocumentService{}, &mockImportService{}, 1<<20, zap.NewNop())
		body, ct := multipartUpload(t, map[string]string{"folder": "x"}, "", "")
		rec := postUpload(h, ownerID, body, ct)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("not multipart", func(t *testing.T) {
		h := NewDocumentHandler(&mockDocumentService{}, &mockImportService{}, 1<<20, zap.NewNop())
		rec := postUpload(h, ownerID, bytes.NewBufferString(`{}`), "application/json")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("too large", func(t *testing.T) {
		h := NewDocumentHandler(&mockDocumentService{}, &mockImportService{}, 64, zap.NewNop())
		body, ct := multipartUpload(t, nil, "big.pdf", string(bytes.Repeat([]byte("x"), 4096)))
		rec := postUpload(h, ownerID, body, ct)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Equal(t, "file_too_large", errorCode(t, rec))
	})

	t.Run("conflicting path", func(t *testing.T) {
		h := NewDocumentHandler(&mockDocumentService{returnErr: apperrors.ErrConflict}, &mockImportService{}, 1<<20, zap.NewNop())
		body, ct := multipartUpload(t, nil, "c1.pdf", "x")
		rec := postUpload(h, ownerID, body, ct)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestDocumentHandler_Tree(t *testing.T) {
	ownerID := uuid.New()
	root := &models.FolderNode{Name: "", Path: ""}
	root.Child("Certificados").LinkIDs = []uuid.UUID{uuid.New()}
	docs := &mockDocumentService{tree: &models.DocumentsTree{OwnerID: ownerID, Root: root}}
	h := NewDocumentHandler(docs, &mockImportService{}, 0, zap.NewNop())

	rec := serve(t, http.MethodGet, fmt.Sprintf("/api/owners/%s/documents-tree", ownerID), nil, h)

	require.Equal(t, http.StatusOK, rec.Code)
	tree := decodeData[models.DocumentsTree](t, rec)
	require.Len(t, tree.Root.Folders, 1)
	assert.Equal(t, "Certificados", tree.Root.Folders[0].Name)
	assert.Len(t, tree.Root.Folders[0].LinkIDs, 1)
}

func TestDocumentHandler_GetMoveDelete(t *testing.T) {
	ownerID := uuid.New()
	docID := uuid.New()
	docs := &mockDocumentService{doc: &models.Document{ID: docID, OwnerID: ownerID, StoragePath: ownerID.String() + "/Archivo/c1.pdf"}}
	h := NewDocumentHandler(docs, &mockImportService{}, 0, zap.NewNop())
	target := fmt.Sprintf("/api/owners/%s/documents/%s", ownerID, docID)

	rec := serve(t, http.MethodGet, target, nil, h)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, docID, decodeData[models.Document](t, rec).ID)

	rec = serve(t, http.MethodPatch, target, jsonBody(t, MoveDocumentRequest{Folder: "Archivo"}), h)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Archivo", docs.movedTo)

	rec = serve(t, http.MethodDelete, target, nil, h)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	docs.returnErr = apperrors.ErrNotFound
	rec = serve(t, http.MethodGet, target, nil, h)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDocumentHandler_Import(t *testing.T) {
	ownerID := uuid.New()
	docID := uuid.New()
	resumen := uuid.New()
	items := uuid.New()
	imports := &mockImportService{result: &models.ImportResult{
		DocumentID: docID,
		Results: []models.TablaImportResult{
			{TablaID: resumen, TablaName: "Resumen", Inserted: 1},
			{TablaID: items, TablaName: "Items", Error: "Items: extraction backend unavailable"},
		},
	}}
	h := NewDocumentHandler(&mockDocumentService{}, imports, 0, zap.NewNop())

	rec := serve(t, http.MethodPost, fmt.Sprintf("/api/owners/%s/import", ownerID), jsonBody(t, models.ImportRequest{
		Document: models.DocumentRef{DocumentID: &docID},
		TablaIDs: []uuid.UUID{resumen, items},
		Commit:   true,
	}), h)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decodeData[models.ImportResult](t, rec)
	assert.Equal(t, 1, result.Failed())
	assert.Equal(t, docID, *imports.req.Document.DocumentID)
	assert.True(t, imports.req.Commit)
}

func TestDocumentHandler_Import_UnknownDocument(t *testing.T) {
	imports := &mockImportService{returnErr: fmt.Errorf("document: %w", apperrors.ErrNotFound)}
	h := NewDocumentHandler(&mockDocumentService{}, imports, 0, zap.NewNop())

	rec := serve(t, http.MethodPost, fmt.Sprintf("/api/owners/%s/import", uuid.New()),
		stringsBody(`{"document":{"storage_path":"nope.pdf"}}`), h)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
