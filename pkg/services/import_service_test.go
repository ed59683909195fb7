package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/obra-engine/pkg/apperrors"
	"github.com/ekaya-inc/obra-engine/pkg/materialize"
	"github.com/ekaya-inc/obra-engine/pkg/models"
)

// importFixture is a folder "Certificados" linked to two tablas.
type importFixture struct {
	*engine
	ownerID uuid.UUID
	resumen *models.Tabla
	items   *models.Tabla
	doc     *models.Document
}

func newImportFixture(t *testing.T) *importFixture {
	t.Helper()
	e := newEngine(t)
	ctx := context.Background()
	ownerID := uuid.New()

	resumen, _, err := e.tablas.CreateTable(ctx, ownerID, CreateTablaRequest{
		Name:            "Resumen",
		DataInputMethod: models.DataInputExtraction,
		Columns:         certificadoColumns(),
		Folder:          "Certificados",
	})
	require.NoError(t, err)
	items, _, err := e.tablas.CreateTable(ctx, ownerID, CreateTablaRequest{
		Name:            "Items",
		DataInputMethod: models.DataInputExtraction,
		Columns: []models.Column{
			{Label: "Descripcion"},
			{Label: "Importe", DataType: models.DataTypeCurrency},
		},
		Folder: "Certificados",
	})
	require.NoError(t, err)

	e.extractor.rows["Resumen"] = []map[string]any{{"Monto Total": "1000", "monto_certificado": 400}}
	e.extractor.rows["Items"] = []map[string]any{
		{"descripcion": "Excavación", "importe": 250},
		{"descripcion": "Hormigón", "importe": 150},
	}

	return &importFixture{
		engine:  e,
		ownerID: ownerID,
		resumen: resumen,
		items:   items,
		doc:     e.upload(t, ownerID, "Certificados", "cert-01.pdf"),
	}
}

func (f *importFixture) importDoc(t *testing.T, commit bool, tablaIDs ...uuid.UUID) *models.ImportResult {
	t.Helper()
	res, err := f.imports.Import(context.Background(), f.ownerID, models.ImportRequest{
		Document: models.DocumentRef{DocumentID: &f.doc.ID},
		TablaIDs: tablaIDs,
		Commit:   commit,
	})
	require.NoError(t, err)
	return res
}

func resultFor(res *models.ImportResult, tablaID uuid.UUID) models.TablaImportResult {
	for _, r := range res.Results {
		if r.TablaID == tablaID {
			return r
		}
	}
	return models.TablaImportResult{}
}

func TestImportService_FansOutToEveryLinkedTabla(t *testing.T) {
	f := newImportFixture(t)
	ctx := context.Background()

	res := f.importDoc(t, true)
	require.Len(t, res.Results, 2)
	assert.Equal(t, 1, resultFor(res, f.resumen.ID).Inserted)
	assert.Equal(t, 2, resultFor(res, f.items.ID).Inserted)
	assert.Zero(t, res.Failed())
	assert.Len(t, f.extractor.calls, 2)

	counts, err := f.rowRepo.CountBySourcePath(ctx, f.doc.StoragePath)
	require.NoError(t, err)
	assert.Equal(t, map[uuid.UUID]int{f.resumen.ID: 1, f.items.ID: 2}, counts)

	resumen, err := f.rows.Materialize(ctx, f.resumen.ID, RowQuery{})
	require.NoError(t, err)
	require.Len(t, resumen.Rows, 1)
	assert.Equal(t, 600.0, resumen.Rows[0].Data["saldo"])
	assert.Equal(t, "cert-01.pdf", resumen.Rows[0].SourceName)

	doc, err := f.docs.Get(ctx, f.ownerID, f.doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OCRStatusCompleted, doc.OCRStatus)
	assert.Equal(t, 3, doc.ExtractedRows)
	assert.Equal(t, []models.OCRStatus{
		models.OCRStatusPending,
		models.OCRStatusProcessing,
		models.OCRStatusCompleted,
	}, f.docRepo.statuses)
}

func TestImportService_FilterBySourceDocument(t *testing.T) {
	f := newImportFixture(t)
	ctx := context.Background()

	_, err := f.rows.SaveRows(ctx, f.items.ID, models.RowsSaveRequest{Rows: []models.Row{{
		Data:       map[string]any{"descripcion": "Acero", "importe": 900},
		SourcePath: f.ownerID.String() + "/Certificados/cert-02.pdf",
	}}})
	require.NoError(t, err)

	f.importDoc(t, true)

	view, err := f.rows.Materialize(ctx, f.items.ID, RowQuery{Filter: materialize.Filter{SourcePath: f.doc.StoragePath}})
	require.NoError(t, err)
	assert.Equal(t, 3, view.Total)
	require.Len(t, view.Rows, 2)
	for _, row := range view.Rows {
		assert.Equal(t, f.doc.StoragePath, row.SourcePath)
	}
}

func TestImportService_FailuresAreIndependent(t *testing.T) {
	f := newImportFixture(t)
	ctx := context.Background()
	f.extractor.errs["Resumen"] = errors.New("model returned no rows")

	res := f.importDoc(t, true)
	assert.Equal(t, 1, res.Failed())
	assert.Contains(t, resultFor(res, f.resumen.ID).Error, "model returned no rows")
	assert.Zero(t, resultFor(res, f.resumen.ID).Inserted)
	assert.Equal(t, 2, resultFor(res, f.items.ID).Inserted)

	doc, err := f.docs.Get(ctx, f.ownerID, f.doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OCRStatusCompleted, doc.OCRStatus)
	assert.Equal(t, 2, doc.ExtractedRows)
	require.Len(t, doc.ExtractionErrors, 1)
	assert.Contains(t, doc.ExtractionErrors[0], "Resumen: ")
}

func TestImportService_PersistFailureKeepsSiblings(t *testing.T) {
	f := newImportFixture(t)
	f.rowRepo.insertErr[f.items.ID] = errors.New("connection reset")

	res := f.importDoc(t, true)
	assert.Equal(t, 1, resultFor(res, f.resumen.ID).Inserted)
	assert.NotEmpty(t, resultFor(res, f.items.ID).Error)

	counts, err := f.rowRepo.CountBySourcePath(context.Background(), f.doc.StoragePath)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[f.resumen.ID])
	assert.Zero(t, counts[f.items.ID])
}

func TestImportService_AllFailedMarksDocumentFailed(t *testing.T) {
	f := newImportFixture(t)
	f.extractor.errs["Resumen"] = errors.New("boom")
	f.extractor.errs["Items"] = errors.New("boom")

	res := f.importDoc(t, true)
	assert.Equal(t, 2, res.Failed())

	doc, err := f.docs.Get(context.Background(), f.ownerID, f.doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OCRStatusFailed, doc.OCRStatus)
	assert.Len(t, doc.ExtractionErrors, 2)
}

func TestImportService_ReimportReplacesRows(t *testing.T) {
	f := newImportFixture(t)

	f.importDoc(t, true)
	f.importDoc(t, true)

	counts, err := f.rowRepo.CountBySourcePath(context.Background(), f.doc.StoragePath)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[f.items.ID])
}

func TestImportService_PreviewWritesNothing(t *testing.T) {
	f := newImportFixture(t)

	res := f.importDoc(t, false)
	assert.Equal(t, 2, resultFor(res, f.items.ID).Inserted)
	assert.Empty(t, f.rowRepo.rows)
	assert.Empty(t, f.docRepo.statuses)
}

func TestImportService_ExplicitTargets(t *testing.T) {
	f := newImportFixture(t)
	ctx := context.Background()

	manual, _, err := f.tablas.CreateTable(ctx, f.ownerID, CreateTablaRequest{
		Name:            "Notas",
		DataInputMethod: models.DataInputManual,
	})
	require.NoError(t, err)
	foreign, _, err := f.tablas.CreateTable(ctx, uuid.New(), CreateTablaRequest{Name: "Ajena"})
	require.NoError(t, err)

	res := f.importDoc(t, true, f.items.ID, manual.ID, foreign.ID, f.items.ID)
	require.Len(t, res.Results, 3, "duplicate targets collapse")
	assert.Equal(t, 2, resultFor(res, f.items.ID).Inserted)
	assert.Contains(t, resultFor(res, manual.ID).Error, "manual")
	assert.Contains(t, resultFor(res, foreign.ID).Error, "not found")
	assert.Equal(t, []string{"Items"}, f.extractor.calls)
}

func TestImportService_UnlinkedFolder(t *testing.T) {
	f := newImportFixture(t)
	f.doc = f.upload(t, f.ownerID, "Varios", "nota.pdf")

	res := f.importDoc(t, true)
	assert.Empty(t, res.Results)
	assert.Empty(t, f.extractor.calls)
}

func TestImportService_ExtractionFolderTag(t *testing.T) {
	f := newImportFixture(t)
	ctx := context.Background()

	doc, err := f.docs.Upload(ctx, f.ownerID, UploadRequest{
		Folder:           "Recibidos",
		FileName:         "scan.pdf",
		ExtractionFolder: "certificados",
		Body:             strings.NewReader("x"),
	})
	require.NoError(t, err)
	f.doc = doc

	res := f.importDoc(t, false)
	assert.Len(t, res.Results, 2)
}

func TestImportService_UnknownDocument(t *testing.T) {
	f := newImportFixture(t)
	id := uuid.New()
	_, err := f.imports.Import(context.Background(), f.ownerID, models.ImportRequest{
		Document: models.DocumentRef{DocumentID: &id},
	})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
