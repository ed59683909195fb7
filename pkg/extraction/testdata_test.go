package extraction

import (
	"github.com/google/uuid"

	"github.com/ekaya-inc/obra-engine/pkg/models"
)

func itemsTabla() *models.Tabla {
	return &models.Tabla{
		ID:   uuid.MustParse("00000000-0000-0000-0000-000000000201"),
		Name: "Items",
		Columns: []models.Column{
			{Label: "Descripción", FieldKey: "descripcion", DataType: models.DataTypeText, Required: true},
			{Label: "Cantidad", FieldKey: "cantidad", DataType: models.DataTypeNumber},
			{Label: "Precio Unitario", FieldKey: "precio_unitario", DataType: models.DataTypeCurrency},
			{Label: "Fecha", FieldKey: "fecha", DataType: models.DataTypeDate},
			{Label: "Total", FieldKey: "total", DataType: models.DataTypeCurrency,
				Config: &models.ColumnConfig{Formula: "[cantidad] * [precio_unitario]"}},
		},
	}
}
