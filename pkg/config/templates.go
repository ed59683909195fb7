package config

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/obra-engine/pkg/models"
	"github.com/ekaya-inc/obra-engine/pkg/textnorm"
)

//go:embed templates.yaml
var defaultTemplates []byte

// TablaTemplate is a predefined tabla schema, optionally bound to a folder.
type TablaTemplate struct {
	Key             string           `yaml:"-"`
	Name            string           `yaml:"name"`
	Description     string           `yaml:"description"`
	DataInputMethod string           `yaml:"data_input_method"`
	Folder          string           `yaml:"folder"`
	Columns         []TemplateColumn `yaml:"columns"`
}

// TemplateColumn is one column of a template. FieldKey defaults to the normalized label.
type TemplateColumn struct {
	Label       string               `yaml:"label"`
	FieldKey    string               `yaml:"field_key"`
	DataType    string               `yaml:"data_type"`
	Required    bool                 `yaml:"required"`
	Formula     string               `yaml:"formula"`
	Conditional *TemplateConditional `yaml:"conditional"`
}

// TemplateConditional mirrors models.Conditional with YAML keys.
type TemplateConditional struct {
	WarnBelow     *float64 `yaml:"warn_below"`
	WarnAbove     *float64 `yaml:"warn_above"`
	CriticalBelow *float64 `yaml:"critical_below"`
	CriticalAbove *float64 `yaml:"critical_above"`
}

type templateFile struct {
	Templates map[string]TablaTemplate `yaml:"templates"`
}

// LoadTablaTemplates reads templates from a YAML file. An empty path loads
// the built-in set. Templates are returned sorted by key.
func LoadTablaTemplates(path string) ([]TablaTemplate, error) {
	data := defaultTemplates
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("read templates: %w", err)
		}
	}
	return ParseTablaTemplates(data)
}

// ParseTablaTemplates decodes and validates a templates document.
func ParseTablaTemplates(data []byte) ([]TablaTemplate, error) {
	var file templateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	out := make([]TablaTemplate, 0, len(file.Templates))
	for key, tpl := range file.Templates {
		tpl.Key = key
		if tpl.Name == "" {
			return nil, fmt.Errorf("template %q: name is required", key)
		}
		if tpl.DataInputMethod == "" {
			tpl.DataInputMethod = string(models.DataInputMixed)
		}
		if !models.DataInputMethod(tpl.DataInputMethod).IsValid() {
			return nil, fmt.Errorf("template %q: unknown data_input_method %q", key, tpl.DataInputMethod)
		}
		for i, col := range tpl.Columns {
			if col.DataType == "" {
				col.DataType = string(models.DataTypeText)
			}
			if !models.DataType(col.DataType).IsValid() {
				return nil, fmt.Errorf("template %q column %q: unknown data_type %q", key, col.Label, col.DataType)
			}
			tpl.Columns[i] = col
		}
		out = append(out, tpl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// ModelColumns converts the template columns to schema columns. IDs are
// left zero; the registry assigns them.
func (t *TablaTemplate) ModelColumns() []models.Column {
	cols := make([]models.Column, 0, len(t.Columns))
	for _, c := range t.Columns {
		col := models.Column{
			Label:    c.Label,
			FieldKey: c.FieldKey,
			DataType: models.DataType(c.DataType),
			Required: c.Required,
		}
		if col.FieldKey == "" {
			col.FieldKey = textnorm.NormalizeFieldKey(c.Label)
		}
		if c.Formula != "" || c.Conditional != nil {
			col.Config = &models.ColumnConfig{Formula: c.Formula}
			if cond := c.Conditional; cond != nil {
				col.Config.Conditional = &models.Conditional{
					WarnBelow:     cond.WarnBelow,
					WarnAbove:     cond.WarnAbove,
					CriticalBelow: cond.CriticalBelow,
					CriticalAbove: cond.CriticalAbove,
				}
			}
		}
		cols = append(cols, col)
	}
	return cols
}
