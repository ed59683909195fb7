// Package linking resolves which tablas a folder or document feeds.
//
// A folder can be bound to any number of tablas. Lookups always return a
// list; an empty list means the folder has no schema attached.
package linking

import (
	"github.com/google/uuid"

	"github.com/ekaya-inc/obra-engine/pkg/models"
	"github.com/ekaya-inc/obra-engine/pkg/textnorm"
)

// Resolver is an immutable index over one owner's extraction links.
// Build a new one whenever the link set changes.
type Resolver struct {
	links  []models.ExtractionLink
	byPath map[string][]models.ExtractionLink
	byFlat map[string][]models.ExtractionLink
}

// NewResolver indexes links by normalized path and by flattened name.
// Registration order is preserved inside each bucket.
func NewResolver(links []models.ExtractionLink) *Resolver {
	r := &Resolver{
		links:  links,
		byPath: make(map[string][]models.ExtractionLink),
		byFlat: make(map[string][]models.ExtractionLink),
	}
	for _, link := range links {
		key := linkPath(link)
		if key == "" {
			continue
		}
		r.byPath[key] = append(r.byPath[key], link)
		flat := textnorm.FlattenPath(key)
		r.byFlat[flat] = append(r.byFlat[flat], link)
	}
	return r
}

func linkPath(link models.ExtractionLink) string {
	if p := textnorm.NormalizeFolderPath(link.FolderPath); p != "" {
		return p
	}
	return textnorm.NormalizeFolderPath(link.FolderName)
}

// Links returns every indexed link.
func (r *Resolver) Links() []models.ExtractionLink {
	return r.links
}

// ResolveFolder returns the links for folderPath, trying an exact match,
// then a flattened match, then each ancestor folder in turn.
func (r *Resolver) ResolveFolder(folderPath string) []models.ExtractionLink {
	p := textnorm.NormalizeFolderPath(folderPath)
	for p != "" {
		if links := r.match(p); len(links) > 0 {
			return links
		}
		p = textnorm.ParentPath(p)
	}
	return nil
}

// ResolveDocument returns the links for the folder that contains doc.
// An explicit extraction folder tag wins over the storage path. Ancestor
// folders are never consulted for documents.
func (r *Resolver) ResolveDocument(doc *models.Document) []models.ExtractionLink {
	if doc == nil {
		return nil
	}
	return r.match(textnorm.NormalizeFolderPath(DocumentFolder(doc)))
}

// DocumentFolder is the folder a document is extracted as.
func DocumentFolder(doc *models.Document) string {
	if doc.ExtractionFolder != "" {
		return doc.ExtractionFolder
	}
	return doc.FolderPath()
}

func (r *Resolver) match(normalized string) []models.ExtractionLink {
	if normalized == "" {
		return nil
	}
	if links := r.byPath[normalized]; len(links) > 0 {
		return clone(links)
	}
	return clone(r.byFlat[textnorm.FlattenPath(normalized)])
}

func clone(links []models.ExtractionLink) []models.ExtractionLink {
	if len(links) == 0 {
		return nil
	}
	out := make([]models.ExtractionLink, len(links))
	copy(out, links)
	return out
}

// DistinctTablas drops links whose tabla already appeared earlier in the list.
func DistinctTablas(links []models.ExtractionLink) []models.ExtractionLink {
	seen := make(map[uuid.UUID]bool, len(links))
	out := make([]models.ExtractionLink, 0, len(links))
	for _, l := range links {
		if seen[l.TablaID] {
			continue
		}
		seen[l.TablaID] = true
		out = append(out, l)
	}
	return out
}
