package models

import "github.com/google/uuid"

// DocumentsTree is the folder/file listing of an owner together with
// every extraction link the owner has registered.
type DocumentsTree struct {
	OwnerID uuid.UUID        `json:"owner_id"`
	Root    *FolderNode      `json:"root"`
	Links   []ExtractionLink `json:"links"`
}

// FolderNode is one folder of the documents tree.
type FolderNode struct {
	Name    string        `json:"name"`
	Path    string        `json:"path"`
	Folders []*FolderNode `json:"folders,omitempty"`
	Files   []Document    `json:"files,omitempty"`
	LinkIDs []uuid.UUID   `json:"link_ids,omitempty"`
}

// Child returns the named sub-folder, creating it if needed.
func (n *FolderNode) Child(name string) *FolderNode {
	for _, f := range n.Folders {
		if f.Name == name {
			return f
		}
	}
	childPath := name
	if n.Path != "" {
		childPath = n.Path + "/" + name
	}
	child := &FolderNode{Name: name, Path: childPath}
	n.Folders = append(n.Folders, child)
	return child
}
