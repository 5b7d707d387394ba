package server

import (
	"github.com/worldlens/worldlens/internal/folder"
	"github.com/worldlens/worldlens/internal/resource"
	"github.com/worldlens/worldlens/internal/worlddb"
)

// Node is a JSON snapshot of one scanned folder.
type Node struct {
	Path         string        `json:"path"`
	Name         string        `json:"name"`
	State        string        `json:"state"`
	Files        []FileNode    `json:"files,omitempty"`
	Stores       []StoreNode   `json:"stores,omitempty"`
	Subfolders   []*Node       `json:"subfolders,omitempty"`
	FailedFiles  []FailureNode `json:"failed_files,omitempty"`
	FailedStores []FailureNode `json:"failed_stores,omitempty"`
}

type FileNode struct {
	Path        string `json:"path"`
	Format      string `json:"format"`
	Size        int64  `json:"size"`
	Description string `json:"description"`
}

type StoreNode struct {
	Path      string `json:"path"`
	LevelName string `json:"level_name"`
	Engine    string `json:"engine"`
	State     string `json:"state"`
	KeyCount  int    `json:"key_count,omitempty"`
}

type FailureNode struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// BuildTree snapshots f and every subfolder below it. Unscanned subfolders
// appear with their state and no children.
func BuildTree(f *folder.Folder) *Node {
	n := &Node{
		Path:  f.Path(),
		Name:  f.Name(),
		State: f.State().String(),
	}
	for _, leaf := range f.Files() {
		n.Files = append(n.Files, fileNode(leaf))
	}
	for _, s := range f.Stores() {
		n.Stores = append(n.Stores, storeNode(s))
	}
	for _, sub := range f.Subfolders() {
		n.Subfolders = append(n.Subfolders, BuildTree(sub))
	}
	n.FailedFiles = failureNodes(f.FailedFiles())
	n.FailedStores = failureNodes(f.FailedStores())
	return n
}

func fileNode(leaf resource.Leaf) FileNode {
	return FileNode{
		Path:        leaf.Path(),
		Format:      string(leaf.Format()),
		Size:        leaf.Size(),
		Description: leaf.Describe(),
	}
}

func storeNode(s *worlddb.Folder) StoreNode {
	return StoreNode{
		Path:      s.Path(),
		LevelName: s.LevelName(),
		Engine:    string(s.Engine()),
		State:     s.State().String(),
		KeyCount:  s.KeyCount(),
	}
}

func failureNodes(fs []folder.Failure) []FailureNode {
	var out []FailureNode
	for _, f := range fs {
		out = append(out, FailureNode{Path: f.Path, Error: f.Err.Error()})
	}
	return out
}

// Count returns how many files, stores and failures the tree holds.
func (n *Node) Count() (files, stores, failed int) {
	files = len(n.Files)
	stores = len(n.Stores)
	failed = len(n.FailedFiles) + len(n.FailedStores)
	for _, sub := range n.Subfolders {
		f, s, x := sub.Count()
		files += f
		stores += s
		failed += x
	}
	return files, stores, failed
}
