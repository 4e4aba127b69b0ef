// Package certificates holds the immutable cell certificate: a point-in-time
// snapshot of a prison's certified accommodation, issued when a certification
// approval is signed off. Exactly one certificate per prison is current.
package certificates

import (
	"time"

	"locations-inside-prison/internal/locations"
	id "locations-inside-prison/pkg/domain"
)

// SnapshotNode is one location frozen into a certificate. The nesting mirrors
// the live tree at approval time; nothing here changes after issue.
type SnapshotNode struct {
	Code             string                  `json:"code"`
	PathHierarchy    string                  `json:"pathHierarchy"`
	LocationType     locations.LocationType  `json:"locationType"`
	LocalName        string                  `json:"localName,omitempty"`
	CellMark         string                  `json:"cellMark,omitempty"`
	InCellSanitation *bool                   `json:"inCellSanitation,omitempty"`
	Capacity         locations.Capacity      `json:"capacity"`
	Certification    locations.Certification `json:"certification"`
	SubLocations     []SnapshotNode          `json:"subLocations,omitempty"`
}

// CellCertificate is an issued certificate. Totals are denormalized from the
// snapshot at issue time so readers never have to walk it.
type CellCertificate struct {
	ID         id.CertificateID
	PrisonID   string
	ApprovedBy string
	ApprovedAt time.Time
	// Current marks the single in-force certificate of the prison. Issuing a
	// new one demotes the previous current; it is never deleted.
	Current bool

	TotalMaxCapacity             int
	TotalWorkingCapacity         int
	CertifiedNormalAccommodation int

	Locations []SnapshotNode
}

// Snapshot freezes the residential tree of a prison into certificate nodes.
// Draft and archived locations and non-residential rooms are left out; a
// certificate only ever describes accommodation in use.
func Snapshot(tree *locations.Tree) []SnapshotNode {
	var out []SnapshotNode
	for _, root := range tree.Roots() {
		if node, ok := snapshotNode(tree, root); ok {
			out = append(out, node)
		}
	}
	return out
}

func snapshotNode(tree *locations.Tree, loc *locations.Location) (SnapshotNode, bool) {
	if loc.Kind() == locations.KindNonResidential ||
		loc.Status == locations.StatusDraft ||
		loc.IsPermanentlyInactive() {
		return SnapshotNode{}, false
	}
	node := SnapshotNode{
		Code:             loc.Code,
		PathHierarchy:    loc.PathHierarchy,
		LocationType:     loc.LocationType,
		LocalName:        loc.LocalName,
		CellMark:         loc.CellMark,
		InCellSanitation: loc.InCellSanitation,
		Capacity:         loc.Capacity,
		Certification:    loc.Certification,
	}
	for _, child := range tree.Children(loc.ID) {
		if sub, ok := snapshotNode(tree, child); ok {
			node.SubLocations = append(node.SubLocations, sub)
		}
	}
	return node, true
}

// SnapshotSubtree freezes the subtree rooted at locID, drafts and inactive
// locations included. Approval requests carry it so the reviewer sees every
// location the decision touches as it stood at request time, even after the
// live tree moves on.
func SnapshotSubtree(tree *locations.Tree, locID id.LocationID) []SnapshotNode {
	root := tree.Node(locID)
	if root == nil {
		return nil
	}
	return []SnapshotNode{subtreeNode(tree, root)}
}

func subtreeNode(tree *locations.Tree, loc *locations.Location) SnapshotNode {
	node := SnapshotNode{
		Code:             loc.Code,
		PathHierarchy:    loc.PathHierarchy,
		LocationType:     loc.LocationType,
		LocalName:        loc.LocalName,
		CellMark:         loc.CellMark,
		InCellSanitation: loc.InCellSanitation,
		Capacity:         loc.Capacity,
		Certification:    loc.Certification,
	}
	for _, child := range tree.Children(loc.ID) {
		node.SubLocations = append(node.SubLocations, subtreeNode(tree, child))
	}
	return node
}

// Totals sums the top-level snapshot nodes. Aggregates already roll up inside
// the live tree, so only the roots contribute.
func Totals(nodes []SnapshotNode) (maxCap, workingCap, cna int) {
	for _, node := range nodes {
		maxCap += node.Capacity.MaxCapacity
		workingCap += node.Capacity.WorkingCapacity
		cna += node.Certification.CertifiedNormalAccommodation
	}
	return maxCap, workingCap, cna
}
