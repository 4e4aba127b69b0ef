package locations

import (
	"sort"
	"time"

	id "locations-inside-prison/pkg/domain"
	dErrors "locations-inside-prison/pkg/domain-errors"
)

// Tree is an in-memory materialization of one prison's location hierarchy.
// Nodes are stored flat with a parent/child index; traversals are explicit
// and iterative. A Tree is request-scoped: load, mutate, persist the changed
// nodes, throw it away.
type Tree struct {
	prisonID string
	nodes    map[id.LocationID]*Location
	children map[id.LocationID][]id.LocationID
	roots    []id.LocationID
	byPath   map[string]id.LocationID
}

// NewTree indexes the given locations, which must all belong to one prison.
// A duplicate path hierarchy is a data integrity failure and is rejected.
func NewTree(prisonID string, locs []*Location) (*Tree, error) {
	t := &Tree{
		prisonID: prisonID,
		nodes:    make(map[id.LocationID]*Location, len(locs)),
		children: make(map[id.LocationID][]id.LocationID),
		byPath:   make(map[string]id.LocationID, len(locs)),
	}
	for _, loc := range locs {
		if _, exists := t.byPath[loc.PathHierarchy]; exists {
			return nil, dErrors.Newf(dErrors.CodeDuplicatePathHierarchy,
				"duplicate path hierarchy %q in prison %s", loc.PathHierarchy, prisonID)
		}
		t.nodes[loc.ID] = loc
		t.byPath[loc.PathHierarchy] = loc.ID
	}
	for _, loc := range locs {
		if loc.ParentID == nil {
			t.roots = append(t.roots, loc.ID)
			continue
		}
		t.children[*loc.ParentID] = append(t.children[*loc.ParentID], loc.ID)
	}
	t.sortIndexes()
	return t, nil
}

func (t *Tree) sortIndexes() {
	byCode := func(ids []id.LocationID) {
		sort.Slice(ids, func(i, j int) bool {
			return t.nodes[ids[i]].Code < t.nodes[ids[j]].Code
		})
	}
	byCode(t.roots)
	for _, ids := range t.children {
		byCode(ids)
	}
}

// Node returns the location with the given ID, or nil.
func (t *Tree) Node(locID id.LocationID) *Location { return t.nodes[locID] }

// NodeByPath returns the location with the given path hierarchy, or nil.
func (t *Tree) NodeByPath(path string) *Location {
	locID, ok := t.byPath[path]
	if !ok {
		return nil
	}
	return t.nodes[locID]
}

// Parent returns the parent node, or nil for a top-level location.
func (t *Tree) Parent(locID id.LocationID) *Location {
	node := t.nodes[locID]
	if node == nil || node.ParentID == nil {
		return nil
	}
	return t.nodes[*node.ParentID]
}

// Children returns the direct children ordered by code.
func (t *Tree) Children(locID id.LocationID) []*Location {
	ids := t.children[locID]
	out := make([]*Location, 0, len(ids))
	for _, cid := range ids {
		out = append(out, t.nodes[cid])
	}
	return out
}

// Roots returns the top-level locations ordered by code.
func (t *Tree) Roots() []*Location {
	out := make([]*Location, 0, len(t.roots))
	for _, rid := range t.roots {
		out = append(out, t.nodes[rid])
	}
	return out
}

// Ancestors walks parent links from the immediate parent to the top level.
func (t *Tree) Ancestors(locID id.LocationID) []*Location {
	var out []*Location
	for parent := t.Parent(locID); parent != nil; parent = t.Parent(parent.ID) {
		out = append(out, parent)
	}
	return out
}

// TopLevel returns the root of the subtree containing locID.
func (t *Tree) TopLevel(locID id.LocationID) *Location {
	node := t.nodes[locID]
	if node == nil {
		return nil
	}
	for parent := t.Parent(node.ID); parent != nil; parent = t.Parent(node.ID) {
		node = parent
	}
	return node
}

// Subtree returns locID and every descendant in depth-first pre-order.
func (t *Tree) Subtree(locID id.LocationID) []*Location {
	node := t.nodes[locID]
	if node == nil {
		return nil
	}
	out := []*Location{node}
	for _, child := range t.Children(locID) {
		out = append(out, t.Subtree(child.ID)...)
	}
	return out
}

// Descendants returns every node strictly below locID in pre-order.
func (t *Tree) Descendants(locID id.LocationID) []*Location {
	subtree := t.Subtree(locID)
	if len(subtree) == 0 {
		return nil
	}
	return subtree[1:]
}

// LeafCells returns the unconverted cells in the subtree rooted at locID.
func (t *Tree) LeafCells(locID id.LocationID) []*Location {
	var cells []*Location
	for _, node := range t.Subtree(locID) {
		if node.IsCell() {
			cells = append(cells, node)
		}
	}
	return cells
}

// Attach adds a new location to the tree under its ParentID, deriving its
// path hierarchy from the ancestor chain. Rejects duplicate paths.
func (t *Tree) Attach(loc *Location) error {
	loc.PathHierarchy = t.derivePath(loc)
	if _, exists := t.byPath[loc.PathHierarchy]; exists {
		return dErrors.Newf(dErrors.CodeDuplicatePathHierarchy,
			"path hierarchy %q already exists in prison %s", loc.PathHierarchy, t.prisonID)
	}
	t.nodes[loc.ID] = loc
	t.byPath[loc.PathHierarchy] = loc.ID
	if loc.ParentID == nil {
		t.roots = append(t.roots, loc.ID)
	} else {
		t.children[*loc.ParentID] = append(t.children[*loc.ParentID], loc.ID)
	}
	t.sortIndexes()
	return nil
}

func (t *Tree) derivePath(loc *Location) string {
	if loc.ParentID == nil {
		return loc.Code
	}
	parent := t.nodes[*loc.ParentID]
	if parent == nil {
		return loc.Code
	}
	return parent.PathHierarchy + "-" + loc.Code
}

// Move reparents a subtree. Paths and keys are rebuilt recursively for every
// node in the moved subtree, and both the old and new ancestor chains are
// recomputed. Returns every node whose persisted state changed.
func (t *Tree) Move(locID id.LocationID, newParentID *id.LocationID) ([]*Location, error) {
	node := t.nodes[locID]
	if node == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "location not found in tree")
	}
	if newParentID != nil {
		newParent := t.nodes[*newParentID]
		if newParent == nil {
			return nil, dErrors.New(dErrors.CodeNotFound, "new parent not found in tree")
		}
		for _, anc := range append([]*Location{newParent}, t.Ancestors(newParent.ID)...) {
			if anc.ID == locID {
				return nil, dErrors.New(dErrors.CodeBadRequest, "cannot move a location under its own subtree")
			}
		}
	}

	oldParentID := node.ParentID
	t.detach(node)
	node.ParentID = newParentID

	// Probe the new path before committing the index changes.
	newPath := t.derivePath(node)
	if existing, taken := t.byPath[newPath]; taken && existing != locID {
		node.ParentID = oldParentID
		t.reattach(node)
		return nil, dErrors.Newf(dErrors.CodeDuplicatePathHierarchy,
			"path hierarchy %q already exists in prison %s", newPath, t.prisonID)
	}
	t.reattach(node)

	changed := map[id.LocationID]*Location{}
	for _, moved := range t.rebuildPaths(locID) {
		changed[moved.ID] = moved
	}
	if oldParentID != nil {
		for _, amended := range t.Recompute(*oldParentID) {
			changed[amended.ID] = amended
		}
	}
	for _, amended := range t.Recompute(locID) {
		changed[amended.ID] = amended
	}
	return mapValues(changed), nil
}

func (t *Tree) detach(node *Location) {
	delete(t.byPath, node.PathHierarchy)
	if node.ParentID == nil {
		t.roots = removeID(t.roots, node.ID)
		return
	}
	t.children[*node.ParentID] = removeID(t.children[*node.ParentID], node.ID)
}

func (t *Tree) reattach(node *Location) {
	node.PathHierarchy = t.derivePath(node)
	t.byPath[node.PathHierarchy] = node.ID
	if node.ParentID == nil {
		t.roots = append(t.roots, node.ID)
	} else {
		t.children[*node.ParentID] = append(t.children[*node.ParentID], node.ID)
	}
	t.sortIndexes()
}

// Rename changes a location's code and rebuilds paths for its subtree.
func (t *Tree) Rename(locID id.LocationID, code string) ([]*Location, error) {
	node := t.nodes[locID]
	if node == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "location not found in tree")
	}
	old := node.Code
	node.Code = code
	newPath := t.derivePath(node)
	if existing, taken := t.byPath[newPath]; taken && existing != locID {
		node.Code = old
		return nil, dErrors.Newf(dErrors.CodeDuplicatePathHierarchy,
			"path hierarchy %q already exists in prison %s", newPath, t.prisonID)
	}
	return t.rebuildPaths(locID), nil
}

// rebuildPaths recomputes PathHierarchy for the whole subtree rooted at locID.
// Returns the nodes whose path actually changed.
func (t *Tree) rebuildPaths(locID id.LocationID) []*Location {
	var changed []*Location
	var walk func(n *Location)
	walk = func(n *Location) {
		newPath := t.derivePath(n)
		if newPath != n.PathHierarchy {
			delete(t.byPath, n.PathHierarchy)
			n.PathHierarchy = newPath
			t.byPath[newPath] = n.ID
			changed = append(changed, n)
		}
		for _, child := range t.Children(n.ID) {
			walk(child)
		}
	}
	if node := t.nodes[locID]; node != nil {
		walk(node)
	}
	return changed
}

// Recompute recalculates the aggregate capacity and certification of locID's
// ancestors (and of locID itself when it has children), walking up to the top
// level. Returns the nodes whose aggregates changed.
func (t *Tree) Recompute(locID id.LocationID) []*Location {
	var changed []*Location
	node := t.nodes[locID]
	for node != nil {
		if len(t.children[node.ID]) > 0 && t.recalculate(node) {
			changed = append(changed, node)
		}
		node = t.Parent(node.ID)
	}
	return changed
}

// recalculate rebuilds one non-leaf node's aggregates from its direct
// children. Reports whether anything changed.
func (t *Tree) recalculate(node *Location) bool {
	var capacity Capacity
	var certification Certification
	for _, child := range t.Children(node.ID) {
		capacity.Add(child.EffectiveCapacity())
		childCert := child.EffectiveCertification()
		if childCert.Certified {
			certification.Certified = true
			certification.CertifiedNormalAccommodation += childCert.CertifiedNormalAccommodation
		}
	}
	if node.Capacity == capacity && node.Certification == certification {
		return false
	}
	node.Capacity = capacity
	node.Certification = certification
	return true
}

// CascadeResult reports what a deactivation or reactivation touched.
type CascadeResult struct {
	// StatusChanged are the nodes whose own status flipped, cascade root first.
	StatusChanged []*Location
	// AggregatesAmended are ancestors whose aggregate values changed but whose
	// own status did not.
	AggregatesAmended []*Location
}

// All returns every touched node exactly once.
func (r CascadeResult) All() []*Location {
	seen := make(map[id.LocationID]bool, len(r.StatusChanged))
	out := make([]*Location, 0, len(r.StatusChanged)+len(r.AggregatesAmended))
	for _, n := range r.StatusChanged {
		seen[n.ID] = true
		out = append(out, n)
	}
	for _, n := range r.AggregatesAmended {
		if !seen[n.ID] {
			out = append(out, n)
		}
	}
	return out
}

// Deactivate takes a location out of use and cascades to every descendant.
// Occupancy must have been vetoed by the caller before any mutation. Already
// inactive descendants keep their own deactivation reason.
func (t *Tree) Deactivate(locID id.LocationID, details DeactivationDetails, actor string, at time.Time) (CascadeResult, error) {
	node := t.nodes[locID]
	if node == nil {
		return CascadeResult{}, dErrors.New(dErrors.CodeNotFound, "location not found in tree")
	}
	if err := details.Validate(); err != nil {
		return CascadeResult{}, err
	}
	if node.Status == StatusDraft {
		return CascadeResult{}, dErrors.New(dErrors.CodeLocationNotDeactivatable, "draft locations cannot be deactivated")
	}
	if node.IsPermanentlyInactive() {
		return CascadeResult{}, dErrors.New(dErrors.CodeLocationNotDeactivatable, "location is permanently inactive")
	}
	if node.IsInactive() && !details.Permanent {
		return CascadeResult{}, dErrors.New(dErrors.CodeLocationNotDeactivatable, "location is already inactive")
	}

	var result CascadeResult
	t.deactivateNode(node, details, actor, at, false, &result)
	for _, descendant := range t.Descendants(locID) {
		t.deactivateNode(descendant, details, actor, at, true, &result)
	}
	result.AggregatesAmended = t.recomputeExcluding(locID, result.StatusChanged)
	return result, nil
}

func (t *Tree) deactivateNode(node *Location, details DeactivationDetails, actor string, at time.Time, byParent bool, result *CascadeResult) {
	if node.IsPermanentlyInactive() {
		return
	}
	if node.Status == StatusDraft && byParent {
		// Draft scaffolding under a live wing has no working capacity to
		// zero and no status to restore; leave it alone.
		return
	}
	wasActive := node.IsActive()
	if node.IsInactive() && byParent {
		// Independently deactivated descendant: keep its own reason, only
		// re-flag the cascade cause when it was active immediately before.
		if !details.Permanent {
			return
		}
	}

	if wasActive {
		snapshot := node.Capacity.WorkingCapacity
		node.OldWorkingCapacity = &snapshot
		node.Capacity.WorkingCapacity = 0
		deactivation := details
		node.Deactivation = &deactivation
		node.DeactivatedByParent = byParent
	}
	if details.Permanent {
		node.Status = StatusArchived
	} else {
		node.Status = StatusInactive
	}
	node.DeactivatedAt = &at
	node.DeactivatedBy = actor
	node.UpdatedAt = at
	node.UpdatedBy = actor
	result.StatusChanged = append(result.StatusChanged, node)
}

// Reactivate puts an inactive location back into use. With cascade, every
// descendant that was deactivated by this cascade chain is restored;
// independently deactivated descendants stay inactive.
func (t *Tree) Reactivate(locID id.LocationID, override *Capacity, cascade bool, actor string, at time.Time) (CascadeResult, error) {
	node := t.nodes[locID]
	if node == nil {
		return CascadeResult{}, dErrors.New(dErrors.CodeNotFound, "location not found in tree")
	}
	if node.IsPermanentlyInactive() {
		return CascadeResult{}, dErrors.New(dErrors.CodeConflict, "permanently inactive locations cannot be reactivated")
	}
	if !node.IsInactive() {
		return CascadeResult{}, dErrors.New(dErrors.CodeConflict, "location is not inactive")
	}
	for _, ancestor := range t.Ancestors(locID) {
		if ancestor.IsInactive() || ancestor.IsPermanentlyInactive() {
			return CascadeResult{}, dErrors.New(dErrors.CodeReactivateWithInactiveParent,
				"cannot reactivate a location beneath an inactive ancestor")
		}
	}

	var result CascadeResult
	if err := t.reactivateNode(node, override, actor, at, &result); err != nil {
		return CascadeResult{}, err
	}
	if cascade {
		t.reactivateCascade(node, actor, at, &result)
	}
	result.AggregatesAmended = t.recomputeExcluding(locID, result.StatusChanged)
	return result, nil
}

func (t *Tree) reactivateNode(node *Location, override *Capacity, actor string, at time.Time, result *CascadeResult) error {
	restored := node.Capacity
	if override != nil {
		restored = *override
	} else if node.OldWorkingCapacity != nil {
		restored.WorkingCapacity = *node.OldWorkingCapacity
	}
	if node.IsCell() {
		probe := *node
		probe.Status = StatusActive
		if err := probe.CheckCapacity(restored.MaxCapacity, restored.WorkingCapacity); err != nil {
			return err
		}
	}

	node.Status = StatusActive
	node.Capacity = restored
	node.OldWorkingCapacity = nil
	node.Deactivation = nil
	node.DeactivatedByParent = false
	node.DeactivatedAt = nil
	node.DeactivatedBy = ""
	node.UpdatedAt = at
	node.UpdatedBy = actor
	result.StatusChanged = append(result.StatusChanged, node)
	return nil
}

func (t *Tree) reactivateCascade(node *Location, actor string, at time.Time, result *CascadeResult) {
	for _, child := range t.Children(node.ID) {
		if child.IsInactive() && child.DeactivatedByParent {
			// Restore with no override; each node keeps its own snapshot.
			if err := t.reactivateNode(child, nil, actor, at, result); err != nil {
				// A cascaded child failing capacity validation keeps its own
				// inactive state; the parent still reactivates.
				continue
			}
			t.reactivateCascade(child, actor, at, result)
		}
	}
}

// recomputeExcluding recomputes ancestors of locID and filters out nodes that
// already appear in statusChanged, so callers can emit distinct
// deactivated/amended events.
func (t *Tree) recomputeExcluding(locID id.LocationID, statusChanged []*Location) []*Location {
	flipped := make(map[id.LocationID]bool, len(statusChanged))
	for _, n := range statusChanged {
		flipped[n.ID] = true
	}
	var amended []*Location
	for _, n := range t.Recompute(locID) {
		if !flipped[n.ID] {
			amended = append(amended, n)
		}
	}
	return amended
}

func removeID(ids []id.LocationID, target id.LocationID) []id.LocationID {
	out := ids[:0]
	for _, v := range ids {
		if v != target {
			out = append(out, v)
		}
	}
	return out
}

func mapValues(m map[id.LocationID]*Location) []*Location {
	out := make([]*Location, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PathHierarchy < out[j].PathHierarchy })
	return out
}
