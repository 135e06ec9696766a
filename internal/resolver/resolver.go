// Package resolver expands tagged items into the closed set of items and
// files that must be archived together.
//
// Items and files form a bipartite graph: a fileset links many items to many
// files, and legacy items link to original and pixel files that other items
// may share. A closure is the connected component containing an item. The
// resolver works on a single catalog snapshot and performs no I/O.
package resolver

import (
	"errors"
	"fmt"
	"sort"

	"archivist/internal/catalog"
)

var (
	// ErrUnresolvableEntity is returned when an item is missing from the
	// snapshot or has no files.
	ErrUnresolvableEntity = errors.New("unresolvable entity")
	// ErrPermissionDenied is returned when the requester may not act on
	// every item of the closure.
	ErrPermissionDenied = errors.New("permission denied")
)

// Closure is one connected component of the item/file graph.
type Closure struct {
	Items []int64
	Files []catalog.FileRef
	// Requests are the tag requests that led to this closure, ordered by item.
	Requests []Request
}

// Request asks for an item to be archived on behalf of a user.
type Request struct {
	ItemID      int64
	RequestedBy int64
}

// Failure explains why a request was skipped.
type Failure struct {
	Request Request
	Err     error
}

// Resolver answers closure queries against one snapshot.
type Resolver struct {
	snap   *catalog.Snapshot
	owners map[string][]int64
}

// New indexes snap for closure queries.
func New(snap *catalog.Snapshot) *Resolver {
	r := &Resolver{snap: snap, owners: make(map[string][]int64)}
	ids := make([]int64, 0, len(snap.Items))
	for id := range snap.Items {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		for _, ref := range snap.FilesOf(id) {
			r.owners[ref.Path] = append(r.owners[ref.Path], id)
		}
	}
	return r
}

// Resolve returns the closure containing itemID.
func (r *Resolver) Resolve(itemID int64) (Closure, error) {
	if _, ok := r.snap.Items[itemID]; !ok {
		return Closure{}, fmt.Errorf("%w: item %d not in catalog", ErrUnresolvableEntity, itemID)
	}

	seenItems := map[int64]struct{}{itemID: {}}
	seenFiles := make(map[string]catalog.FileRef)
	queue := []int64{itemID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, ref := range r.snap.FilesOf(current) {
			if _, ok := seenFiles[ref.Path]; ok {
				continue
			}
			seenFiles[ref.Path] = ref
			for _, other := range r.owners[ref.Path] {
				if _, ok := seenItems[other]; ok {
					continue
				}
				seenItems[other] = struct{}{}
				queue = append(queue, other)
			}
		}
	}

	if len(seenFiles) == 0 {
		return Closure{}, fmt.Errorf("%w: item %d has no files", ErrUnresolvableEntity, itemID)
	}

	closure := Closure{
		Items: make([]int64, 0, len(seenItems)),
		Files: make([]catalog.FileRef, 0, len(seenFiles)),
	}
	for id := range seenItems {
		closure.Items = append(closure.Items, id)
	}
	sort.Slice(closure.Items, func(i, j int) bool { return closure.Items[i] < closure.Items[j] })
	for _, ref := range seenFiles {
		closure.Files = append(closure.Files, ref)
	}
	sort.Slice(closure.Files, func(i, j int) bool { return closure.Files[i].Path < closure.Files[j].Path })
	return closure, nil
}

// ResolveAll resolves every request and merges requests that land in the
// same component. Requests that fail are reported and skipped; the rest of
// the batch continues. Closures are ordered by their smallest item id.
func (r *Resolver) ResolveAll(requests []Request) ([]Closure, []Failure) {
	sorted := append([]Request(nil), requests...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ItemID < sorted[j].ItemID })

	var (
		closures []Closure
		failures []Failure
		byItem   = make(map[int64]int)
	)
	for _, req := range sorted {
		if idx, ok := byItem[req.ItemID]; ok {
			if err := r.authorize(req, closures[idx].Items); err != nil {
				failures = append(failures, Failure{Request: req, Err: err})
				continue
			}
			closures[idx].Requests = append(closures[idx].Requests, req)
			continue
		}
		closure, err := r.Resolve(req.ItemID)
		if err != nil {
			failures = append(failures, Failure{Request: req, Err: err})
			continue
		}
		if err := r.authorize(req, closure.Items); err != nil {
			failures = append(failures, Failure{Request: req, Err: err})
			continue
		}
		closure.Requests = []Request{req}
		for _, id := range closure.Items {
			byItem[id] = len(closures)
		}
		closures = append(closures, closure)
	}
	sort.SliceStable(closures, func(i, j int) bool { return closures[i].Items[0] < closures[j].Items[0] })
	return closures, failures
}

func (r *Resolver) authorize(req Request, items []int64) error {
	for _, id := range items {
		if !r.snap.CanAct(req.RequestedBy, r.snap.Items[id]) {
			return fmt.Errorf("%w: user %d may not archive item %d", ErrPermissionDenied, req.RequestedBy, id)
		}
	}
	return nil
}

// Requests turns every item carrying tag into a request by the user who
// applied the tag.
func Requests(snap *catalog.Snapshot, tag catalog.Tag) []Request {
	var out []Request
	for _, id := range snap.Tagged(tag) {
		link, _ := snap.TagLink(id, tag)
		out = append(out, Request{ItemID: id, RequestedBy: link.LinkedBy})
	}
	return out
}
