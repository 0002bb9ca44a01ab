package simpleasset

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LineageGraph records which assets were derived from which. Links live in an
// arena indexed by child and by parent; the repository is written first and
// the index updated only after the write succeeds. The index is loaded from
// the repository on first use and reloaded before every AddEdge, so links
// written by another process are seen by the cycle check. Two processes adding
// edges at the same instant can still each pass the check; deployments sharing
// one database must route lineage writes through a single instance.
type LineageGraph struct {
	repo   GraphRepository
	assets *Registry
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	loaded   bool
	links    []*LineageLink
	byChild  map[uuid.UUID][]int
	byParent map[uuid.UUID][]int
}

func (g *LineageGraph) ensureLoaded(ctx context.Context) error {
	g.mu.RLock()
	loaded := g.loaded
	g.mu.RUnlock()
	if loaded {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.loadLocked(ctx)
}

func (g *LineageGraph) loadLocked(ctx context.Context) error {
	if g.loaded {
		return nil
	}
	links, err := g.repo.ListLineageLinks(ctx)
	if err != nil {
		return fmt.Errorf("load lineage links: %w", err)
	}
	g.links = nil
	g.byChild = make(map[uuid.UUID][]int)
	g.byParent = make(map[uuid.UUID][]int)
	for _, l := range links {
		g.indexLocked(l)
	}
	g.loaded = true
	g.logger.DebugContext(ctx, "lineage index loaded", "links", len(links))
	return nil
}

func (g *LineageGraph) indexLocked(l *LineageLink) {
	i := len(g.links)
	g.links = append(g.links, l)
	g.byChild[l.ChildID] = append(g.byChild[l.ChildID], i)
	g.byParent[l.ParentID] = append(g.byParent[l.ParentID], i)
}

func (g *LineageGraph) linkedLocked(childID, parentID uuid.UUID) (int, bool) {
	for _, i := range g.byChild[childID] {
		if g.links[i] != nil && g.links[i].ParentID == parentID {
			return i, true
		}
	}
	return 0, false
}

// AddEdge records that edge.ChildID was derived from every listed parent.
// Either all links are inserted or none: a link that would make the child its
// own ancestor fails with ErrCycleDetected, a repeated pair with
// ErrDuplicateLineageLink.
func (g *LineageGraph) AddEdge(ctx context.Context, edge LineageEdge) error {
	if len(edge.Parents) == 0 {
		return fmt.Errorf("%w: lineage edge for %s has no parents", ErrInvalidAsset, edge.ChildID)
	}
	if _, err := g.assets.Get(ctx, edge.ChildID); err != nil {
		return err
	}
	seen := make(map[uuid.UUID]struct{}, len(edge.Parents))
	for _, p := range edge.Parents {
		if p.ParentID == edge.ChildID {
			return fmt.Errorf("%w: %s cannot derive from itself", ErrCycleDetected, edge.ChildID)
		}
		if _, dup := seen[p.ParentID]; dup {
			return fmt.Errorf("%w: parent %s listed twice", ErrDuplicateLineageLink, p.ParentID)
		}
		seen[p.ParentID] = struct{}{}
		if _, err := g.assets.Get(ctx, p.ParentID); err != nil {
			return err
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.loaded = false
	if err := g.loadLocked(ctx); err != nil {
		return err
	}

	for _, p := range edge.Parents {
		if _, ok := g.linkedLocked(edge.ChildID, p.ParentID); ok {
			return fmt.Errorf("%w: %s -> %s", ErrDuplicateLineageLink, p.ParentID, edge.ChildID)
		}
	}
	// Adding parent -> child closes a cycle iff the parent is already
	// reachable from the child.
	downstream := g.walkLocked(edge.ChildID, 0, g.childrenLocked)
	for _, id := range downstream {
		if _, ok := seen[id]; ok {
			return fmt.Errorf("%w: %s already descends from %s", ErrCycleDetected, id, edge.ChildID)
		}
	}

	now := g.now()
	links := make([]*LineageLink, 0, len(edge.Parents))
	for _, p := range edge.Parents {
		links = append(links, &LineageLink{
			ChildID:        edge.ChildID,
			ParentID:       p.ParentID,
			Role:           p.Role,
			ParentFrame:    p.ParentFrame,
			ParentTime:     p.ParentTime,
			SequenceOrder:  p.SequenceOrder,
			Transformation: p.Transformation,
			CreatedAt:      now,
		})
	}
	if err := g.repo.CreateLineageLinks(ctx, links); err != nil {
		return err
	}
	for _, l := range links {
		g.indexLocked(l)
	}
	g.logger.InfoContext(ctx, "lineage edge added", "child_id", edge.ChildID, "parents", len(links))
	return nil
}

// RemoveEdge deletes one child/parent link. The assets are untouched.
func (g *LineageGraph) RemoveEdge(ctx context.Context, childID, parentID uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.loadLocked(ctx); err != nil {
		return err
	}
	i, ok := g.linkedLocked(childID, parentID)
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrLineageLinkNotFound, parentID, childID)
	}
	if err := g.repo.DeleteLineageLink(ctx, childID, parentID); err != nil {
		return err
	}
	g.links[i] = nil
	g.byChild[childID] = without(g.byChild[childID], i)
	g.byParent[parentID] = without(g.byParent[parentID], i)
	return nil
}

func without(idx []int, i int) []int {
	out := idx[:0]
	for _, v := range idx {
		if v != i {
			out = append(out, v)
		}
	}
	return out
}

// Parents lists the links naming id as child, in sequence order.
func (g *LineageGraph) Parents(ctx context.Context, id uuid.UUID) ([]*LineageLink, error) {
	if err := g.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.collectLocked(g.byChild[id]), nil
}

// Children lists the links naming id as parent, in sequence order.
func (g *LineageGraph) Children(ctx context.Context, id uuid.UUID) ([]*LineageLink, error) {
	if err := g.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.collectLocked(g.byParent[id]), nil
}

// References counts the links naming id on either side.
func (g *LineageGraph) References(ctx context.Context, id uuid.UUID) (int, error) {
	if err := g.ensureLoaded(ctx); err != nil {
		return 0, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.byChild[id]) + len(g.byParent[id]), nil
}

func (g *LineageGraph) collectLocked(idx []int) []*LineageLink {
	out := make([]*LineageLink, 0, len(idx))
	for _, i := range idx {
		if l := g.links[i]; l != nil {
			c := *l
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SequenceOrder < out[j].SequenceOrder })
	return out
}

func (g *LineageGraph) parentsLocked(id uuid.UUID) []uuid.UUID {
	links := g.collectLocked(g.byChild[id])
	out := make([]uuid.UUID, len(links))
	for i, l := range links {
		out[i] = l.ParentID
	}
	return out
}

func (g *LineageGraph) childrenLocked(id uuid.UUID) []uuid.UUID {
	links := g.collectLocked(g.byParent[id])
	out := make([]uuid.UUID, len(links))
	for i, l := range links {
		out[i] = l.ChildID
	}
	return out
}

// walkLocked returns the ids reachable from start in breadth-first order,
// excluding start. maxDepth <= 0 means unbounded.
func (g *LineageGraph) walkLocked(start uuid.UUID, maxDepth int, next func(uuid.UUID) []uuid.UUID) []uuid.UUID {
	visited := map[uuid.UUID]struct{}{start: {}}
	var order []uuid.UUID
	frontier := []uuid.UUID{start}
	for depth := 1; len(frontier) > 0 && (maxDepth <= 0 || depth <= maxDepth); depth++ {
		var level []uuid.UUID
		for _, id := range frontier {
			for _, n := range next(id) {
				if _, ok := visited[n]; ok {
					continue
				}
				visited[n] = struct{}{}
				level = append(level, n)
			}
		}
		order = append(order, level...)
		frontier = level
	}
	return order
}

// Ancestors yields the assets id was derived from, nearest first, up to
// maxDepth generations (unbounded when maxDepth <= 0). Tombstoned assets are
// walked through but not yielded. The sequence can be ranged over repeatedly.
func (g *LineageGraph) Ancestors(ctx context.Context, id uuid.UUID, maxDepth int) iter.Seq2[*Asset, error] {
	return g.traverse(ctx, id, maxDepth, g.parentsLocked)
}

// Descendants yields the assets derived from id, nearest first.
func (g *LineageGraph) Descendants(ctx context.Context, id uuid.UUID, maxDepth int) iter.Seq2[*Asset, error] {
	return g.traverse(ctx, id, maxDepth, g.childrenLocked)
}

func (g *LineageGraph) traverse(ctx context.Context, id uuid.UUID, maxDepth int, next func(uuid.UUID) []uuid.UUID) iter.Seq2[*Asset, error] {
	return func(yield func(*Asset, error) bool) {
		if err := g.ensureLoaded(ctx); err != nil {
			yield(nil, err)
			return
		}
		g.mu.RLock()
		ids := g.walkLocked(id, maxDepth, next)
		g.mu.RUnlock()

		for _, aid := range ids {
			asset, err := g.assets.Get(ctx, aid)
			if errors.Is(err, ErrAssetNotFound) {
				continue
			}
			if !yield(asset, err) || err != nil {
				return
			}
		}
	}
}

// closure returns every lineage link reachable downstream from the given
// roots together with the ids they reach.
func (g *LineageGraph) closure(ctx context.Context, roots []uuid.UUID) ([]*LineageLink, []uuid.UUID, error) {
	if err := g.ensureLoaded(ctx); err != nil {
		return nil, nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	var links []*LineageLink
	var reached []uuid.UUID
	for _, root := range roots {
		for _, id := range append([]uuid.UUID{root}, g.walkLocked(root, 0, g.childrenLocked)...) {
			links = append(links, g.collectLocked(g.byParent[id])...)
			reached = append(reached, id)
		}
	}
	return links, reached, nil
}
