package simpleasset

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const sceneHydrationWorkers = 8

// Scene is everything reachable downstream of a root asset through lineage
// links and branch variants, loaded in one call so a runtime never has to
// query again while the scene plays.
type Scene struct {
	RootID   uuid.UUID            `json:"root_id"`
	Assets   map[uuid.UUID]*Asset `json:"assets"`
	Lineage  []*LineageLink       `json:"lineage"`
	Branches []*BranchPoint       `json:"branches"`
	Variants []*BranchVariant     `json:"variants"`
}

// LoadScene materializes the scene rooted at rootID. Tombstoned assets are
// walked through but left out of Assets.
func (s *AssetStore) LoadScene(ctx context.Context, rootID uuid.UUID) (*Scene, error) {
	if _, err := s.registry.Get(ctx, rootID); err != nil {
		return nil, err
	}

	scene := &Scene{RootID: rootID, Assets: make(map[uuid.UUID]*Asset)}
	visited := map[uuid.UUID]struct{}{rootID: {}}
	seenLinks := make(map[[2]uuid.UUID]struct{})
	frontier := []uuid.UUID{rootID}

	for len(frontier) > 0 {
		var next []uuid.UUID
		reach := func(id uuid.UUID) {
			if _, ok := visited[id]; ok {
				return
			}
			visited[id] = struct{}{}
			next = append(next, id)
		}

		links, reached, err := s.lineage.closure(ctx, frontier)
		if err != nil {
			return nil, err
		}
		for _, l := range links {
			key := [2]uuid.UUID{l.ChildID, l.ParentID}
			if _, ok := seenLinks[key]; ok {
				continue
			}
			seenLinks[key] = struct{}{}
			scene.Lineage = append(scene.Lineage, l)
		}
		// Lineage closure is already transitive; branches still need
		// visiting from every asset it reached.
		sources := frontier
		for _, id := range reached {
			if _, ok := visited[id]; !ok {
				visited[id] = struct{}{}
				sources = append(sources, id)
			}
		}

		branches, err := s.repo.ListBranchPoints(ctx, sources)
		if err != nil {
			return nil, err
		}
		if len(branches) > 0 {
			ids := make([]uuid.UUID, len(branches))
			for i, b := range branches {
				ids[i] = b.ID
			}
			variants, err := s.repo.ListBranchVariants(ctx, ids)
			if err != nil {
				return nil, err
			}
			scene.Branches = append(scene.Branches, branches...)
			scene.Variants = append(scene.Variants, variants...)
			for _, v := range variants {
				reach(v.VariantAssetID)
			}
		}
		frontier = next
	}

	if err := s.hydrate(ctx, scene, visited); err != nil {
		return nil, err
	}
	s.logger.DebugContext(ctx, "scene loaded",
		"root_id", rootID,
		"assets", len(scene.Assets),
		"links", len(scene.Lineage),
		"variants", len(scene.Variants),
	)
	return scene, nil
}

func (s *AssetStore) hydrate(ctx context.Context, scene *Scene, ids map[uuid.UUID]struct{}) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sceneHydrationWorkers)
	for id := range ids {
		g.Go(func() error {
			asset, err := s.registry.Get(gctx, id)
			if errors.Is(err, ErrAssetNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			scene.Assets[id] = asset
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}
