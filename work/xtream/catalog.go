package xtream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"xtream-resolver/work/logger"
	"xtream-resolver/work/resolver"
)

// Catalog is the full listing of one panel login.
type Catalog struct {
	Categories map[resolver.Kind][]Category `json:"categories"`
	Items      map[resolver.Kind][]Item     `json:"items"`
	LoadedAt   time.Time                    `json:"loadedAt"`
}

// CategoryName returns the display name for a category ID of kind.
func (c *Catalog) CategoryName(kind resolver.Kind, id string) string {
	for _, cat := range c.Categories[kind] {
		if cat.ID.String() == id {
			return cat.Name
		}
	}
	return ""
}

// LoadCatalog fetches the three category listings and the three stream
// listings concurrently on pool. A failed section is logged and left empty;
// only a catalog where every section failed is an error.
//
// Parameters:
//   - ctx: cancels outstanding panel requests
//   - pool: worker pool shared with the rest of the server
//   - s: panel session
//
// Returns:
//   - *Catalog: whatever could be loaded
//   - error: the first section error when nothing loaded, or a submit failure
func (c *Client) LoadCatalog(ctx context.Context, pool *ants.Pool, s resolver.Session) (*Catalog, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	catalog := &Catalog{
		Categories: make(map[resolver.Kind][]Category),
		Items:      make(map[resolver.Kind][]Item),
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		errs     []error
		sections int
	)

	submit := func(name string, task func() error) error {
		wg.Add(1)
		sections++
		err := pool.Submit(func() {
			defer wg.Done()
			if err := task(); err != nil {
				logger.Warn("{xtream/catalog - LoadCatalog} %s failed: %v", name, err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				mu.Unlock()
			}
		})
		if err != nil {
			wg.Done()
			return fmt.Errorf("failed to submit %s: %w", name, err)
		}
		return nil
	}

	kinds := []resolver.Kind{resolver.KindLive, resolver.KindMovie, resolver.KindSeries}
	for _, kind := range kinds {
		if err := submit(string(kind)+" categories", func() error {
			cats, err := c.Categories(ctx, s, kind)
			if err != nil {
				return err
			}
			mu.Lock()
			catalog.Categories[kind] = cats
			mu.Unlock()
			return nil
		}); err != nil {
			wg.Wait()
			return nil, err
		}

		if err := submit(string(kind)+" streams", func() error {
			items, err := c.Items(ctx, s, kind, "")
			if err != nil {
				return err
			}
			mu.Lock()
			catalog.Items[kind] = items
			mu.Unlock()
			return nil
		}); err != nil {
			wg.Wait()
			return nil, err
		}
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(errs) == sections {
		return nil, errors.Join(errs...)
	}

	catalog.LoadedAt = time.Now()
	logger.Info("{xtream/catalog - LoadCatalog} Loaded %d live, %d movies, %d series (%d sections failed)",
		len(catalog.Items[resolver.KindLive]), len(catalog.Items[resolver.KindMovie]), len(catalog.Items[resolver.KindSeries]), len(errs))
	return catalog, nil
}
