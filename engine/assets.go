package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"bambuoverlay/overlay"
)

// AssetFetcher retrieves job files from the printer.
type AssetFetcher interface {
	Thumbnail(ctx context.Context, path string) ([]byte, error)
	JobWeight(ctx context.Context, path string) (float64, error)
}

// cacheForgetter is implemented by fetchers that keep downloaded job files
// between calls.
type cacheForgetter interface {
	Forget()
}

// AssetCoordinator fetches the thumbnail and weight for a job once per job
// change and feeds the results back into the overlay.
type AssetCoordinator struct {
	fetcher      AssetFetcher
	pathTemplate string
	thumbPath    string
	async        bool

	apply func(context.Context, []overlay.Update)
	emit  func(AssetsFetchedEvent)

	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

// AssetConfig holds the parameters needed to create an AssetCoordinator.
type AssetConfig struct {
	Fetcher       AssetFetcher
	PathTemplate  string // fmt template with one %s for the job name
	ThumbnailPath string
	Async         bool
	Apply         func(context.Context, []overlay.Update)
	Emit          func(AssetsFetchedEvent)
}

// NewAssetCoordinator creates a coordinator.
func NewAssetCoordinator(c AssetConfig) *AssetCoordinator {
	if c.PathTemplate == "" {
		c.PathTemplate = "/cache/%s.3mf"
	}
	if c.Apply == nil {
		c.Apply = func(context.Context, []overlay.Update) {}
	}
	if c.Emit == nil {
		c.Emit = func(AssetsFetchedEvent) {}
	}
	return &AssetCoordinator{
		fetcher:      c.Fetcher,
		pathTemplate: c.PathTemplate,
		thumbPath:    c.ThumbnailPath,
		async:        c.Async,
		apply:        c.Apply,
		emit:         c.Emit,
		inflight:     make(map[string]struct{}),
	}
}

// AssetPath derives the remote job file path from a job name.
func (a *AssetCoordinator) AssetPath(job string) string {
	if strings.Contains(a.pathTemplate, "%s") {
		return fmt.Sprintf(a.pathTemplate, job)
	}
	return a.pathTemplate + job
}

// Dispatch fetches assets for job, inline or on a background goroutine.
// It returns false when a fetch for the same job is already outstanding.
func (a *AssetCoordinator) Dispatch(ctx context.Context, job string) bool {
	a.mu.Lock()
	if _, busy := a.inflight[job]; busy {
		a.mu.Unlock()
		return false
	}
	a.inflight[job] = struct{}{}
	a.wg.Add(1)
	a.mu.Unlock()

	run := func() {
		defer func() {
			a.mu.Lock()
			delete(a.inflight, job)
			a.mu.Unlock()
			a.wg.Done()
		}()
		a.Fetch(ctx, job)
	}

	if a.async {
		go run()
	} else {
		run()
	}
	return true
}

// Fetch retrieves both assets for job and applies whatever succeeded. Each
// failure is logged and only skips the update that depends on it.
func (a *AssetCoordinator) Fetch(ctx context.Context, job string) AssetsFetchedEvent {
	path := a.AssetPath(job)
	res := AssetsFetchedEvent{Job: job, AssetPath: path}
	var updates []overlay.Update

	// The printer may hold a re-sliced file under the same name.
	if f, ok := a.fetcher.(cacheForgetter); ok {
		f.Forget()
	}

	log.Printf("assets: fetching %s", path)
	if data, err := a.fetcher.Thumbnail(ctx, path); err != nil {
		log.Printf("assets: thumbnail %s: %v", path, err)
		res.ThumbnailErr = err.Error()
	} else if a.thumbPath != "" {
		if err := writeFileAtomic(a.thumbPath, data); err != nil {
			log.Printf("assets: store thumbnail %s: %v", a.thumbPath, err)
			res.ThumbnailErr = err.Error()
		} else {
			res.ThumbnailPath = a.thumbPath
			updates = append(updates, overlay.ThumbnailUpdate(a.thumbPath))
		}
	}

	if w, err := a.fetcher.JobWeight(ctx, path); err != nil {
		log.Printf("assets: weight %s: %v", path, err)
		res.WeightErr = err.Error()
	} else {
		res.WeightGrams = &w
		updates = append(updates, overlay.WeightUpdate(w))
	}

	if len(updates) > 0 {
		a.apply(ctx, updates)
	}
	a.emit(res)
	return res
}

// Wait blocks until every dispatched fetch has finished.
func (a *AssetCoordinator) Wait() {
	a.wg.Wait()
}

// writeFileAtomic replaces path so the overlay never reads a partial image.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".thumb-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
