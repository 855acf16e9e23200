// Package reconcile repairs drift between the metadata cache index and the
// JSON documents actually present on disk. Rows without files are dropped,
// files without rows are adopted, and folder mismatches follow the
// filesystem, which is the source of truth.
package reconcile

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/kaloper/douyin-fetch/internal/cacheindex"
	"github.com/kaloper/douyin-fetch/pkg/log"
)

// Report summarizes one sweep.
type Report struct {
	Inserted int
	Removed  int
	Repaired int
	Kept     int
}

type Reconciler struct {
	index *cacheindex.Index
	group singleflight.Group
}

func New(index *cacheindex.Index) *Reconciler {
	return &Reconciler{index: index}
}

// Sweep walks <baseDir>/<folder>/<key>.json and reconciles the index against
// what it finds. Overlapping invocations collapse into a single run.
func (r *Reconciler) Sweep(ctx context.Context) (Report, error) {
	v, err, _ := r.group.Do("sweep", func() (interface{}, error) {
		return r.sweep(ctx)
	})
	if err != nil {
		return Report{}, err
	}
	return v.(Report), nil
}

func (r *Reconciler) sweep(ctx context.Context) (Report, error) {
	found, err := r.scanDisk()
	if err != nil {
		return Report{}, err
	}

	entries, err := r.index.Entries(ctx)
	if err != nil {
		return Report{}, err
	}

	var report Report
	for _, entry := range entries {
		folder, onDisk := found[entry.Key]
		switch {
		case !onDisk:
			if err := r.index.Delete(ctx, entry.Key); err != nil {
				return report, err
			}
			log.Info("Reconcile: removed stale row %s (folder %s)", entry.Key, entry.Folder)
			report.Removed++
		case folder != entry.Folder:
			if err := r.index.Upsert(ctx, entry.Key, folder); err != nil {
				return report, err
			}
			log.Info("Reconcile: moved %s from %s to %s", entry.Key, entry.Folder, folder)
			report.Repaired++
		default:
			report.Kept++
		}
		delete(found, entry.Key)
	}

	// Whatever is left on disk has no row yet.
	for key, folder := range found {
		if err := r.index.Upsert(ctx, key, folder); err != nil {
			return report, err
		}
		log.Info("Reconcile: adopted %s under %s", key, folder)
		report.Inserted++
	}

	log.Info("Reconcile sweep done: %d kept, %d adopted, %d removed, %d repaired",
		report.Kept, report.Inserted, report.Removed, report.Repaired)
	return report, nil
}

// scanDisk maps cache key to owning folder. Only one level of folders is
// expected; anything deeper or non-json is ignored.
func (r *Reconciler) scanDisk() (map[string]string, error) {
	found := make(map[string]string)

	base := r.index.BaseDir()
	dirs, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return found, nil
		}
		return nil, err
	}

	for _, dir := range dirs {
		if !dir.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(base, dir.Name()))
		if err != nil {
			log.Warn("Reconcile: cannot read folder %s: %v", dir.Name(), err)
			continue
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
				continue
			}
			key := strings.TrimSuffix(f.Name(), ".json")
			found[key] = dir.Name()
		}
	}
	return found, nil
}

// Schedule registers a periodic sweep on the given cron runner.
func (r *Reconciler) Schedule(c *cron.Cron, expr string) (cron.EntryID, error) {
	return c.AddFunc(expr, func() {
		if _, err := r.Sweep(context.Background()); err != nil {
			log.Error("Scheduled reconcile sweep failed: %v", err)
		}
	})
}
