package repo

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/defect-analyzer/internal/loader"
	"github.com/miradorstack/defect-analyzer/internal/metrics"
	"github.com/miradorstack/defect-analyzer/internal/models"
	ttlcache "github.com/miradorstack/defect-analyzer/pkg/cache"
)

// DatasetSource locates the two record files.
type DatasetSource struct {
	DefectRatesPath string
	ParametersPath  string
	DefectRateSheet string
	ParameterSheet  string
}

// DatasetRepo loads both record sets and reuses a load while the files are unchanged.
// A snapshot is identified by the size and modification time of both files.
type DatasetRepo struct {
	source DatasetSource
	loader *loader.Loader
	ttl    time.Duration
	logger *slog.Logger

	mu        sync.Mutex
	snapshots *ttlcache.TTLCache[*models.Datasets]
}

// NewDatasetRepo constructs a DatasetRepo. A non-positive ttl keeps snapshots until the files change.
func NewDatasetRepo(source DatasetSource, ld *loader.Loader, ttl time.Duration, logger *slog.Logger) *DatasetRepo {
	if logger == nil {
		logger = slog.Default()
	}
	if ld == nil {
		ld = loader.New(logger)
	}
	return &DatasetRepo{
		source:    source,
		loader:    ld,
		ttl:       ttl,
		logger:    logger,
		snapshots: ttlcache.NewTTLCache[*models.Datasets](),
	}
}

// Load returns the current snapshot of both datasets. The returned value is shared
// between callers and must not be modified.
func (r *DatasetRepo) Load(ctx context.Context) (*models.Datasets, error) {
	if r == nil {
		return nil, fmt.Errorf("dataset repo not initialised")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	version, err := r.version()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if ds, ok := r.snapshots.Get(version); ok {
		return ds, nil
	}

	ds := &models.Datasets{Version: version, LoadedAt: time.Now().UTC()}
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		records, err := r.loader.LoadDefectRates(r.source.DefectRatesPath, r.source.DefectRateSheet)
		if err != nil {
			return fmt.Errorf("load defect rates: %w", err)
		}
		ds.DefectRates = records
		return nil
	})
	g.Go(func() error {
		records, err := r.loader.LoadParameters(r.source.ParametersPath, r.source.ParameterSheet)
		if err != nil {
			return fmt.Errorf("load parameters: %w", err)
		}
		ds.Parameters = records
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r.snapshots.Sweep()
	r.snapshots.Set(version, ds, r.ttl)

	metrics.SetDatasetRecords("defect_rates", len(ds.DefectRates))
	metrics.SetDatasetRecords("parameters", len(ds.Parameters))
	r.logger.Info("datasets loaded",
		slog.String("version", version),
		slog.Int("defect_rates", len(ds.DefectRates)),
		slog.Int("parameters", len(ds.Parameters)),
	)
	return ds, nil
}

func (r *DatasetRepo) version() (string, error) {
	h := fnv.New64a()
	for _, path := range []string{r.source.DefectRatesPath, r.source.ParametersPath} {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				return "", fmt.Errorf("%w: %s", loader.ErrMissingSource, path)
			}
			return "", fmt.Errorf("stat %s: %w", path, err)
		}
		fmt.Fprintf(h, "%s|%d|%d;", path, info.Size(), info.ModTime().UnixNano())
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}
