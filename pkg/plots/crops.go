package plots

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/agrogestion/plots/pkg/yield"
)

// CropStore persists the crop catalog.
type CropStore struct {
	db *gorm.DB
}

// NewCropStore creates a new CropStore.
func NewCropStore(db *gorm.DB) *CropStore {
	return &CropStore{db: db}
}

// AutoMigrate creates or updates the crops table.
func (s *CropStore) AutoMigrate() error {
	if err := s.db.AutoMigrate(&CropRecord{}); err != nil {
		return fmt.Errorf("auto-migrate crops: %w", err)
	}
	return nil
}

// Upsert inserts or replaces crops by id.
func (s *CropStore) Upsert(crops []CropRecord) error {
	if len(crops) == 0 {
		return nil
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "projected_yield", "yield_unit", "rest_days", "cycle_days", "updated_at"}),
	}).Create(&crops).Error
	if err != nil {
		return fmt.Errorf("upsert crops: %w", err)
	}
	return nil
}

// Get returns a crop by id, or nil if unknown.
func (s *CropStore) Get(id string) (*CropRecord, error) {
	return getCrop(s.db, id)
}

func getCrop(db *gorm.DB, id string) (*CropRecord, error) {
	if id == "" {
		return nil, nil
	}
	var c CropRecord
	if err := db.Where("id = ?", id).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get crop: %w", err)
	}
	return &c, nil
}

// List returns all crops ordered by name.
func (s *CropStore) List() ([]CropRecord, error) {
	var out []CropRecord
	if err := s.db.Order("name ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list crops: %w", err)
	}
	return out, nil
}

type cropFile struct {
	Crops []cropEntry `yaml:"crops"`
}

type cropEntry struct {
	ID             string `yaml:"id"`
	Name           string `yaml:"name"`
	ProjectedYield string `yaml:"projectedYield"`
	YieldUnit      string `yaml:"yieldUnit"`
	RestDays       int    `yaml:"restDays"`
	CycleDays      int    `yaml:"cycleDays"`
}

// ParseCrops decodes a YAML crop catalog.
//
//	crops:
//	  - id: soja
//	    name: Soja
//	    projectedYield: "35"
//	    yieldUnit: qq/ha
//	    restDays: 30
//	    cycleDays: 140
func ParseCrops(data []byte) ([]CropRecord, error) {
	var f cropFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse crop catalog: %w", err)
	}
	out := make([]CropRecord, 0, len(f.Crops))
	for i, e := range f.Crops {
		id := strings.ToLower(strings.TrimSpace(e.ID))
		if id == "" {
			return nil, fmt.Errorf("crop %d: id is required", i)
		}
		rec := CropRecord{
			ID:        id,
			Name:      e.Name,
			YieldUnit: e.YieldUnit,
			RestDays:  e.RestDays,
			CycleDays: e.CycleDays,
		}
		if rec.Name == "" {
			rec.Name = e.ID
		}
		if e.ProjectedYield != "" {
			py, err := decimal.NewFromString(strings.TrimSpace(e.ProjectedYield))
			if err != nil || py.IsNegative() {
				return nil, fmt.Errorf("crop %s: invalid projectedYield %q", id, e.ProjectedYield)
			}
			rec.ProjectedYield = py
		}
		if rec.YieldUnit != "" {
			canonical, _, err := yield.NormalizeYieldUnit(rec.YieldUnit)
			if err != nil {
				return nil, fmt.Errorf("crop %s: %w", id, err)
			}
			rec.YieldUnit = canonical
		}
		if rec.RestDays < 0 || rec.CycleDays < 0 {
			return nil, fmt.Errorf("crop %s: negative day counts", id)
		}
		out = append(out, rec)
	}
	return out, nil
}

// CropLoader syncs a YAML catalog file into the crop store and reloads it
// when the file changes.
type CropLoader struct {
	store  *CropStore
	path   string
	logger *slog.Logger
}

// NewCropLoader creates a loader for path.
func NewCropLoader(store *CropStore, path string, logger *slog.Logger) *CropLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &CropLoader{store: store, path: path, logger: logger}
}

// Load reads the file and upserts its crops. Returns the number of crops loaded.
func (l *CropLoader) Load() (int, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0, fmt.Errorf("read crop catalog: %w", err)
	}
	crops, err := ParseCrops(data)
	if err != nil {
		return 0, err
	}
	if err := l.store.Upsert(crops); err != nil {
		return 0, err
	}
	return len(crops), nil
}

// Watch reloads the catalog on every write until ctx is cancelled. The
// directory is watched so editors that replace the file are handled.
func (l *CropLoader) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create crop watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(l.path)); err != nil {
		return fmt.Errorf("watch crop catalog: %w", err)
	}
	target := filepath.Clean(l.path)

	// Debounce bursts of events from a single save.
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				pending = time.After(200 * time.Millisecond)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("crop watcher error", "error", err)
		case <-pending:
			pending = nil
			n, err := l.Load()
			if err != nil {
				l.logger.Error("crop catalog reload failed", "path", l.path, "error", err)
				continue
			}
			l.logger.Info("crop catalog reloaded", "path", l.path, "crops", n)
		}
	}
}
