package plots

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/agrogestion/plots/pkg/audit"
)

const testCompany = "acme"

var testActor = Actor{User: "ana", Groups: []string{"PRODUCTOR"}, CompanyID: testCompany}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, NewPlotStore(db).AutoMigrate())
	require.NoError(t, NewHarvestStore(db).AutoMigrate())
	require.NoError(t, NewCropStore(db).AutoMigrate())
	require.NoError(t, audit.NewAuditStore(db).AutoMigrate())
	require.NoError(t, NewDBProposalStore(db).AutoMigrate())
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

type testEnv struct {
	db          *gorm.DB
	clock       *fakeClock
	coordinator *Coordinator
	ledger      *Ledger
	reporter    *Reporter
	changes     []string
}

func newTestEnv(t *testing.T, mutate ...func(*Options)) *testEnv {
	t.Helper()
	env := &testEnv{db: setupTestDB(t), clock: newFakeClock()}
	opts := Options{
		DB:       env.db,
		Now:      env.clock.Now,
		OnChange: func(company string) { env.changes = append(env.changes, company) },
	}
	for _, m := range mutate {
		m(&opts)
	}
	env.coordinator = NewCoordinator(opts, nil)
	env.ledger = env.coordinator.Ledger()
	env.reporter = NewReporter(env.db, opts.Config)
	return env
}

func (e *testEnv) seedPlot(t *testing.T, company string, state State) *PlotRecord {
	t.Helper()
	p := &PlotRecord{
		ID:             uuid.New().String(),
		CompanyID:      company,
		FieldID:        "field-1",
		Name:           "Lote " + string(state),
		AreaHectares:   decimal.NewFromInt(10),
		State:          state,
		StateChangedAt: e.clock.Now(),
	}
	require.NoError(t, NewPlotStore(e.db).Create(p))
	return p
}

func (e *testEnv) seedCrop(t *testing.T, id string, projected int64, restDays, cycleDays int) {
	t.Helper()
	require.NoError(t, NewCropStore(e.db).Upsert([]CropRecord{{
		ID:             id,
		Name:           strings.ToUpper(id[:1]) + id[1:],
		ProjectedYield: decimal.NewFromInt(projected),
		YieldUnit:      "qq/ha",
		RestDays:       restDays,
		CycleDays:      cycleDays,
	}}))
}

// harvest records a harvest on a LISTO_PARA_COSECHA plot at the clock's time
// minus ago.
func (e *testEnv) harvest(t *testing.T, plot *PlotRecord, kg int64, ago time.Duration) *ConfirmResult {
	t.Helper()
	date := e.clock.Now().Add(-ago)
	res, err := e.coordinator.RecordHarvest(t.Context(), testActor, plot.ID, HarvestInput{
		Date:     &date,
		Quantity: decPtr(kg),
		Unit:     "kg",
	})
	require.NoError(t, err)
	return res
}

func decPtr(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func intPtr(v int) *int { return &v }
