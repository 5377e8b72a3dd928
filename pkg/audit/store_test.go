package audit

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *AuditStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	store := NewAuditStore(db)
	require.NoError(t, store.AutoMigrate())
	return store
}

func appendEvent(t *testing.T, s *AuditStore, company, plotID, eventType string, at time.Time) *AuditEventRecord {
	t.Helper()
	ev := &AuditEventRecord{
		ID:        uuid.New().String(),
		CompanyID: company,
		EventType: eventType,
		Actor:     "ana",
		PlotID:    plotID,
		Outcome:   OutcomeSuccess,
		CreatedAt: at,
	}
	require.NoError(t, s.Append(ev))
	return ev
}

func TestAuditStore_AppendAndGet(t *testing.T) {
	store := newTestStore(t)
	ev := appendEvent(t, store, "acme", "p1", EventTypeStateChanged, time.Now())

	got, err := store.GetByID("acme", ev.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, EventTypeStateChanged, got.EventType)

	other, err := store.GetByID("globex", ev.ID)
	require.NoError(t, err)
	assert.Nil(t, other, "events are scoped to their company")
}

func TestAuditStore_ListFilteredPaginates(t *testing.T) {
	store := newTestStore(t)
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		appendEvent(t, store, "acme", "p1", EventTypeStateChanged, base.Add(time.Duration(i)*time.Minute))
	}
	appendEvent(t, store, "acme", "p2", EventTypeReleased, base)
	appendEvent(t, store, "globex", "p1", EventTypeStateChanged, base)

	page1, next, total, err := store.ListByPlot("acme", "p1", 3, "")
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page1, 3)
	assert.NotEmpty(t, next)
	assert.True(t, page1[0].CreatedAt.After(page1[1].CreatedAt), "newest first")

	page2, next2, _, err := store.ListByPlot("acme", "p1", 3, next)
	require.NoError(t, err)
	assert.Len(t, page2, 2)
	assert.Empty(t, next2)

	released, _, total, err := store.ListFiltered(ListFilter{CompanyID: "acme", EventType: EventTypeReleased}, 10, "")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "p2", released[0].PlotID)
}

func TestAuditStore_InvalidPageToken(t *testing.T) {
	store := newTestStore(t)
	_, _, _, err := store.ListFiltered(ListFilter{CompanyID: "acme"}, 10, "yesterday")
	assert.Error(t, err)
}

func TestAuditStore_DeleteOlderThan(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()
	appendEvent(t, store, "acme", "p1", EventTypeStateChanged, now.Add(-400*24*time.Hour))
	appendEvent(t, store, "acme", "p1", EventTypeStateChanged, now)

	deleted, err := store.DeleteOlderThan(now.Add(-365 * 24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestJSONColumnsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ev := &AuditEventRecord{
		ID:            uuid.New().String(),
		CompanyID:     "acme",
		EventType:     EventTypeForcedRelease,
		Actor:         "ana",
		Outcome:       OutcomeSuccess,
		ResourceIDs:   JSONStringSlice{"p1", "h1"},
		NewValue:      JSONAny{"justification": "replanting"},
		EventMetadata: JSONAny{"restDays": float64(30)},
	}
	require.NoError(t, store.Append(ev))

	got, err := store.GetByID("acme", ev.ID)
	require.NoError(t, err)
	assert.Equal(t, JSONStringSlice{"p1", "h1"}, got.ResourceIDs)
	assert.Equal(t, "replanting", got.NewValue["justification"])
	assert.Equal(t, float64(30), got.EventMetadata["restDays"])
}
