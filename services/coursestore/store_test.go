package coursestore

import (
	"context"
	"path/filepath"
	"testing"

	"entekhab-backend/lib/scrapers/golestan"
	"entekhab-backend/lib/sqliteutil"
	"entekhab-backend/lib/telemetry"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) Store {
	cleanup := telemetry.SetupForTesting(t, "test:services/coursestore")
	t.Cleanup(cleanup)

	db, err := sqliteutil.OpenDB(Schema, filepath.Join(t.TempDir(), "courses.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return New(db)
}

func sampleCourses() []golestan.Course {
	return []golestan.Course{
		{
			Code:       "1010101",
			Name:       "مباني برنامه سازي",
			Credits:    3,
			Instructor: "رضا احمدی",
			Faculty:    "دانشکده مهندسی",
			Department: "گروه کامپیوتر",
			Location:   "کلاس 101",
			Capacity:   "40",
			Gender:     "مختلط",
			Schedule: []golestan.Session{
				{Day: "شنبه", Start: "13:00", End: "15:00", Parity: golestan.ParityOdd},
				{Day: "دوشنبه", Start: "08:00", End: "10:00"},
			},
			Exam: &golestan.ExamTime{Date: "1403.10.15", Start: "08:30", End: "10:30"},
		},
		{
			Code:       "1010102",
			Name:       "پايان نامه",
			Credits:    6,
			Instructor: "اساتید گروه آموزشی",
			Faculty:    "دانشکده مهندسی",
			Department: "گروه کامپیوتر",
		},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	err := store.Save(ctx, golestan.StatusAvailable, sampleCourses())
	require.NoError(t, err)

	loaded, err := store.Load(ctx, golestan.StatusAvailable)
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(sampleCourses(), loaded))

	// snapshots are per status filter
	unavailable, err := store.Load(ctx, golestan.StatusUnavailable)
	require.NoError(t, err)
	require.Empty(t, unavailable)
}

func TestSaveReplacesSnapshot(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	err := store.Save(ctx, golestan.StatusAvailable, sampleCourses())
	require.NoError(t, err)

	err = store.Save(ctx, golestan.StatusAvailable, sampleCourses()[:1])
	require.NoError(t, err)

	loaded, err := store.Load(ctx, golestan.StatusAvailable)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
}

func TestSearch(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	err := store.Save(ctx, golestan.StatusAvailable, sampleCourses())
	require.NoError(t, err)

	found, err := store.Search(ctx, golestan.StatusAvailable, "برنامه سازي", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, "1010101", found[0].Code)

	byInstructor, err := store.Search(ctx, golestan.StatusAvailable, "احمدی", 10)
	require.NoError(t, err)
	require.Len(t, byInstructor, 1)

	// match despite differing whitespace between query and stored name
	spaced, err := store.Search(ctx, golestan.StatusAvailable, "برنامه   سازي", 10)
	require.NoError(t, err)
	require.Len(t, spaced, 1)
	require.Equal(t, "1010101", spaced[0].Code)

	none, err := store.Search(ctx, golestan.StatusAvailable, "zzzz", 10)
	require.NoError(t, err)
	require.Empty(t, none)
}
