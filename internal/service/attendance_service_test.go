package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"attendance-service/internal/geo"
	"attendance-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var officeCenter = geo.Point{Latitude: 12.9716, Longitude: 77.5946}

func TestOfficeCheckInGeofence(t *testing.T) {
	env := newTestEnv(t)
	env.addOffice(t, "HQ", officeCenter, 50)
	tracker := env.factory.Attendance()
	ctx := context.Background()

	_, err := tracker.CheckIn(ctx, "acc-1", "", north(officeCenter, 60), models.WorkModeOffice)
	e := serviceError(t, err)
	assert.Equal(t, "OUT_OF_OFFICE_RADIUS", e.Code)
	assert.InDelta(t, 60, e.Details["distance"], 1)
	assert.Equal(t, 50.0, e.Details["allowedRadius"])

	rec, err := tracker.Today(ctx, "acc-1", "")
	require.NoError(t, err)
	assert.Nil(t, rec, "a rejected check-in stores nothing")

	rec, err = tracker.CheckIn(ctx, "acc-1", "", north(officeCenter, 40), models.WorkModeOffice)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCheckedIn, rec.Status)
	assert.NotEmpty(t, rec.OfficeLocationID)
	assert.Zero(t, rec.WFHRadiusMeters)
}

func TestOfficeNotConfigured(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.factory.Attendance().CheckIn(context.Background(), "acc-1", "", officeCenter, models.WorkModeOffice)
	assert.ErrorIs(t, err, ErrOfficeNotConfigured)
}

func TestCheckInMatchesAnyActiveOffice(t *testing.T) {
	env := newTestEnv(t)
	env.addOffice(t, "HQ", officeCenter, 50)
	branchCenter := geo.Point{Latitude: 13.0358, Longitude: 77.5970}
	branch := env.addOffice(t, "Branch", branchCenter, 200)

	rec, err := env.factory.Attendance().CheckIn(context.Background(), "acc-1", "", north(branchCenter, 150), models.WorkModeOffice)
	require.NoError(t, err)
	assert.Equal(t, branch.ID, rec.OfficeLocationID)
}

func TestOutOfOfficeReportsNearest(t *testing.T) {
	env := newTestEnv(t)
	env.addOffice(t, "Far", geo.Point{Latitude: 28.6139, Longitude: 77.2090}, 100)
	near := env.addOffice(t, "Near", officeCenter, 100)

	_, err := env.factory.Attendance().CheckIn(context.Background(), "acc-1", "", north(officeCenter, 250), models.WorkModeOffice)
	e := serviceError(t, err)
	assert.Equal(t, near.ID, e.Details["officeLocationId"])
	assert.InDelta(t, 250, e.Details["distance"], 1)
}

func TestCheckInThenCheckOut(t *testing.T) {
	env := newTestEnv(t)
	env.addOffice(t, "HQ", officeCenter, 100)
	tracker := env.factory.Attendance()
	ctx := context.Background()

	in, err := tracker.CheckIn(ctx, "acc-1", "", officeCenter, models.WorkModeOffice)
	require.NoError(t, err)

	env.clock.Advance(8*time.Hour + 15*time.Minute + 20*time.Second)
	out, err := tracker.CheckOut(ctx, "acc-1", "", north(officeCenter, 30))
	require.NoError(t, err)

	assert.Equal(t, models.StatusCheckedOut, out.Status)
	require.NotNil(t, out.CheckOutAt)
	assert.Equal(t, in.CheckInAt.Add(8*time.Hour+15*time.Minute+20*time.Second), *out.CheckOutAt)
	require.NotNil(t, out.CheckOutLocation)
	assert.Equal(t, 8.26, out.WorkingHours)

	_, err = tracker.CheckIn(ctx, "acc-1", "", officeCenter, models.WorkModeOffice)
	e := serviceError(t, err)
	assert.Equal(t, "ALREADY_CHECKED_IN", e.Code)
	assert.Equal(t, models.StatusCheckedOut, e.Details["status"])
	assert.Contains(t, e.Message, "completed")

	records, err := env.store.ListAttendance(ctx, "acc-1", "2000-01-01", "2100-01-01")
	require.NoError(t, err)
	assert.Len(t, records, 1)

	assert.Equal(t, []string{AttendanceEventCheckedIn, AttendanceEventCheckedOut}, env.publisher.types())
}

func TestSecondCheckInWhileOpen(t *testing.T) {
	env := newTestEnv(t)
	tracker := env.factory.Attendance()
	ctx := context.Background()

	_, err := tracker.CheckIn(ctx, "acc-1", "", officeCenter, models.WorkModeWFH)
	require.NoError(t, err)

	existing, err := tracker.CheckIn(ctx, "acc-1", "", officeCenter, models.WorkModeWFH)
	e := serviceError(t, err)
	assert.Equal(t, "ALREADY_CHECKED_IN", e.Code)
	assert.Equal(t, models.StatusCheckedIn, e.Details["status"])
	require.NotNil(t, existing)
	assert.Equal(t, models.WorkModeWFH, existing.WorkMode)
}

func TestCheckOutWithoutCheckIn(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.factory.Attendance().CheckOut(context.Background(), "acc-1", "", officeCenter)
	assert.ErrorIs(t, err, ErrNotCheckedIn)
}

func TestCheckOutTwiceReturnsExistingRecord(t *testing.T) {
	env := newTestEnv(t)
	tracker := env.factory.Attendance()
	ctx := context.Background()

	_, err := tracker.CheckIn(ctx, "acc-1", "", officeCenter, models.WorkModeWFH)
	require.NoError(t, err)
	env.clock.Advance(2 * time.Hour)
	first, err := tracker.CheckOut(ctx, "acc-1", "", officeCenter)
	require.NoError(t, err)

	env.clock.Advance(3 * time.Hour)
	again, err := tracker.CheckOut(ctx, "acc-1", "", officeCenter)
	assert.ErrorIs(t, err, ErrAlreadyCheckedOut)
	require.NotNil(t, again)
	assert.Equal(t, 2.0, again.WorkingHours)
	assert.Equal(t, first.CheckOutAt, again.CheckOutAt)
}

func TestWFHCheckOutUsesCapturedRadius(t *testing.T) {
	env := newTestEnv(t)
	tracker := env.factory.Attendance()
	ctx := context.Background()
	home := geo.Point{Latitude: 12.9352, Longitude: 77.6245}

	rec, err := tracker.CheckIn(ctx, "acc-1", "", home, models.WorkModeWFH)
	require.NoError(t, err)
	assert.Equal(t, DefaultWFHRadiusMeters, rec.WFHRadiusMeters)

	_, err = tracker.SetWFHRadius(ctx, 500)
	require.NoError(t, err)

	env.clock.Advance(4 * time.Hour)
	_, err = tracker.CheckOut(ctx, "acc-1", "", north(home, 200))
	e := serviceError(t, err)
	assert.Equal(t, "OUT_OF_WFH_RADIUS", e.Code)
	assert.Equal(t, DefaultWFHRadiusMeters, e.Details["allowedRadius"])
	assert.InDelta(t, 200, e.Details["distance"], 1)

	out, err := tracker.CheckOut(ctx, "acc-1", "", north(home, 50))
	require.NoError(t, err)
	assert.Equal(t, 4.0, out.WorkingHours)

	// a new day picks up the new radius
	env.clock.Advance(24 * time.Hour)
	next, err := tracker.CheckIn(ctx, "acc-1", "", home, models.WorkModeWFH)
	require.NoError(t, err)
	assert.Equal(t, 500.0, next.WFHRadiusMeters)
}

func TestOfficeCheckOutUsesCurrentConfiguration(t *testing.T) {
	env := newTestEnv(t)
	office := env.addOffice(t, "HQ", officeCenter, 100)
	tracker := env.factory.Attendance()
	admin := env.factory.Admin()
	ctx := context.Background()

	_, err := tracker.CheckIn(ctx, "acc-1", "", north(officeCenter, 80), models.WorkModeOffice)
	require.NoError(t, err)

	radius := 50.0
	_, err = admin.UpdateOfficeLocation(ctx, office.ID, OfficeLocationPatch{RadiusMeters: &radius})
	require.NoError(t, err)

	_, err = tracker.CheckOut(ctx, "acc-1", "", north(officeCenter, 80))
	assert.ErrorIs(t, err, ErrOutOfOfficeRadius)

	inactive := false
	_, err = admin.UpdateOfficeLocation(ctx, office.ID, OfficeLocationPatch{IsActive: &inactive})
	require.NoError(t, err)

	_, err = tracker.CheckOut(ctx, "acc-1", "", officeCenter)
	assert.ErrorIs(t, err, ErrOfficeNotConfigured)
}

func TestConcurrentCheckInCreatesOneRecord(t *testing.T) {
	env := newTestEnv(t)
	tracker := env.factory.Attendance()

	const callers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tracker.CheckIn(context.Background(), "acc-1", "", officeCenter, models.WorkModeWFH)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if assert.ErrorIs(t, err, ErrAlreadyCheckedIn) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, callers-1, rejected)
}

func TestConcurrentCheckOutCompletesOnce(t *testing.T) {
	env := newTestEnv(t)
	tracker := env.factory.Attendance()
	ctx := context.Background()

	_, err := tracker.CheckIn(ctx, "acc-1", "", officeCenter, models.WorkModeWFH)
	require.NoError(t, err)
	env.clock.Advance(time.Hour)

	const callers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tracker.CheckOut(context.Background(), "acc-1", "", officeCenter)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else {
				assert.ErrorIs(t, err, ErrAlreadyCheckedOut)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	rec, err := tracker.Today(ctx, "acc-1", "")
	require.NoError(t, err)
	assert.Equal(t, 1.0, rec.WorkingHours)
}

func TestCheckInValidation(t *testing.T) {
	env := newTestEnv(t)
	tracker := env.factory.Attendance()

	_, err := tracker.CheckIn(context.Background(), "acc-1", "", officeCenter, models.WorkMode("remote"))
	assert.ErrorIs(t, err, ErrInvalidWorkMode)

	_, err = tracker.CheckIn(context.Background(), "acc-1", "", geo.Point{Latitude: 91}, models.WorkModeWFH)
	assert.ErrorIs(t, err, ErrInvalidLocation)
}

func TestDateKeyUsesConfiguredTimezone(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC))
	ist := time.FixedZone("IST", 5*3600+1800)
	env := newTestEnv(t)
	tracker := NewAttendanceService(env.store, env.store, env.store, nil, 0, ist, clock, zap.NewNop())

	assert.Equal(t, "2026-03-03", tracker.CurrentDate())

	rec, err := tracker.CheckIn(context.Background(), "acc-1", "", officeCenter, models.WorkModeWFH)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-03", rec.Date)
}

func TestSetWFHRadiusBounds(t *testing.T) {
	env := newTestEnv(t)
	tracker := env.factory.Attendance()
	ctx := context.Background()

	_, err := tracker.SetWFHRadius(ctx, 5)
	assert.ErrorIs(t, err, ErrInvalidRadius)
	_, err = tracker.SetWFHRadius(ctx, 5001)
	assert.ErrorIs(t, err, ErrInvalidRadius)

	previous, err := tracker.SetWFHRadius(ctx, 250)
	require.NoError(t, err)
	assert.Equal(t, DefaultWFHRadiusMeters, previous)
	radius, err := tracker.WFHRadius(ctx)
	require.NoError(t, err)
	assert.Equal(t, 250.0, radius)
}

func TestWFHRadiusIsSharedThroughStore(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	home := geo.Point{Latitude: 12.9352, Longitude: 77.6245}

	// two services over one store behave like two replicas, or one restart
	first := NewAttendanceService(env.store, env.store, env.store, nil, 0, time.UTC, env.clock, zap.NewNop())
	second := NewAttendanceService(env.store, env.store, env.store, nil, 0, time.UTC, env.clock, zap.NewNop())

	_, err := first.SetWFHRadius(ctx, 400)
	require.NoError(t, err)

	radius, err := second.WFHRadius(ctx)
	require.NoError(t, err)
	assert.Equal(t, 400.0, radius)

	rec, err := second.CheckIn(ctx, "acc-1", "", home, models.WorkModeWFH)
	require.NoError(t, err)
	assert.Equal(t, 400.0, rec.WFHRadiusMeters)

	previous, err := second.SetWFHRadius(ctx, 150)
	require.NoError(t, err)
	assert.Equal(t, 400.0, previous)
}

func TestHistory(t *testing.T) {
	env := newTestEnv(t)
	env.addOffice(t, "HQ", officeCenter, 100)
	tracker := env.factory.Attendance()
	ctx := context.Background()

	day := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	plan := []struct {
		mode  models.WorkMode
		hours time.Duration
		out   bool
	}{
		{models.WorkModeOffice, 8 * time.Hour, true},
		{models.WorkModeWFH, 7*time.Hour + 30*time.Minute, true},
		{models.WorkModeOffice, 9 * time.Hour, true},
		{models.WorkModeWFH, 0, false},
	}
	for i, p := range plan {
		env.clock.Set(day.AddDate(0, 0, i))
		_, err := tracker.CheckIn(ctx, "acc-1", "", officeCenter, p.mode)
		require.NoError(t, err)
		if p.out {
			env.clock.Advance(p.hours)
			_, err := tracker.CheckOut(ctx, "acc-1", "", officeCenter)
			require.NoError(t, err)
		}
	}

	history, err := tracker.History(ctx, "acc-1", "2026-03-01", "2026-03-05")
	require.NoError(t, err)
	require.Len(t, history.Records, 4)
	assert.Equal(t, "2026-03-05", history.Records[0].Date)
	assert.Equal(t, models.AttendanceSummary{
		Days:         4,
		Completed:    3,
		TotalHours:   24.5,
		AverageHours: 8.17,
		OfficeDays:   2,
		WFHDays:      2,
	}, history.Summary)

	history, err = tracker.History(ctx, "acc-1", "2026-03-03", "2026-03-03")
	require.NoError(t, err)
	assert.Len(t, history.Records, 1)

	_, err = tracker.History(ctx, "acc-1", "2026-03-05", "2026-03-01")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = tracker.History(ctx, "acc-1", "03/01/2026", "")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = tracker.History(ctx, "acc-1", "2024-01-01", "2026-03-01")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestHistoryDefaultsToLastThirtyDays(t *testing.T) {
	env := newTestEnv(t)

	history, err := env.factory.Attendance().History(context.Background(), "acc-1", "", "")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-02", history.To)
	assert.Equal(t, "2026-02-01", history.From)
	assert.NotNil(t, history.Records)
}

func TestWorkingHours(t *testing.T) {
	in := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	cases := []struct {
		elapsed time.Duration
		want    float64
	}{
		{0, 0},
		{time.Hour, 1},
		{90 * time.Minute, 1.5},
		{20 * time.Minute, 0.33},
		{40 * time.Minute, 0.67},
		{8*time.Hour + 15*time.Minute + 20*time.Second, 8.26},
		{-time.Minute, 0},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, WorkingHours(in, in.Add(c.elapsed)), "elapsed %s", c.elapsed)
	}
}
