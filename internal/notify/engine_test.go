package notify_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mensabot/internal/model"
	"github.com/nhle/mensabot/internal/notify"
	"github.com/nhle/mensabot/internal/testutil"
)

var fetched = time.Date(2024, 3, 4, 6, 0, 0, 0, time.UTC)

func listUsers(t *testing.T, s interface {
	ListUsers(context.Context) ([]model.User, error)
}) []model.User {
	t.Helper()
	users, err := s.ListUsers(context.Background())
	require.NoError(t, err)
	return users
}

func TestEvaluateMatchesCaseInsensitive(t *testing.T) {
	s := testutil.NewTestStore(t)
	alerts := testutil.SeedUser(t, s, model.User{ID: 1}, "veggie")
	days := []model.MenuDay{testutil.MenuDay("2024-03-04", fetched, "Suppe", "Veggie Bowl")}

	reqs, err := notify.NewEngine(s, nil).Evaluate(context.Background(), days, listUsers(t, s))
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, int64(1), reqs[0].UserID)
	assert.Equal(t, alerts[0].ID, reqs[0].AlertID)
	assert.Equal(t, model.Date("2024-03-04"), reqs[0].Date)
	assert.Equal(t, "Veggie Bowl", reqs[0].Meal.Name)
}

func TestEvaluateMatchesTags(t *testing.T) {
	s := testutil.NewTestStore(t)
	testutil.SeedUser(t, s, model.User{ID: 1}, "Vegan")
	day := testutil.MenuDay("2024-03-04", fetched, "Linsencurry")
	day.Meals[0].Tags = []model.Tag{model.TagVegan}

	reqs, err := notify.NewEngine(s, nil).Evaluate(context.Background(), []model.MenuDay{day}, listUsers(t, s))
	require.NoError(t, err)
	assert.Len(t, reqs, 1)
}

func TestEvaluateAtMostOncePerAlertAndDate(t *testing.T) {
	s := testutil.NewTestStore(t)
	testutil.SeedUser(t, s, model.User{ID: 1}, "curry")
	days := []model.MenuDay{
		testutil.MenuDay("2024-03-04", fetched, "Curry rot", "Curry grün"),
		testutil.MenuDay("2024-03-05", fetched, "Curry"),
	}
	e := notify.NewEngine(s, nil)

	reqs, err := e.Evaluate(context.Background(), days, listUsers(t, s))
	require.NoError(t, err)
	require.Len(t, reqs, 2, "one per date, first matching meal")
	assert.Equal(t, "Curry rot", reqs[0].Meal.Name)
	assert.Equal(t, model.Date("2024-03-05"), reqs[1].Date)

	for i := 0; i < 3; i++ {
		again, err := e.Evaluate(context.Background(), days, listUsers(t, s))
		require.NoError(t, err)
		assert.Empty(t, again)
	}
}

func TestEvaluateFutureTracking(t *testing.T) {
	s := testutil.NewTestStore(t)
	testutil.SeedUser(t, s, model.User{ID: 1}, "lasagne")
	e := notify.NewEngine(s, nil)

	// Alert exists before Wednesday's menu is published.
	days := []model.MenuDay{testutil.MenuDay("2024-03-04", fetched, "Suppe")}
	reqs, err := e.Evaluate(context.Background(), days, listUsers(t, s))
	require.NoError(t, err)
	assert.Empty(t, reqs)

	days = append(days, testutil.MenuDay("2024-03-06", fetched.Add(48*time.Hour), "Lasagne"))
	reqs, err = e.Evaluate(context.Background(), days, listUsers(t, s))
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, model.Date("2024-03-06"), reqs[0].Date)

	reqs, err = e.Evaluate(context.Background(), days, listUsers(t, s))
	require.NoError(t, err)
	assert.Empty(t, reqs)
}

func TestEvaluateMuteSemantics(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	testutil.SeedUser(t, s, model.User{ID: 1, Muted: true}, "curry")
	alerts := testutil.SeedUser(t, s, model.User{ID: 2}, "curry", "curry")
	require.NoError(t, s.SetAlertMuted(ctx, 2, alerts[0].ID, true))

	days := []model.MenuDay{testutil.MenuDay("2024-03-04", fetched, "Curry")}
	reqs, err := notify.NewEngine(s, nil).Evaluate(ctx, days, listUsers(t, s))
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, int64(2), reqs[0].UserID)
	assert.Equal(t, alerts[1].ID, reqs[0].AlertID)
}

func TestEvaluateIgnoresNonMatching(t *testing.T) {
	s := testutil.NewTestStore(t)
	testutil.SeedUser(t, s, model.User{ID: 1}, "fisch")

	reqs, err := notify.NewEngine(s, nil).Evaluate(context.Background(),
		[]model.MenuDay{testutil.MenuDay("2024-03-04", fetched, "Curry")}, listUsers(t, s))
	require.NoError(t, err)
	assert.Empty(t, reqs)
}

// failingRecords fails every write.
type failingRecords struct {
	hasErr error
	recErr error
	writes int
}

func (f *failingRecords) HasDelivery(context.Context, string, model.Date) (bool, error) {
	return false, f.hasErr
}

func (f *failingRecords) RecordDelivery(context.Context, model.DeliveryRecord) error {
	f.writes++
	return f.recErr
}

func TestEvaluateDropsWhenRecordFails(t *testing.T) {
	users := []model.User{{ID: 1, Alerts: []model.Alert{{ID: "a1", OwnerID: 1, Keyword: "curry"}}}}
	days := []model.MenuDay{testutil.MenuDay("2024-03-04", fetched, "Curry")}

	recs := &failingRecords{recErr: errors.New("disk full")}
	reqs, err := notify.NewEngine(recs, nil).Evaluate(context.Background(), days, users)
	require.NoError(t, err)
	assert.Empty(t, reqs)
	assert.Equal(t, 1, recs.writes)

	recs = &failingRecords{hasErr: errors.New("db locked")}
	reqs, err = notify.NewEngine(recs, nil).Evaluate(context.Background(), days, users)
	require.NoError(t, err)
	assert.Empty(t, reqs)
	assert.Equal(t, 0, recs.writes)
}

func TestEvaluateCanceled(t *testing.T) {
	users := []model.User{{ID: 1, Alerts: []model.Alert{{ID: "a1", OwnerID: 1, Keyword: "curry"}}}}
	days := []model.MenuDay{testutil.MenuDay("2024-03-04", fetched, "Curry")}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := notify.NewEngine(&failingRecords{}, nil).Evaluate(ctx, days, users)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEvaluateOrderIsDeterministic(t *testing.T) {
	users := []model.User{
		{ID: 2, Alerts: []model.Alert{{ID: "b", OwnerID: 2, Keyword: "curry"}}},
		{ID: 1, Alerts: []model.Alert{{ID: "a", OwnerID: 1, Keyword: "curry"}}},
	}
	days := []model.MenuDay{
		testutil.MenuDay("2024-03-05", fetched, "Curry"),
		testutil.MenuDay("2024-03-04", fetched, "Curry"),
	}

	reqs, err := notify.NewEngine(&failingRecords{}, nil).Evaluate(context.Background(), days, users)
	require.NoError(t, err)
	require.Len(t, reqs, 4)
	var got []string
	for _, r := range reqs {
		got = append(got, r.AlertID+"@"+r.Date.String())
	}
	assert.Equal(t, []string{"a@2024-03-04", "a@2024-03-05", "b@2024-03-04", "b@2024-03-05"}, got)
}
