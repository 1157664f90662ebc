package delivery_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mensabot/internal/delivery"
	"github.com/nhle/mensabot/internal/model"
	"github.com/nhle/mensabot/internal/store"
	"github.com/nhle/mensabot/internal/testutil"
)

type fakeTransport struct {
	mu   sync.Mutex
	sent []delivery.Message
	errs map[int64]error
}

func (f *fakeTransport) Deliver(_ context.Context, msg delivery.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[msg.UserID]; err != nil {
		return err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func request(userID int64, alertID string, date model.Date, meal string) model.DeliveryRequest {
	day := testutil.MenuDay(date, time.Now(), meal)
	return model.DeliveryRequest{UserID: userID, AlertID: alertID, Keyword: "curry", Date: date, Meal: day.Meals[0]}
}

func TestDispatchFormatsPerUserStatus(t *testing.T) {
	s := testutil.NewTestStore(t)
	alerts := testutil.SeedUser(t, s, model.User{ID: 1, Status: model.StatusGuest}, "curry")
	tr := &fakeTransport{}

	sent, err := delivery.NewDispatcher(tr, s, 99, nil).Dispatch(context.Background(),
		[]model.DeliveryRequest{request(1, alerts[0].ID, "2024-03-04", "Curry")})
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	require.Len(t, tr.sent, 1)
	assert.Equal(t, int64(1), tr.sent[0].UserID)
	assert.Contains(t, tr.sent[0].Subject, "2024-03-04")
	assert.Contains(t, tr.sent[0].Body, "Monday, Mar 04")
	assert.Contains(t, tr.sent[0].Body, "Price (guest): € 3.00")
}

func TestDispatchDeletesUnreachableUser(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	gone := testutil.SeedUser(t, s, model.User{ID: 1}, "curry")
	kept := testutil.SeedUser(t, s, model.User{ID: 2}, "curry")
	tr := &fakeTransport{errs: map[int64]error{1: delivery.ErrRecipientGone}}

	sent, err := delivery.NewDispatcher(tr, s, 0, nil).Dispatch(ctx, []model.DeliveryRequest{
		request(1, gone[0].ID, "2024-03-04", "Curry"),
		request(1, gone[0].ID, "2024-03-05", "Curry"),
		request(2, kept[0].ID, "2024-03-04", "Curry"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	_, err = s.GetUser(ctx, 1)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetUser(ctx, 2)
	assert.NoError(t, err)
}

func TestDispatchContinuesAfterTransportError(t *testing.T) {
	s := testutil.NewTestStore(t)
	a := testutil.SeedUser(t, s, model.User{ID: 1}, "curry")
	b := testutil.SeedUser(t, s, model.User{ID: 2}, "curry")
	tr := &fakeTransport{errs: map[int64]error{1: errors.New("timeout")}}

	sent, err := delivery.NewDispatcher(tr, s, 0, nil).Dispatch(context.Background(), []model.DeliveryRequest{
		request(1, a[0].ID, "2024-03-04", "Curry"),
		request(2, b[0].ID, "2024-03-04", "Curry"),
		request(3, "unknown", "2024-03-04", "Curry"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	_, err = s.GetUser(context.Background(), 1)
	assert.NoError(t, err, "ordinary failures keep the user")
}

func TestNotifyAdmin(t *testing.T) {
	tr := &fakeTransport{}

	require.NoError(t, delivery.NewDispatcher(tr, nil, 0, nil).NotifyAdmin(context.Background(), "up", "started"))
	assert.Empty(t, tr.sent, "no admin configured")

	require.NoError(t, delivery.NewDispatcher(tr, nil, 7, nil).NotifyAdmin(context.Background(), "up", "started"))
	require.Len(t, tr.sent, 1)
	assert.Equal(t, int64(7), tr.sent[0].UserID)

	tr.errs = map[int64]error{7: errors.New("offline")}
	assert.Error(t, delivery.NewDispatcher(tr, nil, 7, nil).NotifyAdmin(context.Background(), "up", "started"))
}

func TestFormatAlertFlagsAllergies(t *testing.T) {
	req := request(1, "a", "2024-03-04", "Curry")
	req.Meal.Allergens = []model.Allergen{{Code: "25", Description: "Soja", Known: true}}

	msg := delivery.FormatAlert(req, model.User{ID: 1, Status: model.StatusStudent, AllergyCodes: []string{"25"}})
	assert.Contains(t, msg.Body, "Contains your allergens: 25: Soja")
	assert.Contains(t, msg.Body, "Price (student): € 1.00")
}
