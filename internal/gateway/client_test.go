package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/splitwithme/internal/gateway/gatewaytest"
)

func newTestClient(t *testing.T) (*Client, *gatewaytest.Server) {
	t.Helper()
	srv := gatewaytest.NewServer(t)
	return New(srv.URL, WithTimeout(5*time.Second)), srv
}

func TestFriendsRoundTrip(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	alice, err := c.CreateFriend(ctx, "Alice")
	require.NoError(t, err)
	require.NotZero(t, alice.ID)
	require.Equal(t, "Alice", alice.Name)
	require.True(t, alice.Net().IsZero())

	renamed, err := c.UpdateFriend(ctx, alice.ID, "Alicia")
	require.NoError(t, err)
	require.Equal(t, "Alicia", renamed.Name)

	got, err := c.GetFriend(ctx, alice.ID)
	require.NoError(t, err)
	require.Equal(t, "Alicia", got.Name)

	friends, err := c.ListFriends(ctx)
	require.NoError(t, err)
	require.Len(t, friends, 1)

	require.NoError(t, c.DeleteFriend(ctx, alice.ID))
	_, err = c.GetFriend(ctx, alice.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStatusMapping(t *testing.T) {
	c, srv := newTestClient(t)
	ctx := context.Background()

	_, err := c.CreateFriend(ctx, "Alice")
	require.NoError(t, err)

	_, err = c.CreateFriend(ctx, "ALICE")
	require.ErrorIs(t, err, ErrConflict)
	require.Equal(t, KindConflict, KindOf(err))

	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	require.Equal(t, http.StatusConflict, gwErr.StatusCode)
	require.Equal(t, "CreateFriend", gwErr.Op)
	require.NotEmpty(t, gwErr.Detail)

	_, err = c.CreateFriend(ctx, "   ")
	require.ErrorIs(t, err, ErrInvalidData)

	err = c.DeleteExpense(ctx, 99)
	require.ErrorIs(t, err, ErrNotFound)

	srv.FailOn(http.MethodGet, "/friends/", http.StatusInternalServerError, 0, 1)
	_, err = c.ListFriends(ctx)
	require.ErrorIs(t, err, ErrServerError)

	srv.FailOn(http.MethodGet, "/expenses/", http.StatusServiceUnavailable, 0, 1)
	_, err = c.ListExpenses(ctx)
	require.ErrorIs(t, err, ErrConnectionUnavailable)
	require.Equal(t, KindUnavailable, KindOf(err))

	// Faults are one-shot.
	_, err = c.ListFriends(ctx)
	require.NoError(t, err)
}

func TestConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url)
	_, err := c.ListFriends(context.Background())
	require.ErrorIs(t, err, ErrConnectionUnavailable)
	require.Equal(t, KindConnection, KindOf(err))
}

func TestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := New(srv.URL, WithTimeout(50*time.Millisecond))
	_, err := c.ListFriends(context.Background())
	require.ErrorIs(t, err, ErrTimeout)
}

func TestListExpenseFriendsFormats(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    []int64
		wantErr bool
	}{
		{"plain ids", `[1, 2]`, []int64{1, 2}, false},
		{"friend_id objects", `[{"friend_id": 3}]`, []int64{3}, false},
		{"id objects", `[{"id": 4, "name": "Dan"}]`, []int64{4}, false},
		{"mixed", `[5, {"friend_id": 6}, {"id": 7}]`, []int64{5, 6, 7}, false},
		{"empty", `[]`, []int64{}, false},
		{"unknown shape", `[{"name": "x"}]`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			ids, err := New(srv.URL).ListExpenseFriends(context.Background(), 1)
			if tt.wantErr {
				require.Error(t, err)
				require.Equal(t, KindUnexpected, KindOf(err))
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, ids)
		})
	}
}

func TestRequestIDHeader(t *testing.T) {
	var seen string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("X-Request-ID")
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).ListFriends(context.Background())
	require.NoError(t, err)
	require.Len(t, seen, 36)
}

func TestMetricsRegistered(t *testing.T) {
	srv := gatewaytest.NewServer(t)
	reg := prometheus.NewRegistry()
	c := New(srv.URL, WithRegisterer(reg))

	_, err := c.ListFriends(context.Background())
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	require.True(t, names["splitwithme_gateway_requests_total"])
	require.True(t, names["splitwithme_gateway_request_duration_seconds"])
}
