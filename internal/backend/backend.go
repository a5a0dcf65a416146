// Package backend serves the expenses REST contract over a storage.Store.
//
// It is the reference implementation the gateway talks to in tests and local
// development: friends, expenses, and the signed amount of every friend in
// every expense.
package backend

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/mmynk/splitwithme/internal/api"
	"github.com/mmynk/splitwithme/internal/middleware"
	"github.com/mmynk/splitwithme/internal/storage"
)

// Server handles the REST endpoints.
type Server struct {
	store   storage.Store
	metrics *middleware.Metrics
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics records request counts and latency in m.
func WithMetrics(m *middleware.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// New creates a Server backed by store.
func New(store storage.Store, opts ...Option) *Server {
	s := &Server{store: store}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the HTTP handler with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	if s.metrics != nil {
		r.Use(s.metrics.Handler)
	}
	r.Use(middleware.Logging)
	r.Use(middleware.CORS)

	r.Route("/friends", func(r chi.Router) {
		r.Get("/", s.listFriends)
		r.Post("/", s.createFriend)
		r.Get("/{friendID}", s.getFriend)
		r.Put("/{friendID}", s.updateFriend)
		r.Delete("/{friendID}", s.deleteFriend)
		r.Get("/{friendID}/expenses", s.listFriendExpenses)
	})

	r.Route("/expenses", func(r chi.Router) {
		r.Get("/", s.listExpenses)
		r.Post("/", s.createExpense)
		r.Get("/{expenseID}", s.getExpense)
		r.Put("/{expenseID}", s.updateExpense)
		r.Delete("/{expenseID}", s.deleteExpense)

		r.Get("/{expenseID}/friends", s.listExpenseFriends)
		r.Post("/{expenseID}/friends", s.attachFriend)
		r.Get("/{expenseID}/friends/{friendID}", s.getShare)
		r.Put("/{expenseID}/friends/{friendID}", s.setAmount)
		r.Delete("/{expenseID}/friends/{friendID}", s.detachFriend)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError maps storage errors to status codes: invalid 400, not found 404,
// conflict 409, anything else 500.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrConflict):
		status = http.StatusConflict
	default:
		slog.Error("Storage error", "error", err)
	}
	writeJSON(w, status, api.ErrorResponse{Detail: err.Error()})
}

func badRequest(w http.ResponseWriter, detail string) {
	writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Detail: detail})
}

func idParam(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func toAPIFriend(f *storage.Friend) api.Friend {
	return api.Friend{
		ID:            f.ID,
		Name:          f.Name,
		CreditBalance: api.NewAmount(f.CreditBalance),
		DebitBalance:  api.NewAmount(f.DebitBalance),
	}
}

func toAPIExpense(e *storage.Expense) api.Expense {
	return api.Expense{
		ID:          e.ID,
		Description: e.Description,
		Amount:      api.NewAmount(e.Amount),
		Date:        e.Date,
	}
}

func (s *Server) listFriends(w http.ResponseWriter, r *http.Request) {
	friends, err := s.store.ListFriends(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]api.Friend, 0, len(friends))
	for _, f := range friends {
		out = append(out, toAPIFriend(f))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createFriend(w http.ResponseWriter, r *http.Request) {
	var in api.FriendInput
	if err := decodeBody(r, &in); err != nil {
		badRequest(w, "invalid body: "+err.Error())
		return
	}
	friend := &storage.Friend{Name: in.Name}
	if err := s.store.CreateFriend(r.Context(), friend); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAPIFriend(friend))
}

func (s *Server) getFriend(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "friendID")
	if !ok {
		badRequest(w, "invalid friend id")
		return
	}
	friend, err := s.store.GetFriend(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAPIFriend(friend))
}

func (s *Server) updateFriend(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "friendID")
	if !ok {
		badRequest(w, "invalid friend id")
		return
	}
	var in api.FriendInput
	if err := decodeBody(r, &in); err != nil {
		badRequest(w, "invalid body: "+err.Error())
		return
	}
	if err := s.store.UpdateFriend(r.Context(), &storage.Friend{ID: id, Name: in.Name}); err != nil {
		writeError(w, err)
		return
	}
	friend, err := s.store.GetFriend(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAPIFriend(friend))
}

func (s *Server) deleteFriend(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "friendID")
	if !ok {
		badRequest(w, "invalid friend id")
		return
	}
	if err := s.store.DeleteFriend(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listFriendExpenses(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "friendID")
	if !ok {
		badRequest(w, "invalid friend id")
		return
	}
	expenses, err := s.store.ListFriendExpenses(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]api.FriendExpense, 0, len(expenses))
	for _, fe := range expenses {
		out = append(out, api.FriendExpense{
			Expense:       toAPIExpense(&fe.Expense),
			CreditBalance: api.NewAmount(fe.CreditBalance),
			DebitBalance:  api.NewAmount(fe.DebitBalance),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listExpenses(w http.ResponseWriter, r *http.Request) {
	expenses, err := s.store.ListExpenses(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]api.Expense, 0, len(expenses))
	for _, e := range expenses {
		out = append(out, toAPIExpense(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createExpense(w http.ResponseWriter, r *http.Request) {
	var in api.ExpenseInput
	if err := decodeBody(r, &in); err != nil {
		badRequest(w, "invalid body: "+err.Error())
		return
	}
	expense := &storage.Expense{Description: in.Description, Amount: in.Amount.Decimal, Date: in.Date}
	if err := s.store.CreateExpense(r.Context(), expense); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAPIExpense(expense))
}

func (s *Server) getExpense(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "expenseID")
	if !ok {
		badRequest(w, "invalid expense id")
		return
	}
	expense, err := s.store.GetExpense(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAPIExpense(expense))
}

func (s *Server) updateExpense(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "expenseID")
	if !ok {
		badRequest(w, "invalid expense id")
		return
	}
	var in api.ExpenseInput
	if err := decodeBody(r, &in); err != nil {
		badRequest(w, "invalid body: "+err.Error())
		return
	}
	expense := &storage.Expense{ID: id, Description: in.Description, Amount: in.Amount.Decimal, Date: in.Date}
	if err := s.store.UpdateExpense(r.Context(), expense); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAPIExpense(expense))
}

func (s *Server) deleteExpense(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "expenseID")
	if !ok {
		badRequest(w, "invalid expense id")
		return
	}
	if err := s.store.DeleteExpense(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listExpenseFriends(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "expenseID")
	if !ok {
		badRequest(w, "invalid expense id")
		return
	}
	ids, err := s.store.ListExpenseFriends(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]api.ExpenseFriend, 0, len(ids))
	for _, friendID := range ids {
		out = append(out, api.ExpenseFriend{FriendID: friendID})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) attachFriend(w http.ResponseWriter, r *http.Request) {
	expenseID, ok := idParam(r, "expenseID")
	if !ok {
		badRequest(w, "invalid expense id")
		return
	}
	friendID, err := strconv.ParseInt(r.URL.Query().Get("friend_id"), 10, 64)
	if err != nil || friendID <= 0 {
		badRequest(w, "friend_id query parameter is required")
		return
	}
	if err := s.store.AttachFriend(r.Context(), expenseID, friendID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, api.ExpenseFriend{FriendID: friendID})
}

func (s *Server) getShare(w http.ResponseWriter, r *http.Request) {
	expenseID, ok := idParam(r, "expenseID")
	if !ok {
		badRequest(w, "invalid expense id")
		return
	}
	friendID, ok := idParam(r, "friendID")
	if !ok {
		badRequest(w, "invalid friend id")
		return
	}
	share, err := s.store.GetShare(r.Context(), expenseID, friendID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.Share{
		ExpenseID:     share.ExpenseID,
		FriendID:      share.FriendID,
		CreditBalance: api.NewAmount(share.CreditBalance),
		DebitBalance:  api.NewAmount(share.DebitBalance),
	})
}

func (s *Server) setAmount(w http.ResponseWriter, r *http.Request) {
	expenseID, ok := idParam(r, "expenseID")
	if !ok {
		badRequest(w, "invalid expense id")
		return
	}
	friendID, ok := idParam(r, "friendID")
	if !ok {
		badRequest(w, "invalid friend id")
		return
	}
	amount, err := decimal.NewFromString(r.URL.Query().Get("amount"))
	if err != nil {
		badRequest(w, "amount query parameter must be a number")
		return
	}
	if err := s.store.SetAmount(r.Context(), expenseID, friendID, amount); err != nil {
		writeError(w, err)
		return
	}
	share, err := s.store.GetShare(r.Context(), expenseID, friendID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.Share{
		ExpenseID:     share.ExpenseID,
		FriendID:      share.FriendID,
		CreditBalance: api.NewAmount(share.CreditBalance),
		DebitBalance:  api.NewAmount(share.DebitBalance),
	})
}

func (s *Server) detachFriend(w http.ResponseWriter, r *http.Request) {
	expenseID, ok := idParam(r, "expenseID")
	if !ok {
		badRequest(w, "invalid expense id")
		return
	}
	friendID, ok := idParam(r, "friendID")
	if !ok {
		badRequest(w, "invalid friend id")
		return
	}
	if err := s.store.DetachFriend(r.Context(), expenseID, friendID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
