package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/dwellscope/listing-cli/internal/model"
	"github.com/dwellscope/listing-cli/internal/store"
	"github.com/dwellscope/listing-cli/pkg/aimodel"
)

// fakeStore is an in-memory Store with the same observable semantics as
// the Postgres implementation: idempotent session creation, guarded
// transitions, atomic consume-and-debit.
type fakeStore struct {
	mu             sync.Mutex
	sessions       map[string]*model.PropertySession
	rawFacts       map[string]model.RawFacts
	confirmedFacts map[string]model.ConfirmedFacts
	rawStats       map[string]model.RawStats
	confirmedStats map[string]model.ConfirmedStats
	evaluations    map[string]model.Evaluation
	prefs          map[string]model.Preferences
	counters       map[string]map[model.Action]*model.UsageCounter
	ledger         []model.LedgerEntry

	// one-shot write failures, cleared after firing once
	rawStatsErr       error
	confirmedStatsErr error
	evaluationErr     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions:       make(map[string]*model.PropertySession),
		rawFacts:       make(map[string]model.RawFacts),
		confirmedFacts: make(map[string]model.ConfirmedFacts),
		rawStats:       make(map[string]model.RawStats),
		confirmedStats: make(map[string]model.ConfirmedStats),
		evaluations:    make(map[string]model.Evaluation),
		prefs:          make(map[string]model.Preferences),
		counters:       make(map[string]map[model.Action]*model.UsageCounter),
	}
}

func (f *fakeStore) CreateOrGetSession(_ context.Context, userID, listingURL, listingID string) (*model.PropertySession, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	count := 0
	for _, s := range f.sessions {
		if s.UserID != userID {
			continue
		}
		count++
		if (listingID != "" && s.ListingID == listingID) || (listingID == "" && s.ListingURL == listingURL) {
			cp := *s
			return &cp, false, nil
		}
	}
	if count >= model.MaxSessionsPerUser {
		return nil, false, eris.Wrap(store.ErrSessionCap, "fake")
	}

	now := time.Now().UTC()
	sess := &model.PropertySession{
		ID:         uuid.New().String(),
		UserID:     userID,
		ListingURL: listingURL,
		ListingID:  listingID,
		Status:     model.StatusCreated,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	f.sessions[sess.ID] = sess
	cp := *sess
	return &cp, true, nil
}

func (f *fakeStore) GetSession(_ context.Context, sessionID string) (*model.PropertySession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) ListSessions(_ context.Context, userID string, filter store.SessionFilter) ([]model.PropertySession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.PropertySession
	for _, s := range f.sessions {
		if s.UserID != userID {
			continue
		}
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

func (f *fakeStore) CountSessions(_ context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, s := range f.sessions {
		if s.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) GuardedTransition(_ context.Context, sessionID, ownerID string, from []model.Status, to model.Status) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok || s.UserID != ownerID {
		return false, nil
	}
	for _, st := range from {
		if s.Status == st {
			s.Status = to
			s.UpdatedAt = time.Now().UTC()
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) TouchExtracted(_ context.Context, sessionID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return eris.Errorf("session not found: %s", sessionID)
	}
	s.LastExtractedAt = &at
	return nil
}

func (f *fakeStore) UpsertRawFacts(_ context.Context, sessionID string, facts model.ListingFacts) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rawFacts[sessionID] = model.RawFacts{SessionID: sessionID, Facts: facts, UpdatedAt: time.Now().UTC()}
	return nil
}

func (f *fakeStore) GetRawFacts(_ context.Context, sessionID string) (*model.RawFacts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rf, ok := f.rawFacts[sessionID]; ok {
		return &rf, nil
	}
	return nil, nil
}

func (f *fakeStore) UpsertConfirmedFacts(_ context.Context, cf model.ConfirmedFacts) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmedFacts[cf.SessionID] = cf
	return nil
}

func (f *fakeStore) GetConfirmedFacts(_ context.Context, sessionID string) (*model.ConfirmedFacts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cf, ok := f.confirmedFacts[sessionID]; ok {
		return &cf, nil
	}
	return nil, nil
}

func (f *fakeStore) UpsertRawStats(_ context.Context, rs model.RawStats) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.rawStatsErr; err != nil {
		f.rawStatsErr = nil
		return err
	}
	f.rawStats[rs.SessionID] = rs
	return nil
}

func (f *fakeStore) GetRawStats(_ context.Context, sessionID string) (*model.RawStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rs, ok := f.rawStats[sessionID]; ok {
		return &rs, nil
	}
	return nil, nil
}

func (f *fakeStore) UpsertConfirmedStats(_ context.Context, cs model.ConfirmedStats) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.confirmedStatsErr; err != nil {
		f.confirmedStatsErr = nil
		return err
	}
	f.confirmedStats[cs.SessionID] = cs
	return nil
}

func (f *fakeStore) GetConfirmedStats(_ context.Context, sessionID string) (*model.ConfirmedStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cs, ok := f.confirmedStats[sessionID]; ok {
		return &cs, nil
	}
	return nil, nil
}

func (f *fakeStore) UpsertEvaluation(_ context.Context, ev model.Evaluation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.evaluationErr; err != nil {
		f.evaluationErr = nil
		return err
	}
	f.evaluations[ev.SessionID] = ev
	return nil
}

func (f *fakeStore) GetEvaluation(_ context.Context, sessionID string) (*model.Evaluation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ev, ok := f.evaluations[sessionID]; ok {
		return &ev, nil
	}
	return nil, nil
}

func (f *fakeStore) GetPreferences(_ context.Context, userID string) (*model.Preferences, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.prefs[userID]; ok {
		return &p, nil
	}
	return nil, nil
}

func (f *fakeStore) EnsureCounters(_ context.Context, userID string) ([]model.Action, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.counters[userID]; ok {
		return nil, nil
	}
	f.counters[userID] = make(map[model.Action]*model.UsageCounter)
	var created []model.Action
	for _, action := range model.AllActions {
		f.counters[userID][action] = &model.UsageCounter{UserID: userID, Action: action}
		created = append(created, action)
	}
	return created, nil
}

func (f *fakeStore) GetCounter(_ context.Context, userID string, action model.Action) (*model.UsageCounter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.counters[userID][action]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) GetCounters(_ context.Context, userID string) ([]model.UsageCounter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.UsageCounter
	for _, action := range model.AllActions {
		if c, ok := f.counters[userID][action]; ok {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeStore) ListCounterUsers(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var users []string
	for u := range f.counters {
		users = append(users, u)
	}
	return users, nil
}

func (f *fakeStore) ConsumeQuota(_ context.Context, userID string, action model.Action, sessionID string) (*model.UsageCounter, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.counters[userID][action]
	if !ok {
		return nil, false, eris.Errorf("no usage counter for %s/%s", userID, action)
	}
	if c.Used >= c.Limit {
		cp := *c
		return &cp, false, nil
	}
	c.Used++
	f.ledger = append(f.ledger, model.LedgerEntry{
		ID:        uuid.New().String(),
		UserID:    userID,
		Action:    action,
		Delta:     -1,
		Reason:    model.ReasonUsage,
		Direction: model.DirectionDebit,
		Amount:    1,
		SessionID: sessionID,
		CreatedAt: time.Now().UTC(),
	})
	cp := *c
	return &cp, true, nil
}

func (f *fakeStore) AppendAdjustment(_ context.Context, entry model.LedgerEntry, limitDelta, usedDelta int) (*model.UsageCounter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.counters[entry.UserID][entry.Action]
	if !ok {
		return nil, eris.Errorf("no usage counter for %s/%s", entry.UserID, entry.Action)
	}
	c.Limit += limitDelta
	c.Used += usedDelta
	if c.Used < 0 {
		c.Used = 0
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.CreatedAt = time.Now().UTC()
	f.ledger = append(f.ledger, entry)
	cp := *c
	return &cp, nil
}

func (f *fakeStore) ListLedger(_ context.Context, userID string, filter store.LedgerFilter) ([]model.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.LedgerEntry
	for _, e := range f.ledger {
		if e.UserID != userID {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if filter.Reason != "" && e.Reason != filter.Reason {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeStore) UsageTotals(_ context.Context, userID string) (map[model.Action]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	totals := make(map[model.Action]int)
	for _, e := range f.ledger {
		if e.UserID == userID && (e.Reason == model.ReasonUsage || e.Reason == model.ReasonRefund) {
			totals[e.Action] += e.Delta
		}
	}
	return totals, nil
}

func (f *fakeStore) Migrate(context.Context) error { return nil }
func (f *fakeStore) Ping(context.Context) error    { return nil }
func (f *fakeStore) Close() error                  { return nil }

// setSession seeds a session directly, bypassing the creation path.
func (f *fakeStore) setSession(s model.PropertySession) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := s
	f.sessions[s.ID] = &cp
}

func (f *fakeStore) sessionStatus(sessionID string) model.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[sessionID].Status
}

func (f *fakeStore) ledgerEntries(userID string, reason model.LedgerReason) []model.LedgerEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.LedgerEntry
	for _, e := range f.ledger {
		if e.UserID == userID && e.Reason == reason {
			out = append(out, e)
		}
	}
	return out
}

// fakeAI returns scripted generation results in order.
type fakeAI struct {
	mu        sync.Mutex
	responses []string
	err       error
	requests  []aimodel.Request
}

func (f *fakeAI) Generate(_ context.Context, req aimodel.Request) (*aimodel.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.responses) == 0 {
		return nil, eris.New("fakeAI: no scripted response")
	}
	text := f.responses[0]
	f.responses = f.responses[1:]
	return &aimodel.Result{Text: text}, nil
}

// fakeFetcher serves a fixed page body.
type fakeFetcher struct {
	html string
	err  error
}

func (f *fakeFetcher) FetchHTML(context.Context, string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.html, nil
}

// statsJSON renders a full required-field stats response at the given
// confidence.
func statsJSON(confidence string) string {
	out := `{"fields":{`
	first := true
	for _, field := range model.RequiredStatsFields() {
		if !first {
			out += ","
		}
		first = false
		value := `12`
		if !numericStatsFields[field] {
			value = `"transit"`
		}
		out += fmt.Sprintf(`%q:{"value":%s,"confidence":%q,"sources":["https://example.com"]}`, field, value, confidence)
	}
	out += `}}`
	return out
}
