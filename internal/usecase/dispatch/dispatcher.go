package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"omnisearch/internal/domain"
	"omnisearch/internal/infra/tracer"
)

// MaxQueryLength is the hard cap on query length in runes. Longer queries
// are rejected before any engine is touched.
const MaxQueryLength = 1000

// EngineSource is the registry surface the dispatcher needs: resolve an
// engine ref by id, and the enabled set for the no-refs quick path.
type EngineSource interface {
	GetEngine(id string) (*domain.Engine, error)
	GetEnabledEngines() []domain.Engine
}

// session tracks one in-flight search for cooperative cancellation.
type session struct {
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

// Dispatcher fans a query out to N engines concurrently, settling every
// engine independently: one engine's malformed template never affects or
// cancels another.
type Dispatcher struct {
	engines EngineSource
	history domain.HistoryLog
	bus     domain.EventBus
	logger  *slog.Logger
	limiter *rate.Limiter

	mu       sync.Mutex
	sessions map[string]*session
}

// NewDispatcher creates a Dispatcher. searchesPerMin <= 0 disables rate
// limiting; history may be nil to disable history writes entirely.
func NewDispatcher(engines EngineSource, history domain.HistoryLog, bus domain.EventBus, logger *slog.Logger, searchesPerMin float64, burst int) *Dispatcher {
	var limiter *rate.Limiter
	if searchesPerMin > 0 {
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(searchesPerMin)/60.0, burst)
	}
	return &Dispatcher{
		engines:  engines,
		history:  history,
		bus:      bus,
		logger:   logger,
		limiter:  limiter,
		sessions: make(map[string]*session),
	}
}

// Search resolves engineRefs, builds one dispatch URL per engine
// concurrently, and returns the settled session. A result_ready event is
// published per engine as it settles and one completed event after all
// have settled, so consumers can render incrementally.
//
// Empty engineRefs resolve to the enabled set. Unresolvable refs are
// dropped with a warning; an empty resolved set fails ErrNoEnginesSelected.
func (d *Dispatcher) Search(ctx context.Context, query string, engineRefs []string) (*domain.SearchSession, error) {
	const op = "Dispatcher.Search"

	if strings.TrimSpace(query) == "" {
		return nil, domain.NewDomainError(op, domain.ErrInvalidInput, "empty query")
	}
	if utf8.RuneCountInString(query) > MaxQueryLength {
		return nil, domain.NewDomainError(op, domain.ErrQueryTooLong, "")
	}
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, domain.WrapOp(op, err)
		}
	}

	resolved := d.resolve(engineRefs)
	if len(resolved) == 0 {
		return nil, domain.NewDomainError(op, domain.ErrNoEnginesSelected, "")
	}

	ctx, span := tracer.StartSpan(ctx, "dispatch.search",
		trace.WithAttributes(
			tracer.IntAttr("dispatch.engines", len(resolved)),
			tracer.IntAttr("dispatch.query_len", utf8.RuneCountInString(query)),
		))
	defer span.End()

	searchID := newSearchID()
	sess := &domain.SearchSession{
		SearchID:  searchID,
		Query:     query,
		StartedAt: time.Now().UTC(),
		Results:   make(map[string]domain.EngineResult, len(resolved)),
	}
	for _, e := range resolved {
		sess.Results[e.ID] = domain.EngineResult{EngineID: e.ID, Status: domain.StatusPending}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	st := &session{cancel: cancel}
	d.mu.Lock()
	d.sessions[searchID] = st
	d.mu.Unlock()

	// Fan out, settle all: workers never return errors, so no engine's
	// failure cancels a sibling.
	var resMu sync.Mutex
	g := new(errgroup.Group)
	for _, engine := range resolved {
		engine := engine
		g.Go(func() error {
			result := settleEngine(engine, query)

			resMu.Lock()
			sess.Results[engine.ID] = result
			resMu.Unlock()

			if !st.cancelled.Load() {
				d.publishResult(runCtx, searchID, result)
			}
			return nil
		})
	}
	_ = g.Wait() // workers never error; Wait is only the settle-all join

	for _, r := range sess.Results {
		sess.Summary.Total++
		if r.Status == domain.StatusReady {
			sess.Summary.Successful++
		} else {
			sess.Summary.Failed++
		}
	}
	sess.Cancelled = st.cancelled.Load()

	d.mu.Lock()
	delete(d.sessions, searchID)
	d.mu.Unlock()

	if !sess.Cancelled {
		d.publishCompleted(ctx, sess)
		d.saveHistory(sess, engineIDs(resolved))
	}

	tracer.SetOK(span)
	return sess, nil
}

// CancelSearch marks the session invalid. It is idempotent: repeated
// calls, unknown ids and calls after completion are all no-ops. Consumers
// drop late results by comparing event SearchIDs against their current id.
func (d *Dispatcher) CancelSearch(ctx context.Context, searchID string) {
	d.mu.Lock()
	st, ok := d.sessions[searchID]
	d.mu.Unlock()
	if !ok {
		return
	}
	if st.cancelled.Swap(true) {
		return
	}
	st.cancel()
	if d.bus != nil {
		d.bus.Publish(ctx, domain.Event{
			Type:      domain.EventSearchCancelled,
			Timestamp: time.Now(),
			SearchID:  searchID,
		})
	}
	d.logger.Info("search cancelled", "search_id", searchID)
}

// resolve maps refs to engine snapshots, dropping unresolvable refs with
// a warning. Empty refs resolve to the enabled set.
func (d *Dispatcher) resolve(refs []string) []domain.Engine {
	if len(refs) == 0 {
		return d.engines.GetEnabledEngines()
	}
	seen := make(map[string]bool, len(refs))
	var out []domain.Engine
	for _, ref := range refs {
		if seen[ref] {
			continue
		}
		seen[ref] = true
		e, err := d.engines.GetEngine(ref)
		if err != nil {
			d.logger.Warn("dropping unresolvable engine ref", "ref", ref)
			continue
		}
		out = append(out, *e)
	}
	return out
}

// settleEngine computes one engine's slot. URL failures land in the slot
// as status=error; they are never raised to the search caller.
func settleEngine(e domain.Engine, query string) domain.EngineResult {
	dispatchURL, err := BuildDispatchURL(e.URLTemplate, query)
	if err != nil {
		return domain.EngineResult{EngineID: e.ID, Status: domain.StatusError, Error: err.Error()}
	}
	return domain.EngineResult{EngineID: e.ID, Status: domain.StatusReady, URL: dispatchURL}
}

func (d *Dispatcher) publishResult(ctx context.Context, searchID string, r domain.EngineResult) {
	if d.bus == nil {
		return
	}
	payload, _ := json.Marshal(r)
	d.bus.Publish(ctx, domain.Event{
		Type:      domain.EventSearchResultReady,
		Timestamp: time.Now(),
		SearchID:  searchID,
		Payload:   payload,
	})
}

func (d *Dispatcher) publishCompleted(ctx context.Context, sess *domain.SearchSession) {
	if d.bus == nil {
		return
	}
	payload, _ := json.Marshal(sess)
	d.bus.Publish(ctx, domain.Event{
		Type:      domain.EventSearchCompleted,
		Timestamp: time.Now(),
		SearchID:  sess.SearchID,
		Payload:   payload,
	})
}

// saveHistory is fire-and-forget: failures are logged and never block or
// fail the search.
func (d *Dispatcher) saveHistory(sess *domain.SearchSession, ids []string) {
	if d.history == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.history.SaveEntry(ctx, sess.Query, ids); err != nil {
			d.logger.Warn("history write failed", "search_id", sess.SearchID, "error", err)
		}
	}()
}

func engineIDs(engines []domain.Engine) []string {
	ids := make([]string, len(engines))
	for i, e := range engines {
		ids[i] = e.ID
	}
	return ids
}

func newSearchID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
