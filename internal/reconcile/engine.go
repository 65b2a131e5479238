package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crm-insights/internal/model"
	"github.com/sells-group/crm-insights/internal/normalize"
	"github.com/sells-group/crm-insights/internal/phone"
	"github.com/sells-group/crm-insights/internal/resilience"
)

// ErrScanInProgress is returned when a scan is triggered while another one
// is still running.
var ErrScanInProgress = eris.New("reconcile: scan already in progress")

// Hooks receive scan events. Any hook may be nil.
type Hooks struct {
	OnProgress    func(pct float64)
	OnRemoteError func(op string, err error)
	OnScanned     func(dealID string, tier model.MatchTier)
}

// Options tune the engine.
type Options struct {
	// ValidateReferences sends deals whose lead reference is not among the
	// loaded leads through the phone tiers.
	ValidateReferences bool
	// BatchSize deals are scanned between pauses of BatchDelay.
	BatchSize  int
	BatchDelay time.Duration
	// Breaker, when set, guards every remote call. Once it opens the
	// remaining deals are left unmatched.
	Breaker *resilience.CircuitBreaker
	Hooks   Hooks
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		ValidateReferences: true,
		BatchSize:          10,
		BatchDelay:         250 * time.Millisecond,
	}
}

// Request is one reconciliation pass over a window's records.
type Request struct {
	Window  model.Window
	Leads   []model.Lead
	Deals   []model.Deal
	Trigger model.ScanTrigger
}

// Result is the reconciliation table for one window.
type Result struct {
	Window  model.Window                 `json:"window"`
	Records []model.ReconciliationRecord `json:"records"`
	// Attempted counts deals sent to the remote tier in this pass.
	Attempted int `json:"attempted"`
	// Confirmed counts deals newly matched by the remote tier.
	Confirmed    int  `json:"confirmed"`
	RemoteErrors int  `json:"remote_errors"`
	Skipped      int  `json:"skipped"`
	Cancelled    bool `json:"cancelled"`
}

// Counts tallies records per tier. Every tier is present.
func (r Result) Counts() map[model.MatchTier]int {
	out := make(map[model.MatchTier]int, len(model.Tiers))
	for _, t := range model.Tiers {
		out[t] = 0
	}
	for _, rec := range r.Records {
		out[rec.Tier]++
	}
	return out
}

// Lookup returns the record for a deal.
func (r Result) Lookup(dealID string) (model.ReconciliationRecord, bool) {
	for _, rec := range r.Records {
		if rec.DealID == dealID {
			return rec, true
		}
	}
	return model.ReconciliationRecord{}, false
}

// Engine runs reconciliation passes. It remembers which deals it already
// sent to the remote tier, per window, for the lifetime of the session.
type Engine struct {
	cache    Cache
	remote   Remote
	opts     Options
	guard    Guard
	progress *Progress

	mu        sync.Mutex
	attempted map[string]map[string]struct{}
}

// New builds an engine. remote may be nil, in which case scans only apply
// cached confirmations.
func New(cache Cache, remote Remote, opts Options) *Engine {
	return &Engine{
		cache:     cache,
		remote:    remote,
		opts:      opts,
		progress:  NewProgress(opts.Hooks.OnProgress),
		attempted: make(map[string]map[string]struct{}),
	}
}

// Progress returns the current scan progress.
func (e *Engine) Progress() ProgressSnapshot {
	return e.progress.Snapshot()
}

// Scanning reports whether a scan is in flight.
func (e *Engine) Scanning() bool {
	return e.guard.Busy()
}

// Resolve applies the local tiers and cached confirmations without any
// remote call.
func (e *Engine) Resolve(ctx context.Context, req Request) Result {
	confirmed := e.loadConfirmed(ctx, CacheKey(req.Window))
	return Result{
		Window:  req.Window,
		Records: Local(req.Leads, req.Deals, confirmed, e.opts.ValidateReferences),
	}
}

// Rebase resolves req with the local tiers and the cache, then carries over
// the remote confirmations of prior, a scan over an earlier fetch of the
// same window. Deals prior never saw get a record of their own; prior's scan
// counters are kept.
func (e *Engine) Rebase(ctx context.Context, req Request, prior Result) Result {
	confirmed := e.loadConfirmed(ctx, CacheKey(req.Window))
	remoteLead := make(map[string]string)
	for _, r := range prior.Records {
		if r.Tier == model.TierRemoteDeepScan {
			confirmed[r.DealID] = struct{}{}
			remoteLead[r.DealID] = r.LeadID
		}
	}

	res := prior
	res.Window = req.Window
	res.Records = Local(req.Leads, req.Deals, confirmed, e.opts.ValidateReferences)
	for i, r := range res.Records {
		if r.Tier == model.TierRemoteDeepScan && r.LeadID == "" {
			res.Records[i].LeadID = remoteLead[r.DealID]
		}
	}
	return res
}

// Scan resolves every deal, querying the CRM for those the local tiers and
// the cache could not place. A manual trigger retries deals already attempted
// in this session and tries every phone candidate; an automatic one skips
// them and tries only the first candidate.
//
// Remote failures never abort the scan. Confirmations are merged into the
// window's cache entry when the scan ends, including when ctx is cancelled.
func (e *Engine) Scan(ctx context.Context, req Request) (Result, error) {
	if !e.guard.TryAcquire() {
		return Result{}, ErrScanInProgress
	}
	defer e.guard.Release()

	key := CacheKey(req.Window)
	log := zap.L().With(zap.String("window", req.Window.Key()), zap.String("trigger", string(req.Trigger)))

	confirmed := e.loadConfirmed(ctx, key)
	res := Result{
		Window:  req.Window,
		Records: Local(req.Leads, req.Deals, confirmed, e.opts.ValidateReferences),
	}

	exhaustive := req.Trigger == model.ScanTriggerManual
	pending := e.pending(key, req.Deals, res.Records, exhaustive)
	e.progress.start(req.Window.Key(), len(pending))

	fresh := make(map[string]struct{})
	halted := false
	for i, idx := range pending {
		if i > 0 && e.opts.BatchSize > 0 && i%e.opts.BatchSize == 0 {
			if !pause(ctx, e.opts.BatchDelay) {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}

		d := req.Deals[idx]
		leadID, failures, err := e.scanDeal(ctx, d, exhaustive)
		res.RemoteErrors += failures
		if errors.Is(err, resilience.ErrCircuitOpen) {
			log.Warn("reconcile: circuit open, leaving remaining deals unmatched",
				zap.Int("remaining", len(pending)-i))
			res.Skipped = len(pending) - i
			halted = true
			break
		}

		e.markAttempted(key, d.ID)
		res.Attempted++
		if leadID != "" {
			res.Records[idx] = model.ReconciliationRecord{DealID: d.ID, Tier: model.TierRemoteDeepScan, LeadID: leadID}
			fresh[d.ID] = struct{}{}
			res.Confirmed++
		}
		if e.opts.Hooks.OnScanned != nil {
			e.opts.Hooks.OnScanned(d.ID, res.Records[idx].Tier)
		}
		e.progress.advance()
	}

	res.Cancelled = ctx.Err() != nil
	e.persist(ctx, key, confirmed, fresh)
	e.progress.finish(!res.Cancelled || halted)

	log.Info("reconcile: scan finished",
		zap.Int("deals", len(req.Deals)),
		zap.Int("attempted", res.Attempted),
		zap.Int("confirmed", res.Confirmed),
		zap.Int("remote_errors", res.RemoteErrors),
		zap.Bool("cancelled", res.Cancelled),
	)
	return res, nil
}

// pending lists indexes of deals the remote tier should try.
func (e *Engine) pending(key string, deals []model.Deal, recs []model.ReconciliationRecord, exhaustive bool) []int {
	if e.remote == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	seen := e.attempted[key]

	var out []int
	for i, rec := range recs {
		if rec.Tier != model.TierUnmatched || deals[i].ID == "" {
			continue
		}
		if _, done := seen[deals[i].ID]; done && !exhaustive {
			continue
		}
		out = append(out, i)
	}
	return out
}

func (e *Engine) markAttempted(key, dealID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	set, ok := e.attempted[key]
	if !ok {
		set = make(map[string]struct{})
		e.attempted[key] = set
	}
	set[dealID] = struct{}{}
}

// scanDeal searches the CRM for a lead sharing one of the deal's phones. It
// returns the matched lead id, the number of failed remote calls, and a
// non-nil error only when the circuit breaker rejected a call.
func (e *Engine) scanDeal(ctx context.Context, d model.Deal, exhaustive bool) (string, int, error) {
	failures := 0
	log := zap.L().With(zap.String("deal_id", d.ID))

	candidates := phone.Candidates(d.Phones...)
	if len(candidates) == 0 {
		raw, err := call(ctx, e.opts.Breaker, func(ctx context.Context) ([]byte, error) {
			return e.remote.GetDeal(ctx, d.ID)
		})
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return "", failures, err
		}
		if err != nil {
			failures++
			e.remoteFailed("get_deal", err)
			log.Warn("reconcile: fetch deal failed", zap.Error(err))
			return "", failures, nil
		}
		candidates = phone.Candidates(normalize.PhoneValues(raw)...)
	}
	if !exhaustive && len(candidates) > 1 {
		candidates = candidates[:1]
	}

	for _, p := range candidates {
		ids, err := call(ctx, e.opts.Breaker, func(ctx context.Context) ([]string, error) {
			return e.remote.SearchLeadsByPhone(ctx, p)
		})
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return "", failures, err
		}
		if err != nil {
			failures++
			e.remoteFailed("search_leads", err)
			log.Warn("reconcile: phone search failed", zap.String("phone", p), zap.Error(err))
			continue
		}
		for _, id := range ids {
			if id != "" {
				return id, failures, nil
			}
		}
	}
	return "", failures, nil
}

func (e *Engine) remoteFailed(op string, err error) {
	if e.opts.Hooks.OnRemoteError != nil {
		e.opts.Hooks.OnRemoteError(op, err)
	}
}

// loadConfirmed reads the window's cache entry. Missing, unreadable or
// corrupt entries are treated as empty.
func (e *Engine) loadConfirmed(ctx context.Context, key string) map[string]struct{} {
	empty := map[string]struct{}{}
	if e.cache == nil {
		return empty
	}
	value, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		zap.L().Warn("reconcile: cache read failed", zap.String("key", key), zap.Error(err))
		return empty
	}
	if !ok || value == "" {
		return empty
	}
	set, err := DecodeConfirmed(value)
	if err != nil {
		zap.L().Warn("reconcile: ignoring corrupt cache entry", zap.String("key", key), zap.Error(err))
		return empty
	}
	return set
}

func (e *Engine) persist(ctx context.Context, key string, confirmed, fresh map[string]struct{}) {
	if e.cache == nil || len(fresh) == 0 {
		return
	}
	merged := make(map[string]struct{}, len(confirmed)+len(fresh))
	for id := range confirmed {
		merged[id] = struct{}{}
	}
	for id := range fresh {
		merged[id] = struct{}{}
	}
	if err := e.cache.Set(context.WithoutCancel(ctx), key, EncodeConfirmed(merged)); err != nil {
		zap.L().Warn("reconcile: cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func call[T any](ctx context.Context, cb *resilience.CircuitBreaker, fn func(context.Context) (T, error)) (T, error) {
	if cb == nil {
		return fn(ctx)
	}
	return resilience.ExecuteVal(ctx, cb, fn)
}

// pause sleeps for d, returning false if ctx ends first.
func pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
