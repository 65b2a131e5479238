// Package dashboard drives one dashboard session: it fetches the records of
// the active window, reconciles deals to leads and derives the metrics for
// every filter state the caller asks for.
package dashboard

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crm-insights/internal/catalog"
	"github.com/sells-group/crm-insights/internal/crm"
	"github.com/sells-group/crm-insights/internal/filter"
	"github.com/sells-group/crm-insights/internal/metrics"
	"github.com/sells-group/crm-insights/internal/model"
	"github.com/sells-group/crm-insights/internal/reconcile"
)

// ErrNoWindow is returned when an operation needs a loaded window and none
// has been loaded yet.
var ErrNoWindow = eris.New("dashboard: no window loaded")

// Store is the persistence a session relies on.
type Store interface {
	reconcile.Cache
	LoadGoals(ctx context.Context) (*model.DemandGoals, error)
	SaveGoals(ctx context.Context, goals model.DemandGoals) error
	CreateScanRun(ctx context.Context, windowKey string, trigger model.ScanTrigger) (*model.ScanRun, error)
	FinishScanRun(ctx context.Context, runID string, status model.ScanStatus, counts model.ScanCounts) error
}

// Observer receives timing events. monitoring.Metrics satisfies it.
type Observer interface {
	ObserveFetch(elapsed time.Duration, err error)
	ObserveScan(trigger model.ScanTrigger, status model.ScanStatus, elapsed time.Duration)
}

// FetchError reports a failed bulk fetch. The caller may retry.
type FetchError struct {
	Window model.Window
	Err    error
}

func (e *FetchError) Error() string {
	return "dashboard: fetch " + e.Window.String() + ": " + e.Err.Error()
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsFetchError reports whether err came from a failed bulk fetch.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

// Options configure a Service.
type Options struct {
	Catalog *catalog.Catalog
	// DefaultGoals fill whatever the saved goals leave out.
	DefaultGoals model.DemandGoals
	// AutoScan starts a background deep scan the first time a window loads.
	AutoScan  bool
	Reconcile reconcile.Options
	Observer  Observer
	Now       func() time.Time
}

// View is everything rendered for one filter state.
type View struct {
	Criteria model.FilterCriteria         `json:"criteria"`
	Metrics  model.DerivedMetrics         `json:"metrics"`
	Records  []model.ReconciliationRecord `json:"records"`
	Scan     reconcile.ProgressSnapshot   `json:"scan"`
	LoadedAt time.Time                    `json:"loaded_at"`
}

type session struct {
	// gen numbers fetches; a scan result belongs to the fetch it ran over.
	gen      uint64
	window   model.Window
	batch    model.Batch
	result   reconcile.Result
	loadedAt time.Time
}

// Service is a dashboard session over one record source. It is safe for
// concurrent use.
type Service struct {
	source  crm.Source
	store   Store
	engine  *reconcile.Engine
	filter  *filter.Engine
	metrics *metrics.Engine
	opts    Options

	mu   sync.RWMutex
	sess *session
	gens atomic.Uint64

	scanning atomic.Bool
	bg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// New builds a Service. remote may be nil, in which case scans only apply
// cached confirmations. st may be nil, in which case nothing is persisted.
func New(source crm.Source, remote reconcile.Remote, st Store, opts Options) *Service {
	if opts.Catalog == nil {
		opts.Catalog = catalog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	fe := filter.New(opts.Catalog)

	var cache reconcile.Cache
	if st != nil {
		cache = st
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		source:  source,
		store:   st,
		engine:  reconcile.New(cache, remote, opts.Reconcile),
		filter:  fe,
		metrics: metrics.New(opts.Catalog, fe),
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Close cancels background scans and waits for them to persist what they
// confirmed.
func (s *Service) Close() {
	s.cancel()
	s.bg.Wait()
}

// Load returns the view for c. When c's window differs from the active one
// the window's records are fetched and the window becomes active; with
// AutoScan set that first load also starts a background deep scan.
func (s *Service) Load(ctx context.Context, c model.FilterCriteria) (*View, error) {
	sess, fresh, err := s.activate(ctx, c.Window)
	if err != nil {
		return nil, err
	}
	if fresh && s.opts.AutoScan {
		if err := s.startScan(sess, model.ScanTriggerAuto); err != nil {
			zap.L().Debug("dashboard: auto scan not started", zap.String("window", sess.window.Key()), zap.Error(err))
		}
	}
	return s.view(ctx, sess, c), nil
}

// Refresh refetches the active window's records. Remote confirmations of
// the replaced fetch carry over to the new one. A refresh that finishes
// after the window changed is dropped.
func (s *Service) Refresh(ctx context.Context) error {
	cur := s.current()
	if cur == nil {
		return ErrNoWindow
	}
	sess, err := s.fetch(ctx, cur.window)
	if err != nil {
		return err
	}
	for {
		prev := s.current()
		if !prev.window.Equal(sess.window) {
			return nil
		}
		next := *sess
		next.result = s.engine.Rebase(ctx, next.request(""), prev.result)
		if s.swap(prev, &next) {
			return nil
		}
	}
}

// Window returns the active window.
func (s *Service) Window() (model.Window, bool) {
	cur := s.current()
	if cur == nil {
		return model.Window{}, false
	}
	return cur.window, true
}

// Records returns the reconciliation table of the active window.
func (s *Service) Records() ([]model.ReconciliationRecord, error) {
	cur := s.current()
	if cur == nil {
		return nil, ErrNoWindow
	}
	return cur.result.Records, nil
}

// Progress reports the current or last deep scan.
func (s *Service) Progress() reconcile.ProgressSnapshot {
	return s.engine.Progress()
}

// Scanning reports whether a deep scan is in flight.
func (s *Service) Scanning() bool {
	return s.scanning.Load()
}

// Rescan starts a manual deep scan of the active window in the background.
// It returns reconcile.ErrScanInProgress while another scan runs.
func (s *Service) Rescan() error {
	cur := s.current()
	if cur == nil {
		return ErrNoWindow
	}
	return s.startScan(cur, model.ScanTriggerManual)
}

// Scan makes w the active window and deep scans it, blocking until the scan
// ends.
func (s *Service) Scan(ctx context.Context, w model.Window, trigger model.ScanTrigger) (reconcile.Result, error) {
	if !s.scanning.CompareAndSwap(false, true) {
		return reconcile.Result{}, reconcile.ErrScanInProgress
	}
	defer s.scanning.Store(false)

	sess, _, err := s.activate(ctx, w)
	if err != nil {
		return reconcile.Result{}, err
	}
	return s.runScan(ctx, sess, trigger)
}

func (s *Service) current() *session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sess
}

// swap installs next when prev is still the active session.
func (s *Service) swap(prev, next *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess != prev {
		return false
	}
	s.sess = next
	return true
}

func (sess *session) request(trigger model.ScanTrigger) reconcile.Request {
	return reconcile.Request{Window: sess.window, Leads: sess.batch.Leads, Deals: sess.batch.Deals, Trigger: trigger}
}

// activate returns the session for w, fetching it when w is not active.
// fresh reports whether a fetch happened.
func (s *Service) activate(ctx context.Context, w model.Window) (sess *session, fresh bool, err error) {
	if cur := s.current(); cur != nil && cur.window.Equal(w) {
		return cur, false, nil
	}
	sess, err = s.fetch(ctx, w)
	if err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	s.sess = sess
	s.mu.Unlock()
	return sess, true, nil
}

func (s *Service) fetch(ctx context.Context, w model.Window) (*session, error) {
	log := zap.L().With(zap.String("component", "dashboard"), zap.String("window", w.Key()))

	start := time.Now()
	raw, err := s.source.Fetch(ctx, w)
	if s.opts.Observer != nil {
		s.opts.Observer.ObserveFetch(time.Since(start), err)
	}
	if err != nil {
		log.Error("dashboard: fetch failed", zap.Error(err))
		return nil, &FetchError{Window: w, Err: err}
	}

	sess := &session{gen: s.gens.Add(1), window: w, batch: raw.Normalize(), loadedAt: s.opts.Now()}
	sess.result = s.engine.Resolve(ctx, sess.request(""))
	log.Info("dashboard: window loaded",
		zap.Int("leads", len(sess.batch.Leads)),
		zap.Int("deals", len(sess.batch.Deals)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return sess, nil
}

func (s *Service) startScan(sess *session, trigger model.ScanTrigger) error {
	if !s.scanning.CompareAndSwap(false, true) {
		return reconcile.ErrScanInProgress
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		defer s.scanning.Store(false)
		if _, err := s.runScan(s.ctx, sess, trigger); err != nil {
			zap.L().Warn("dashboard: background scan failed", zap.String("window", sess.window.Key()), zap.Error(err))
		}
	}()
	return nil
}

func (s *Service) runScan(ctx context.Context, sess *session, trigger model.ScanTrigger) (reconcile.Result, error) {
	w := sess.window
	log := zap.L().With(
		zap.String("component", "dashboard"),
		zap.String("window", w.Key()),
		zap.String("trigger", string(trigger)),
	)
	start := time.Now()
	run := s.beginRun(ctx, w, trigger)

	res, err := s.engine.Scan(ctx, sess.request(trigger))
	if err != nil {
		s.finishRun(ctx, run, model.ScanStatusCancelled, model.ScanCounts{})
		return res, err
	}

	status := model.ScanStatusComplete
	if res.Cancelled {
		status = model.ScanStatusCancelled
	}
	s.finishRun(ctx, run, status, model.ScanCounts{
		Attempted:    res.Attempted,
		Confirmed:    res.Confirmed,
		RemoteErrors: res.RemoteErrors,
		Skipped:      res.Skipped,
	})
	if s.opts.Observer != nil {
		s.opts.Observer.ObserveScan(trigger, status, time.Since(start))
	}

	if !s.apply(ctx, sess, res) {
		log.Info("dashboard: window changed during scan, result kept in cache only")
	}
	return res, nil
}

// apply installs res, scanned over the records of scanned, as the active
// reconciliation table when its window is still the active one. When the
// window was refetched meanwhile, res is rebased onto the newer records so
// every deal keeps exactly one record.
func (s *Service) apply(ctx context.Context, scanned *session, res reconcile.Result) bool {
	for {
		cur := s.current()
		if cur == nil || !cur.window.Equal(res.Window) {
			return false
		}
		next := *cur
		if cur.gen == scanned.gen {
			next.result = res
		} else {
			next.result = s.engine.Rebase(ctx, cur.request(""), res)
		}
		if s.swap(cur, &next) {
			return true
		}
	}
}

func (s *Service) beginRun(ctx context.Context, w model.Window, trigger model.ScanTrigger) *model.ScanRun {
	if s.store == nil {
		return nil
	}
	run, err := s.store.CreateScanRun(ctx, w.Key(), trigger)
	if err != nil {
		zap.L().Warn("dashboard: record scan run failed", zap.String("window", w.Key()), zap.Error(err))
		return nil
	}
	return run
}

func (s *Service) finishRun(ctx context.Context, run *model.ScanRun, status model.ScanStatus, counts model.ScanCounts) {
	if run == nil {
		return
	}
	if err := s.store.FinishScanRun(context.WithoutCancel(ctx), run.ID, status, counts); err != nil {
		zap.L().Warn("dashboard: finish scan run failed", zap.String("run_id", run.ID), zap.Error(err))
	}
}
