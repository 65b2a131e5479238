package main

import (
	"context"
	"net/http"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crm-insights/internal/catalog"
	"github.com/sells-group/crm-insights/internal/config"
	"github.com/sells-group/crm-insights/internal/crm"
	"github.com/sells-group/crm-insights/internal/dashboard"
	"github.com/sells-group/crm-insights/internal/monitoring"
	"github.com/sells-group/crm-insights/internal/reconcile"
	"github.com/sells-group/crm-insights/internal/resilience"
	"github.com/sells-group/crm-insights/internal/store"
	"github.com/sells-group/crm-insights/pkg/bitrix"
	sfpkg "github.com/sells-group/crm-insights/pkg/salesforce"
)

func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

// initBackend builds the record source and, when the driver supports it,
// the remote lookups the deep scan uses. remote is nil when deep scans
// can only replay cached confirmations.
func initBackend() (source crm.Source, remote reconcile.Remote, err error) {
	retry := resilience.RetryFromSettings(cfg.CRM.MaxRetries, 0, 0)

	switch cfg.CRM.Driver {
	case config.DriverEndpoint:
		source = crm.NewEndpoint(cfg.CRM.EndpointURL,
			crm.WithEndpointHTTPClient(&http.Client{Timeout: cfg.CRM.Timeout()}),
			crm.WithEndpointRetry(retry),
		)
		// The read endpoint cannot search by phone; a Bitrix webhook, when
		// configured, serves the deep scan.
		if cfg.CRM.BitrixWebhook != "" {
			remote = crm.NewBitrix(newBitrixClient(retry))
		}
		return source, remote, nil
	case config.DriverBitrix:
		b := crm.NewBitrix(newBitrixClient(retry))
		return b, b, nil
	case config.DriverSalesforce:
		client, err := initSalesforce()
		if err != nil {
			return nil, nil, err
		}
		s := crm.NewSalesforce(client)
		return s, s, nil
	default:
		return nil, nil, eris.Errorf("unsupported crm driver: %s", cfg.CRM.Driver)
	}
}

func newBitrixClient(retry resilience.RetryConfig) bitrix.Client {
	return bitrix.NewClient(cfg.CRM.BitrixWebhook,
		bitrix.WithHTTPClient(&http.Client{Timeout: cfg.CRM.Timeout()}),
		bitrix.WithRateLimit(cfg.CRM.RateLimit),
		bitrix.WithRetry(retry),
		bitrix.WithMaxPages(cfg.CRM.MaxPages),
	)
}

func initSalesforce() (sfpkg.Client, error) {
	if cfg.Salesforce.ClientID == "" {
		return nil, eris.New("salesforce client ID is required (INSIGHTS_SALESFORCE_CLIENT_ID)")
	}

	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}

	return sfpkg.Connect(sfpkg.Creds{
		LoginURL:   cfg.Salesforce.LoginURL,
		Username:   cfg.Salesforce.Username,
		ClientID:   cfg.Salesforce.ClientID,
		PrivateKey: string(pemData),
	}, sfpkg.WithRateLimit(cfg.Salesforce.RateLimit))
}

func initCatalog() (*catalog.Catalog, error) {
	if cfg.Catalog.Path == "" {
		return catalog.Default(), nil
	}
	return catalog.Load(cfg.Catalog.Path)
}

// reconcileOptions maps config onto engine options. metrics may be nil.
func reconcileOptions(metrics *monitoring.Metrics) reconcile.Options {
	opts := reconcile.DefaultOptions()
	opts.ValidateReferences = cfg.Reconcile.ValidateReferences
	if cfg.Reconcile.BatchSize > 0 {
		opts.BatchSize = cfg.Reconcile.BatchSize
	}
	opts.BatchDelay = cfg.Reconcile.BatchDelay()
	if cb, ok := resilience.CircuitFromSettings(cfg.Reconcile.CircuitThreshold, cfg.Reconcile.CircuitReset()); ok {
		cb.OnStateChange = func(from, to resilience.CircuitState) {
			zap.L().Warn("reconcile: circuit breaker state change",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		}
		opts.Breaker = resilience.NewCircuitBreaker(cb)
		if metrics != nil {
			if err := metrics.WatchBreaker(opts.Breaker); err != nil {
				zap.L().Warn("reconcile: circuit breaker metrics disabled", zap.Error(err))
			}
		}
	}
	if metrics != nil {
		opts.Hooks = metrics.Hooks(reconcile.Hooks{})
	}
	return opts
}

// initService wires a dashboard session. st and metrics may be nil.
func initService(st store.Store, metrics *monitoring.Metrics, autoScan bool) (*dashboard.Service, error) {
	cat, err := initCatalog()
	if err != nil {
		return nil, err
	}
	source, remote, err := initBackend()
	if err != nil {
		return nil, err
	}

	opts := dashboard.Options{
		Catalog:      cat,
		DefaultGoals: cfg.Goals.Defaults(),
		AutoScan:     autoScan,
		Reconcile:    reconcileOptions(metrics),
	}
	if metrics != nil {
		opts.Observer = metrics
	}

	var ds dashboard.Store
	if st != nil {
		ds = st
	}
	return dashboard.New(source, remote, ds, opts), nil
}
