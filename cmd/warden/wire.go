package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/example/warden/alert"
	"github.com/example/warden/audit"
	"github.com/example/warden/config"
	"github.com/example/warden/ec2"
	"github.com/example/warden/netalloc"
	"github.com/example/warden/platform"
	"github.com/example/warden/policy"
	"github.com/example/warden/reconciler"
	"github.com/example/warden/storage"
	"github.com/example/warden/types"
	"github.com/example/warden/virtd"
)

// app bundles everything a command needs once the config is wired up
type app struct {
	cfg      *config.Config
	store    *storage.Store
	journal  *audit.Log
	engine   *reconciler.Engine
	policies *policy.Loader
}

func (a *app) close() {
	if a.journal != nil {
		_ = a.journal.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}

// buildApp assembles the reconciler around the configured storage,
// platform driver, port range, journal, alert sinks, and policy gates
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	store, err := storage.Open(cfg.Storage.Dir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a.store = store

	journal, err := audit.OpenWithConfig(cfg.Audit.Dir, auditConfig(cfg))
	if err != nil {
		a.close()
		return nil, fmt.Errorf("opening audit journal: %w", err)
	}
	a.journal = journal

	ports, err := netalloc.NewRangeAllocator(cfg.Ports.Low, cfg.Ports.High)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("creating port allocator: %w", err)
	}
	if err := reclaimPorts(store, ports); err != nil {
		a.close()
		return nil, err
	}

	driver, err := buildDriver(ctx, cfg)
	if err != nil {
		a.close()
		return nil, err
	}

	var admission reconciler.Admission
	polEngine, polLoader, err := buildAdmission(ctx, cfg)
	if err != nil {
		a.close()
		return nil, err
	}
	if polEngine != nil {
		admission = polEngine
	}
	a.policies = polLoader

	opts := reconciler.Options{
		PlatformTimeout: cfg.Platform.Timeout,
		StopWait:        cfg.Teardown.StopWait,
		StopPoll:        cfg.Teardown.StopPoll,
		Deadlines:       cfg.Janitor.Deadlines,
	}
	a.engine = reconciler.NewEngine(store, driver, ports, journal, buildNotifier(cfg), admission, opts)
	return a, nil
}

// openStore opens just the record store, for read-only commands that
// never touch the platform
func openStore(cfg *config.Config) (*storage.Store, error) {
	store, err := storage.Open(cfg.Storage.Dir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return store, nil
}

func buildDriver(ctx context.Context, cfg *config.Config) (platform.Client, error) {
	switch cfg.Platform.Driver {
	case "virtd":
		if len(cfg.Platform.Endpoints) == 0 {
			return nil, fmt.Errorf("platform driver virtd requires at least one node endpoint")
		}
		return virtd.New(cfg.Platform.Endpoints, cfg.Platform.Timeout), nil
	case "ec2":
		if cfg.Platform.Region == "" {
			return nil, fmt.Errorf("platform driver ec2 requires a region")
		}
		return ec2.New(ctx, cfg.Platform.Region)
	default:
		return nil, fmt.Errorf("unknown platform driver %q", cfg.Platform.Driver)
	}
}

// buildNotifier routes alerts to the log, and also to the webhook when
// one is configured
func buildNotifier(cfg *config.Config) alert.Notifier {
	logSink := alert.NewLogNotifier(log.Logger)
	if cfg.Alerts.WebhookURL == "" {
		return logSink
	}
	return alert.MultiNotifier{logSink, alert.NewWebhookNotifier(cfg.Alerts.WebhookURL)}
}

// buildAdmission loads the policy directory when one is configured.
// Without one there is no gate and every request is allowed.
func buildAdmission(ctx context.Context, cfg *config.Config) (*policy.Engine, *policy.Loader, error) {
	if cfg.Policy.Dir == "" {
		return nil, nil, nil
	}
	engine := policy.NewEngine()
	loader := policy.NewLoader(cfg.Policy.Dir, engine)
	n, err := loader.Load(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("loading policies: %w", err)
	}
	log.Info().Int("policies", n).Str("dir", cfg.Policy.Dir).Msg("admission policies loaded")
	return engine, loader, nil
}

// reclaimPorts marks ports held by existing records as in use, so a
// restart cannot hand them out twice
func reclaimPorts(store *storage.Store, ports *netalloc.RangeAllocator) error {
	all, err := store.List(types.WorkloadFilter{})
	if err != nil {
		return fmt.Errorf("listing workloads for port reclaim: %w", err)
	}
	for i := range all {
		if len(all[i].Ports) > 0 {
			ports.Claim(all[i].Ports)
		}
	}
	return nil
}

func auditConfig(cfg *config.Config) audit.Config {
	jc := audit.DefaultConfig()
	jc.RetentionDays = cfg.Audit.RetentionDays
	jc.MaxFileSize = cfg.Audit.MaxFileSizeMB * 1024 * 1024
	return jc
}
