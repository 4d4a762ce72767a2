package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dmitrijs2005/donorsync/internal/client/client"
	"github.com/dmitrijs2005/donorsync/internal/client/config"
	"github.com/dmitrijs2005/donorsync/internal/client/guard"
	"github.com/dmitrijs2005/donorsync/internal/client/metrics"
	"github.com/dmitrijs2005/donorsync/internal/client/models"
	"github.com/dmitrijs2005/donorsync/internal/client/query"
	"github.com/dmitrijs2005/donorsync/internal/client/repositories/tokens"
	"github.com/dmitrijs2005/donorsync/internal/client/services"
	"github.com/dmitrijs2005/donorsync/internal/filex"
	"github.com/dmitrijs2005/donorsync/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

const (
	databaseFile = "donorsync.db"
	badgerDir    = "tokens"
	pingTimeout  = 3 * time.Second
)

type pinger interface {
	Ping(ctx context.Context) error
}

type App struct {
	config    *config.Config
	session   services.SessionService
	tokens    tokens.Store
	pinger    pinger
	profile   services.ProfileService
	donors    services.DonorService
	patients  services.PatientService
	research  services.ResearchService
	dashboard *services.DashboardService
	policy    guard.Policy
	gatherer  prometheus.Gatherer
	log       logging.Logger

	reader *bufio.Reader
	out    io.Writer

	mu       sync.Mutex
	mode     Mode
	userName string

	closers []func() error
}

// NewApp wires the token store selected by cfg.TokenBackend, the HTTP
// executor, the session manager and the domain cache.
func NewApp(ctx context.Context, cfg *config.Config, log logging.Logger) (*App, error) {
	if log == nil {
		log = logging.Nop()
	}
	a := &App{
		config: cfg,
		policy: guard.DefaultPolicy(),
		log:    log,
		reader: bufio.NewReader(os.Stdin),
		out:    os.Stdout,
	}

	slot, err := a.openSlot(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	var storeOpts []tokens.Option
	storeOpts = append(storeOpts, tokens.WithLogger(log))
	if cfg.TokenSecret != "" {
		storeOpts = append(storeOpts, tokens.WithSecret(cfg.TokenSecret))
	}
	store := tokens.NewTokenStore(slot, storeOpts...)

	m := metrics.New()
	exec, err := client.NewHTTPClient(cfg.ServerURL, store, client.Options{
		Timeout:   cfg.RequestTimeout,
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
		Logger:    log,
		Metrics:   m,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	sm := services.NewSessionManager(exec, store,
		services.WithSessionLogger(log),
		services.WithSessionMetrics(m),
		services.WithEndpoints(services.AuthEndpoints{
			Login:    cfg.Auth.LoginPath,
			Register: cfg.Auth.RegisterPath,
			Refresh:  cfg.Auth.RefreshPath,
		}),
	)
	exec.SetRefresher(sm)

	cache := query.New(query.Options{
		Session:  sm,
		FreshFor: cfg.CacheFreshFor,
		Logger:   log,
		Metrics:  m,
	})
	unbind := services.BindCache(sm, cache)
	a.closers = append(a.closers, func() error { unbind(); return nil })

	a.session = sm
	a.tokens = store
	a.pinger = exec
	a.gatherer = m.Registry
	a.profile = services.NewProfileService(exec, cache)
	a.donors = services.NewDonorService(exec, cache)
	a.patients = services.NewPatientService(exec, cache)
	a.research = services.NewResearchService(exec, cache)
	a.dashboard = &services.DashboardService{Profile: a.profile, Donors: a.donors, Research: a.research}
	return a, nil
}

func (a *App) openSlot(ctx context.Context) (tokens.Slot, error) {
	if a.config.TokenBackend == config.BackendMemory {
		return tokens.NewMemorySlot(), nil
	}

	dir, err := filex.EnsureDir(a.config.DataDir)
	if err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}

	switch a.config.TokenBackend {
	case config.BackendBadger:
		db, err := tokens.OpenBadger(filepath.Join(dir, badgerDir), a.log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		return tokens.NewBadgerSlot(db), nil
	default:
		db, err := client.InitDatabase(ctx, filepath.Join(dir, databaseFile))
		if err != nil {
			return nil, fmt.Errorf("error initializing database: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		return tokens.NewMetadataSlot(db), nil
	}
}

// Close releases the storage opened by NewApp.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) Mode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

func (a *App) setMode(mode Mode) {
	a.mu.Lock()
	changed := a.mode != mode
	a.mode = mode
	a.mu.Unlock()

	if changed {
		a.logger().Info(context.Background(), "switched mode", "mode", mode)
	}
}

func (a *App) setUserName(name string) {
	a.mu.Lock()
	a.userName = name
	a.mu.Unlock()
}

// Run restores the persisted session, starts the online watcher and blocks
// in the REPL until the user exits.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	if err := a.session.Restore(ctx); err != nil {
		a.logger().Warn(ctx, "restore session", "error", err)
	}
	a.resume(ctx)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go a.StartOnlineStatusWatcher(ctx, a.config.OnlineCheckInterval)

	a.Root(ctx)
	return nil
}

// resume tries to renew an expired session that still has a refresh token.
func (a *App) resume(ctx context.Context) {
	if a.session.Status() != models.StatusExpired {
		return
	}
	pair, err := a.tokens.Get(ctx)
	if err != nil || pair == nil {
		return
	}
	if err := a.session.Refresh(ctx); err != nil {
		a.logger().Info(ctx, "session could not be resumed", "error", err)
	}
}

func (a *App) checkOnline(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	err := a.pinger.Ping(ctx)
	cancel()

	if err != nil {
		a.setMode(ModeOffline)
	} else {
		a.setMode(ModeOnline)
	}
}

// StartOnlineStatusWatcher pings the server every interval and switches the
// displayed mode. It returns when ctx is done.
func (a *App) StartOnlineStatusWatcher(ctx context.Context, interval time.Duration) {
	a.checkOnline(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.checkOnline(ctx)
		case <-ctx.Done():
			return
		}
	}
}
