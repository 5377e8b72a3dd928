package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/gorm"

	"github.com/agrogestion/plots/pkg/audit"
	"github.com/agrogestion/plots/pkg/authz"
	"github.com/agrogestion/plots/pkg/cache"
	"github.com/agrogestion/plots/pkg/ha"
	"github.com/agrogestion/plots/pkg/plots"
	"github.com/agrogestion/plots/pkg/tenancy"
)

const proposalSweepInterval = time.Minute

// server owns the wired services, the HTTP router and the background loops.
type server struct {
	db        *gorm.DB
	logger    *slog.Logger
	settings  settings
	cfg       *plots.Config
	auditCfg  *audit.AuditConfig
	auditSt   *audit.AuditStore
	proposals plots.ProposalStore
	crops     *plots.CropLoader
	elector   *ha.LeaderElector
	router    chi.Router
	startedAt time.Time
	ready     atomic.Bool
}

// migrate creates or updates every table under the migration lock.
func migrate(ctx context.Context, db *gorm.DB, s settings, logger *slog.Logger) error {
	haCfg := ha.HAConfigFromEnv()
	locker := ha.NewMigrationLocker(nil)
	if haCfg.MigrationLockEnabled {
		locker = ha.NewMigrationLocker(db)
	}

	cfg := pluginConfig(s)
	return locker.WithLock(ctx, func() error {
		migrators := []interface{ AutoMigrate() error }{
			plots.NewPlotStore(db),
			plots.NewHarvestStore(db),
			plots.NewCropStore(db),
			audit.NewAuditStore(db),
		}
		if cfg.ProposalStore == plots.ProposalStoreDB {
			migrators = append(migrators, plots.NewDBProposalStore(db))
		}
		if haCfg.LeaderElectionEnabled {
			migrators = append(migrators, ha.NewLeaderElector(haCfg, db, haCfg.Identity, logger))
		}
		for _, m := range migrators {
			if err := m.AutoMigrate(); err != nil {
				return err
			}
		}
		logger.Info("database schema up to date", "dialect", db.Dialector.Name())
		return nil
	})
}

func loadCrops(db *gorm.DB, path string, logger *slog.Logger) (int, error) {
	n, err := plots.NewCropLoader(plots.NewCropStore(db), path, logger).Load()
	if err != nil {
		return 0, err
	}
	logger.Info("crop catalog loaded", "path", path, "crops", n)
	return n, nil
}

// pluginConfig reads the domain config and applies the flag overrides.
func pluginConfig(s settings) *plots.Config {
	cfg := plots.ConfigFromEnv()
	if s.CropsFile != "" {
		cfg.CropsFile = s.CropsFile
	}
	switch s.ProposalStore {
	case plots.ProposalStoreMemory, plots.ProposalStoreDB, plots.ProposalStoreDynamoDB:
		cfg.ProposalStore = s.ProposalStore
	}
	return cfg
}

func newServer(ctx context.Context, db *gorm.DB, s settings, logger *slog.Logger) (*server, error) {
	srv := &server{
		db:        db,
		logger:    logger,
		settings:  s,
		cfg:       pluginConfig(s),
		auditCfg:  audit.AuditConfigFromEnv(),
		auditSt:   audit.NewAuditStore(db),
		startedAt: time.Now(),
	}

	if err := migrate(ctx, db, s, logger); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	proposals, err := srv.proposalStore(ctx)
	if err != nil {
		return nil, err
	}
	srv.proposals = proposals

	if srv.cfg.CropsFile != "" {
		srv.crops = plots.NewCropLoader(plots.NewCropStore(db), srv.cfg.CropsFile, logger)
		if _, err := loadCrops(db, srv.cfg.CropsFile, logger); err != nil {
			return nil, err
		}
	}

	haCfg := ha.HAConfigFromEnv()
	if haCfg.LeaderElectionEnabled {
		srv.elector = ha.NewLeaderElector(haCfg, db, haCfg.Identity, logger)
	}

	if err := srv.routes(); err != nil {
		return nil, err
	}
	return srv, nil
}

func (s *server) proposalStore(ctx context.Context) (plots.ProposalStore, error) {
	switch s.cfg.ProposalStore {
	case plots.ProposalStoreDB:
		s.logger.Info("using database proposal store")
		return plots.NewDBProposalStore(s.db), nil
	case plots.ProposalStoreDynamoDB:
		client, err := plots.NewDynamoDBClientFromEnv(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamodb proposal store: %w", err)
		}
		s.logger.Info("using dynamodb proposal store", "table", s.cfg.ProposalTable)
		return plots.NewDynamoProposalStore(client, s.cfg.ProposalTable), nil
	default:
		s.logger.Info("using in-memory proposal store", "ttl", s.cfg.ProposalTTL)
		return plots.NewMemoryProposalStore(s.cfg.ProposalTTL), nil
	}
}

func (s *server) routes() error {
	authCfg := authz.ConfigFromEnv()
	authorizer := authz.NewAuthorizer(authCfg)

	var identity func(http.Handler) http.Handler
	switch authCfg.AuthMode {
	case authz.AuthModeJWT:
		mw, err := authz.JWTIdentityMiddleware(authCfg.JWT, s.logger)
		if err != nil {
			return fmt.Errorf("jwt identity: %w", err)
		}
		identity = mw
		s.logger.Info("using JWT identity", "rolesClaim", authCfg.JWT.RolesClaim, "companyClaim", authCfg.JWT.CompanyClaim)
	default:
		identity = authz.IdentityMiddleware()
		s.logger.Info("using header identity (X-Remote-User / X-Remote-Group)")
	}

	cm := cache.NewCacheManager(cache.CacheConfigFromEnv())

	opts := plots.Options{
		DB:        s.db,
		Proposals: s.proposals,
		Access:    plots.NewRoleAccess(authorizer),
		Config:    s.cfg,
		Logger:    s.logger,
		OnChange:  cm.InvalidateCompany,
	}
	coordinator := plots.NewCoordinator(opts, nil)
	svc := &plots.Services{
		Coordinator: coordinator,
		Ledger:      coordinator.Ledger(),
		Reporter:    plots.NewReporter(s.db, s.cfg),
		Crops:       plots.NewCropStore(s.db),
		Audit:       s.auditSt,
		Logger:      s.logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", tenancy.CompanyHeader},
		ExposedHeaders:   []string{"X-Cache", "Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.healthHandler)
	r.Get("/livez", s.healthHandler)
	r.Get("/readyz", s.readyHandler)

	r.Group(func(r chi.Router) {
		// Identity runs first so a verified token can pin the company.
		r.Use(identity)
		r.Use(tenancy.NewMiddleware(tenancy.ModeFromEnv()))
		if s.auditCfg.Enabled {
			r.Use(audit.AuditMiddleware(s.auditSt, s.auditCfg, s.logger))
			s.logger.Info("audit middleware enabled",
				"logDenied", s.auditCfg.LogDenied,
				"retentionDays", s.auditCfg.RetentionDays)
		}

		r.With(authz.AuthzMiddleware(authorizer)).Mount(authz.PlotsAPIPrefix, plots.NewRouter(svc, cm.ReportsMiddleware()))
		r.Mount("/api/audit/v1", audit.Router(s.auditSt, authorizer))
	})

	s.router = r
	return nil
}

// runBackground starts the loops that must run on one replica only.
func (s *server) runBackground(ctx context.Context) {
	go audit.NewRetentionWorker(s.auditSt, s.auditCfg.RetentionDays, s.logger).Run(ctx)

	if sweeper, ok := s.proposals.(*plots.DBProposalStore); ok {
		go plots.RunProposalSweeper(ctx, sweeper, proposalSweepInterval, s.logger)
	}
	if s.crops != nil {
		go func() {
			if err := s.crops.Watch(ctx); err != nil {
				s.logger.Error("crop catalog watcher stopped", "error", err)
			}
		}()
	}
}

func (s *server) run(ctx context.Context) error {
	// The in-memory store is local to this replica, so every replica sweeps it.
	if sweeper, ok := s.proposals.(*plots.MemoryProposalStore); ok {
		go plots.RunProposalSweeper(ctx, sweeper, proposalSweepInterval, s.logger)
	}

	if s.elector != nil {
		s.elector.OnStartLeading(s.runBackground)
		s.elector.OnStopLeading(func() {
			s.logger.Info("background loops handed over to the new leader")
		})
		go s.elector.Run(ctx)
	} else {
		s.runBackground(ctx)
	}

	httpServer := &http.Server{
		Addr:              s.settings.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	s.ready.Store(true)
	s.logger.Info("plots server ready", "listen", s.settings.Listen)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("HTTP server error: %w", err)
	}

	s.ready.Store(false)
	s.logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}
	if sqlDB, err := s.db.DB(); err == nil {
		_ = sqlDB.Close()
	}

	s.logger.Info("plots server stopped")
	return nil
}

func (s *server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, map[string]any{
		"status": "alive",
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	})
}

func (s *server) readyHandler(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	dbStatus := map[string]string{"status": "up"}

	sqlDB, err := s.db.DB()
	if err == nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err = sqlDB.PingContext(ctx)
		cancel()
	}
	if err != nil {
		status = http.StatusServiceUnavailable
		dbStatus = map[string]string{"status": "down", "error": err.Error()}
	}
	if !s.ready.Load() {
		status = http.StatusServiceUnavailable
	}

	body := map[string]any{
		"status":   "ready",
		"database": dbStatus,
	}
	if status != http.StatusOK {
		body["status"] = "not_ready"
	}
	if s.elector != nil {
		body["leader"] = s.elector.IsLeader()
	}
	writeStatus(w, status, body)
}

func writeStatus(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
