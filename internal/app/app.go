package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rashedsumon/instagram-teaser/cmd/migrate"
	"github.com/rashedsumon/instagram-teaser/internal/cache"
	"github.com/rashedsumon/instagram-teaser/internal/composer"
	"github.com/rashedsumon/instagram-teaser/internal/config"
	"github.com/rashedsumon/instagram-teaser/internal/dataset"
	"github.com/rashedsumon/instagram-teaser/internal/provider"
	"github.com/rashedsumon/instagram-teaser/internal/queue"
	"github.com/rashedsumon/instagram-teaser/internal/r2"
	"github.com/rashedsumon/instagram-teaser/internal/redisholder"
	"github.com/rashedsumon/instagram-teaser/internal/redismanager"
	"github.com/rashedsumon/instagram-teaser/internal/repository/storage"
	"github.com/rashedsumon/instagram-teaser/internal/transport/handler"
	"github.com/rashedsumon/instagram-teaser/internal/transport/router"
	use_case "github.com/rashedsumon/instagram-teaser/internal/use-case"
)

type App struct {
	HttpServer *http.Server

	holder    *redisholder.Holder
	r2Storage *r2.S3
	logger    *zap.Logger
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	err := migrate.Migrate(cfg.Database.DSN, migrate.Migrations)
	if err != nil {
		return nil, err
	}

	for _, dir := range []string{cfg.Render.OutputDir, cfg.Dataset.DownloadDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	repo, err := storage.New(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	holder, err := redisholder.Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	rc := holder.Get()
	shares := redismanager.NewManager(rc)
	statusCache := cache.NewCache("teaser:status", rc)

	r2Storage, err := r2.NewStorage(&cfg.R2, logger)
	if err != nil {
		return nil, err
	}

	comp := composer.New(cfg.Render)
	remote := provider.NewRemote(cfg.Provider)
	providers, err := provider.NewRegistry(provider.NewLocal(comp), remote)
	if err != nil {
		return nil, err
	}

	producer := queue.Init(ctx, rc, cfg.Worker, r2Storage, repo, providers, statusCache, cfg.Render.OutputDir, logger)

	datasets := dataset.New(cfg.Dataset)

	uc := use_case.New(repo, shares, r2Storage, producer, statusCache, datasets, cfg.Render.ShareLinkTTLSec)

	h := handler.New(uc, cfg, remote.Configured())
	r := router.NewRouter(h)

	s := &http.Server{
		Handler:      r,
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		ReadTimeout:  cfg.Server.ReadTimeout * time.Second,
		WriteTimeout: cfg.Server.WriteTimeout * time.Second,
	}

	return &App{
		HttpServer: s,
		holder:     holder,
		r2Storage:  r2Storage,
		logger:     logger,
	}, nil
}

// Run serves HTTP until ctx is canceled, then drains the server and the
// upload pool.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting server", zap.String("addr", a.HttpServer.Addr))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := a.HttpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.HttpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}

		a.r2Storage.Close()
		return a.holder.Close()
	})

	return g.Wait()
}
