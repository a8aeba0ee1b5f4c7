// Package app wires configuration, the listing index and the page store
// into something the server and the CLI can run.
package app

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"quire/internal/api"
	"quire/internal/config"
	"quire/internal/index"
	"quire/internal/logging"
	"quire/internal/middleware"
	"quire/internal/revision"
	"quire/internal/store"

	"go.uber.org/zap"
)

// IndexDir is where the listing index lives when no path is configured.
// It sits inside .git so the working tree never sees it.
const IndexDir = ".git/quire-index"

const seedContent = `# Welcome

This is the first page of your wiki. Edit it, rename it or add new pages
next to it; every change is recorded as a revision.
`

type App struct {
	Config *config.Config
	Logger *logging.Logger
	Store  *store.Store
	index  *index.Store
}

type Options struct {
	// WatchReload starts the .git/RELOAD_GIT watcher.
	WatchReload bool
	// Seed commits the welcome page into a repository without pages,
	// when the config allows it.
	Seed bool
}

func New(cfg *config.Config, logger *logging.Logger, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	root, err := filepath.Abs(cfg.Repository)
	if err != nil {
		return nil, fmt.Errorf("resolving repository path: %w", err)
	}

	// The default index lives inside .git, so the repository has to exist
	// before badger creates its directory there.
	if _, _, err := revision.Open(root, revision.Options{}); err != nil {
		return nil, fmt.Errorf("opening repository: %w", err)
	}

	indexPath := cfg.Index.Path
	if indexPath == "" {
		indexPath = filepath.Join(root, filepath.FromSlash(IndexDir))
	}
	listings, err := index.Open(index.Options{
		Path:            indexPath,
		InMemory:        cfg.Index.InMemory,
		CompressMinSize: cfg.Index.CompressMinSize,
	})
	if err != nil {
		return nil, err
	}

	s, err := store.Open(root, store.Options{
		CacheSize:   cfg.Cache.Size,
		Listings:    listings,
		Logger:      logger.Logger,
		WatchReload: opts.WatchReload,
	})
	if err != nil {
		listings.Close()
		return nil, fmt.Errorf("opening store: %w", err)
	}

	a := &App{Config: cfg, Logger: logger, Store: s, index: listings}
	if opts.Seed && cfg.Seed.Enabled {
		if err := a.seed(); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *App) seed() error {
	robot := revision.Signature{Name: a.Config.Seed.AuthorName, Email: a.Config.Seed.AuthorEmail}
	if _, err := a.Store.EnsurePage(a.Config.Seed.Page, seedContent, robot, "Initial commit"); err != nil {
		return fmt.Errorf("seeding %s: %w", a.Config.Seed.Page, err)
	}
	return nil
}

// Handler is the HTTP API with request ids, access logging and panic
// recovery applied.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	api.NewPageHandler(a.Store, a.Config.CommitMessage).Routes(mux)

	return middleware.Chain(
		mux,
		middleware.RequestID,
		middleware.Logger(a.Logger),
		middleware.Recover(a.Logger),
	)
}

func (a *App) Close() error {
	var firstErr error
	if err := a.Store.Close(); err != nil {
		firstErr = err
	}
	if err := a.index.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		a.Logger.Warn("closing app", zap.Error(firstErr))
	}
	return firstErr
}

// Serve runs the HTTP API on the configured address until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.Config.Addr(),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		a.Logger.Info("starting server", zap.String("address", srv.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		a.Logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
