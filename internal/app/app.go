// Package app wires the feed engine, its embedded backing store and the
// HTTP surface into one process.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"chatfeed/internal/retention"
	"chatfeed/pkg/backend/pebblestore"
	"chatfeed/pkg/config"
	"chatfeed/pkg/cooldown"
	"chatfeed/pkg/feed"
	"chatfeed/pkg/logger"
)

// App encapsulates the process components and lifecycle.
type App struct {
	eff     config.EffectiveConfigResult
	version string

	store    *pebblestore.Store
	feed     *feed.Feed
	guards   *cooldown.Pool
	srv      *http.Server
	stopRet  context.CancelFunc
}

// New initializes resources that do not require a running context: the
// backing store and the feed session. Call Run to start the scheduler and
// the HTTP server and block until shutdown.
func New(eff config.EffectiveConfigResult, version string) (*App, error) {
	_ = godotenv.Load(".env")

	if err := validateConfig(eff); err != nil {
		return nil, err
	}

	storeOpts := []pebblestore.Option{}
	if eff.Config.Feed.Replay > 0 {
		storeOpts = append(storeOpts, pebblestore.WithReplay(eff.Config.Feed.Replay))
	}
	st, err := pebblestore.Open(eff.DBPath, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("open backing store at %s: %w", eff.DBPath, err)
	}

	f, err := feed.New(feed.Options{
		Identity:            feed.Identity{Account: "feed.local", Sender: "feed"},
		Writer:              st,
		Profiles:            st,
		Capacity:            eff.Config.Feed.Capacity,
		Cooldown:            eff.Config.Feed.Cooldown.Std(),
		AvatarRetryAfter:    eff.Config.Avatars.RetryAfter.Std(),
		AvatarMaxConcurrent: eff.Config.Avatars.MaxConcurrent,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	cd := eff.Config.Feed.Cooldown.Std()
	if cd <= 0 {
		cd = cooldown.DefaultInterval
	}
	return &App{
		eff:     eff,
		version: version,
		store:   st,
		feed:    f,
		guards:  cooldown.NewPool(cd),
	}, nil
}

// Run attaches the realtime subscription, starts retention and the HTTP
// server, and blocks until ctx is canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	if err := a.feed.Start(ctx, a.store); err != nil {
		return err
	}
	if notice := a.eff.Config.Feed.SystemNotice; notice != "" {
		a.feed.Notice(notice)
	}

	stopRet, err := retention.Start(ctx, a.eff.Config.Retention, a.store, a.feed.Avatars())
	if err != nil {
		return err
	}
	a.stopRet = stopRet

	logger.Info("chatfeed_starting", "addr", a.eff.Addr, "db", a.eff.DBPath, "version", a.version, "config_source", a.eff.Source)
	errCh := a.startHTTP()

	select {
	case <-ctx.Done():
		a.shutdown()
		return nil
	case err := <-errCh:
		a.shutdown()
		return err
	}
}

// shutdown tears components down in dependency order.
func (a *App) shutdown() {
	if a.srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.srv.Shutdown(sctx)
		cancel()
	}
	if a.stopRet != nil {
		a.stopRet()
	}
	a.feed.Close()
	if err := a.store.Close(); err != nil {
		logger.Error("store_close_failed", "error", err)
	}
	logger.Info("chatfeed_stopped")
}
