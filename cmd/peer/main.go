package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"warfront.io/internal/config"
	"warfront.io/internal/lockstep"
	"warfront.io/internal/logging"
	"warfront.io/internal/persistence/indexdb"
	persistlog "warfront.io/internal/persistence/log"
	"warfront.io/internal/sim/skirmish"
	"warfront.io/internal/transport/ws"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/session.yaml", "session config path")
		player     = flag.String("player", "", "local player id (overrides config)")
		sessionID  = flag.String("session", "", "session id (overrides config; peers must agree)")
		listen     = flag.String("listen", "", "peer listen address (overrides config)")
		dataDir    = flag.String("data", "", "runtime data directory (overrides config)")
		metrics    = flag.String("metrics", "", "metrics listen address (overrides config)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite session index")
		logLevel   = flag.String("log_level", "info", "log level")
		logPretty  = flag.Bool("log_pretty", false, "human-readable logs")
		rejoin     = flag.Bool("rejoin", false, "request a resync as soon as the first peer link is up")
		autoplay   = flag.Duration("autoplay", 0, "issue scripted commands at this interval (0 disables)")
	)
	flag.Parse()

	logger, err := logging.New(os.Stdout, *logLevel, *logPretty)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil && !(errors.Is(err, os.ErrNotExist) && *player != "") {
		logger.Fatal().Err(err).Msg("load config")
	}
	applyOverrides(&cfg, *player, *sessionID, *listen, *dataDir, *metrics)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("config")
	}
	logger = logger.With().Str("player", cfg.Session.LocalPlayer).Logger()

	ctx, cancel := signalContext()
	defer cancel()

	if err := run(ctx, cfg, runOptions{disableDB: *disableDB, rejoin: *rejoin, autoplay: *autoplay}, logger); err != nil {
		logger.Error().Err(err).Msg("session ended")
		os.Exit(1)
	}
}

// applyOverrides lets one shared config file serve every peer: naming a
// remote player as -player swaps it with the configured local player.
func applyOverrides(cfg *config.Config, player, sessionID, listen, dataDir, metricsAddr string) {
	if p := strings.TrimSpace(player); p != "" && p != cfg.Session.LocalPlayer {
		prev := cfg.Session.LocalPlayer
		cfg.Session.LocalPlayer = p
		cfg.Session.RemotePlayers = slices.DeleteFunc(cfg.Session.RemotePlayers, func(s string) bool { return s == p })
		if prev != "" {
			cfg.Session.RemotePlayers = append(cfg.Session.RemotePlayers, prev)
		}
		delete(cfg.Transport.Peers, p)
	}
	if id := strings.TrimSpace(sessionID); id != "" {
		cfg.Session.ID = id
	}
	if l := strings.TrimSpace(listen); l != "" {
		cfg.Transport.Listen = l
	}
	if d := strings.TrimSpace(dataDir); d != "" {
		cfg.Persistence.DataDir = d
	}
	if m := strings.TrimSpace(metricsAddr); m != "" {
		cfg.Persistence.MetricsAddr = m
	}
	cfg.Normalize()
}

type runOptions struct {
	disableDB bool
	rejoin    bool
	autoplay  time.Duration
}

func run(ctx context.Context, cfg config.Config, opts runOptions, logger zerolog.Logger) error {
	lc := cfg.Lockstep()
	sessionDir := filepath.Join(cfg.Persistence.DataDir, "sessions", lc.SessionID)
	players := append([]string{lc.LocalPlayerID}, lc.RemotePlayerIDs...)
	slices.Sort(players)
	startedAt := time.Now().UTC()

	if err := persistlog.WriteMeta(sessionDir, persistlog.Meta{
		SessionID: lc.SessionID, LocalPlayer: lc.LocalPlayerID, Players: players,
		Mode: string(lc.Mode), TickRateHz: lc.TickRateHz, StartedAt: startedAt,
	}); err != nil {
		return fmt.Errorf("session meta: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	world := skirmish.New(players)
	recorders := fanoutRecorder{log: logger}
	var handlers []func(lockstep.Event)

	if cfg.Persistence.TickLog {
		tickLog := persistlog.NewTickLogger(sessionDir, lc.SessionID)
		defer tickLog.Close()
		recorders.add(tickLog)
	}
	if cfg.Persistence.EventLog {
		eventLog := persistlog.NewEventLogger(sessionDir, lc.SessionID, logger)
		defer eventLog.Close()
		handlers = append(handlers, eventLog.Handle)
	}
	var idx *indexdb.SQLiteIndex
	if !opts.disableDB && cfg.Persistence.IndexDB != "" {
		var err error
		idx, err = indexdb.OpenSQLite(filepath.Join(cfg.Persistence.DataDir, cfg.Persistence.IndexDB))
		if err != nil {
			return fmt.Errorf("open index: %w", err)
		}
		defer idx.Close()
		if err := idx.UpsertSession(ctx, indexdb.SessionRow{
			SessionID: lc.SessionID, LocalPlayer: lc.LocalPlayerID, Players: players,
			Mode: string(lc.Mode), TickRateHz: lc.TickRateHz, StartedAt: startedAt,
		}); err != nil {
			logger.Warn().Err(err).Msg("index session")
		}
		rec := idx.Recorder(lc.SessionID)
		recorders.add(rec)
		handlers = append(handlers, rec.Handle)
	}

	var hub *ws.Hub
	deps := lockstep.Deps{
		Sim:      world,
		Recorder: &recorders,
		Logger:   logger,
		Metrics:  lockstep.NewMetrics(reg),
	}
	watcher := &linkWatcher{rejoin: opts.rejoin, log: logger}
	if lc.Mode != lockstep.ModeLocal {
		var err error
		hub, err = ws.NewHub(ws.Options{
			LocalPlayer:     lc.LocalPlayerID,
			SessionID:       lc.SessionID,
			Peers:           lc.RemotePlayerIDs,
			PingInterval:    cfg.PingInterval(),
			MaxMessageBytes: cfg.Transport.MaxMessageBytes,
			RateLimit:       rate.Limit(cfg.Transport.RateLimitPerSec),
			RateBurst:       cfg.Transport.RateLimitBurst,
			ReconnectDelay:  cfg.ReconnectDelay(),
			Logger:          logger,
			Registerer:      reg,
			OnLink:          watcher.up,
			OnUnlink:        watcher.down,
		})
		if err != nil {
			return err
		}
		deps.Transport = hub
		deps.RTT = hub
	}

	session, err := lockstep.NewSession(lc, deps)
	if err != nil {
		return err
	}
	watcher.session = session
	for _, h := range handlers {
		session.Events().Subscribe(h)
	}
	session.Events().Subscribe(func(ev lockstep.Event) {
		switch ev.Kind {
		case lockstep.EventDesyncDetected:
			logger.Error().Uint64("tick", ev.Tick).Str("reason", ev.Reason).Str("code", ev.Code).Str("detail", ev.Detail).Msg("desynchronized")
		case lockstep.EventSyncComplete:
			logger.Info().Uint64("from", ev.Sync.FromTick).Uint64("to", ev.Sync.ToTick).Msg("synchronized")
		case lockstep.EventPeerQuit:
			logger.Info().Str("peer", ev.PlayerID).Msg("peer left")
		case lockstep.EventNetworkPause:
			logger.Warn().Str("peer", ev.PlayerID).Str("reason", ev.Reason).Uint64("tick", ev.Tick).Msg("network pause")
		case lockstep.EventSessionFault:
			logger.Error().Str("code", ev.Code).Str("detail", ev.Detail).Msg("session fault")
		}
	})
	if hub != nil {
		hub.SetReceiver(session)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/status", statusHandler(session))
	if hub != nil {
		mux.Handle("/v1/peer", hub.Handler())
	}

	g, gctx := errgroup.WithContext(ctx)
	gctx, endRun := context.WithCancel(gctx)
	defer endRun()
	var servers []*http.Server
	if hub != nil && cfg.Transport.Listen != "" {
		servers = append(servers, &http.Server{Addr: cfg.Transport.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second})
	}
	if addr := cfg.Persistence.MetricsAddr; addr != "" && addr != cfg.Transport.Listen {
		servers = append(servers, &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second})
	}
	for _, srv := range servers {
		srv := srv
		logger.Info().Str("addr", srv.Addr).Msg("listening")
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	if hub != nil {
		for _, p := range lc.RemotePlayerIDs {
			p := p
			url, ok := cfg.Transport.Peers[p]
			if !ok {
				continue
			}
			g.Go(func() error {
				err := hub.DialLoop(gctx, p, url)
				if errors.Is(err, context.Canceled) || errors.Is(err, ws.ErrClosed) {
					return nil
				}
				return err
			})
		}
	}
	if opts.autoplay > 0 {
		g.Go(func() error {
			autoplayLoop(gctx, session, lc.LocalPlayerID, opts.autoplay)
			return nil
		})
	}

	var runErr error
	g.Go(func() error {
		if hub != nil {
			logger.Info().Strs("peers", lc.RemotePlayerIDs).Msg("waiting for peer links")
			if err := waitForPeers(gctx, hub.Connected, lc.RemotePlayerIDs, 50*time.Millisecond); err != nil {
				endRun()
				shutdown(servers, hub)
				return nil
			}
		}
		runErr = session.Run(gctx)
		if errors.Is(runErr, context.Canceled) {
			runErr = nil
		}
		if st := session.Status().State; st != lockstep.StateStopped && st != lockstep.StateDesynced {
			session.Quit()
			session.Frame()
		}
		// Tear the rest down whichever way the session ended.
		endRun()
		shutdown(servers, hub)
		return nil
	})
	groupErr := g.Wait()

	st := session.Status()
	if idx != nil {
		if err := idx.EndSession(context.Background(), lc.SessionID, st.Tick, string(st.State)); err != nil {
			logger.Warn().Err(err).Msg("index end session")
		}
	}
	logger.Info().Uint64("tick", st.Tick).Str("state", string(st.State)).Msg("session finished")
	if runErr != nil {
		return runErr
	}
	return groupErr
}

func shutdown(servers []*http.Server, hub *ws.Hub) {
	if hub != nil {
		hub.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, srv := range servers {
		_ = srv.Shutdown(ctx)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
