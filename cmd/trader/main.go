package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"time"

	"perpbot/internal/auth"
	"perpbot/internal/journal"
	"perpbot/internal/marketdata"
	"perpbot/internal/obs"
	"perpbot/internal/ops"
	"perpbot/internal/rest"
	"perpbot/internal/session"
	"perpbot/internal/signer"
	"perpbot/internal/strategy"
	"perpbot/internal/task"
	"perpbot/internal/trade"
	"perpbot/internal/wallet"
	"perpbot/pkg/conn"
	"perpbot/pkg/websocket"

	"github.com/grafana/pyroscope-go"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "Path to YAML config")
	envFile := flag.String("env", ".env", "Optional dotenv file with account secrets")
	flag.Parse()

	if err := run(*configPath, *envFile); err != nil {
		logs.Errorf("trader: %+v", err)
		os.Exit(1)
	}
}

func run(configPath, envFile string) error {
	if err := ops.LoadEnv(envFile); err != nil {
		return err
	}
	cfg, err := ops.Load(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Profiling.Enabled {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: cfg.Profiling.AppName,
			ServerAddress:   cfg.Profiling.ServerAddress,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return errors.Wrap(err, "start profiler")
		}
		defer func() { _ = profiler.Stop() }()
	}

	metrics := obs.NewMetrics()
	if cfg.Metrics.Listen != "" {
		srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logs.Infof("metrics: listening on %s", cfg.Metrics.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logs.Errorf("metrics: serve, err: %+v", err)
			}
		}()
		defer func() { _ = srv.Close() }()
	}

	keys, err := signer.NewKeyStore(cfg.Exchange.KeyDir)
	if err != nil {
		return err
	}
	defer keys.Close()

	httpClient := &http.Client{Timeout: cfg.Exchange.RequestTimeout}

	hub := marketdata.NewHub(marketdata.Config{
		Dialer:       websocket.NewDialer(cfg.Exchange.WSURL, nil),
		Backoff:      cfg.MarketData.Backoff(),
		PingInterval: cfg.MarketData.PingInterval,
		Metrics:      metrics,
	})

	quoters := make(map[string]strategy.QuoterConfig, len(cfg.Tasks))
	for _, tc := range cfg.Tasks {
		qc, ok, err := tc.QuoterConfig()
		if err != nil {
			return err
		}
		if ok {
			quoters[tc.ID] = qc
		}
	}

	var journ task.Journal
	if cfg.Journal.Enabled {
		db, err := conn.New(ctx, cfg.Journal.Option())
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		j, err := journal.New(db.DB())
		if err != nil {
			return err
		}
		if err := j.Migrate(ctx); err != nil {
			return err
		}
		journ = j
	}

	manager := task.NewManager(task.ManagerConfig{
		Market:  task.HubSource{Hub: hub, Buffer: cfg.MarketData.ListenerBuffer},
		Journal: journ,
		Metrics: metrics,
		NewStrategy: func(t task.Task) task.Strategy {
			qc, ok := quoters[t.ID]
			if !ok {
				return nil
			}
			q, err := strategy.NewQuoter(qc)
			if err != nil {
				logs.Errorf("trader: task %s quoter, err: %+v", t.ID, err)
				return nil
			}
			return q
		},
	})

	for _, ac := range cfg.Accounts {
		client, w, err := login(ctx, cfg, ac, keys, httpClient)
		if err != nil {
			return errors.Wrapf(err, "account %s", ac.ID)
		}
		if w != nil {
			go client.KeepAlive(ctx, w, auth.RefreshConfig{
				TTL:         cfg.Exchange.SigninTTL,
				Lead:        cfg.Exchange.RefreshLead,
				SignTimeout: cfg.Exchange.SignTimeout,
			})
		}
		if err := manager.RegisterAccount(ac.ID, trade.NewClient(rest.NewClient(cfg.Exchange.RestURL, httpClient), client, metrics)); err != nil {
			return err
		}
	}

	hubDone := make(chan error, 1)
	go func() { hubDone <- hub.Run(ctx) }()

	for _, tc := range cfg.Tasks {
		limits, err := tc.Limits()
		if err != nil {
			return err
		}
		if _, err := manager.Add(tc.ID, task.Config{AccountID: tc.AccountID, Symbol: tc.Symbol, Risk: limits}); err != nil {
			return err
		}
		if _, err := manager.Save(tc.ID); err != nil {
			return err
		}
		if !tc.StartsAutomatically() {
			logs.Infof("trader: task %s saved, waiting for a manual start", tc.ID)
			continue
		}
		if err := manager.Start(ctx, tc.ID); err != nil {
			return err
		}
	}

	select {
	case <-sys.Shutdown():
		logs.Info("trader: shutting down")
	case err := <-hubDone:
		logs.Errorf("trader: market data stopped, err: %+v", err)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()
	stopErr := manager.StopAll(stopCtx)

	cancel()
	manager.Wait()
	for _, t := range manager.List() {
		logs.Infof("trader: task %s ended %s %s", t.ID, t.Status, t.LastError)
	}
	return stopErr
}

// login prepares the credentials of one account. A configured signing key
// and token skip the wallet round trip; otherwise the wallet signs a fresh
// challenge and is returned so the session can be refreshed later.
func login(ctx context.Context, cfg *ops.Config, ac ops.AccountConfig, keys *signer.KeyStore, doer rest.Doer) (*auth.Manager, wallet.Signer, error) {
	chain, err := ac.ChainID()
	if err != nil {
		return nil, nil, err
	}

	sessions := session.NewManager()
	m := auth.NewManager(rest.NewClient(cfg.Exchange.RestURL, doer), keys, sessions)

	if ac.SigningKey != "" {
		seed, err := ac.SigningSeed()
		if err != nil {
			return nil, nil, err
		}
		if _, err := keys.Import(ac.Address, seed); err != nil {
			return nil, nil, err
		}
		if err := sessions.SeedFromJWT(ac.JWTToken, ac.Address, chain); err != nil {
			return nil, nil, err
		}
		if err := m.Adopt(ac.Address); err != nil {
			return nil, nil, err
		}
		data, _ := sessions.TokenData()
		logs.Infof("trader: account %s adopted token for %s, no wallet to refresh it after %s",
			ac.ID, ac.Address, data.ExpiresAt.Format(time.RFC3339))
		return m, nil, nil
	}

	w, err := wallet.New(chain, ac.PrivateKey)
	if err != nil {
		return nil, nil, err
	}
	signCtx, cancel := context.WithTimeout(ctx, cfg.Exchange.SignTimeout)
	defer cancel()
	if _, err := m.Authenticate(signCtx, w, cfg.Exchange.SigninTTL); err != nil {
		return nil, nil, err
	}
	return m, w, nil
}
