package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sessamekesh/kbengine-netcode-client/internal/config"
	"github.com/sessamekesh/kbengine-netcode-client/pkg/client"
	"github.com/sessamekesh/kbengine-netcode-client/pkg/events"
	"github.com/sessamekesh/kbengine-netcode-client/pkg/transport"
	utils "github.com/sessamekesh/kbengine-netcode-client/pkg/util"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type loginOptions struct {
	configPath     string
	address        string
	port           uint16
	transport      string
	secure         bool
	username       string
	password       string
	metricsAddress string
	logLevel       string
	exitOnProxy    bool
	createAccount  bool
}

func loginCmd() *cobra.Command {
	opts := &loginOptions{}

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and follow the session until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.resolve(cmd)
			if err != nil {
				return err
			}
			return runLogin(cmd.Context(), cfg, opts.exitOnProxy, opts.createAccount)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "TOML config file")
	flags.StringVar(&opts.address, "address", "", "Login tier host")
	flags.Uint16Var(&opts.port, "port", 0, "Login tier port")
	flags.StringVar(&opts.transport, "transport", "", "Transport for both tiers: websocket, tcp or udp")
	flags.BoolVar(&opts.secure, "secure", false, "Use wss:// for WebSocket addresses without a scheme")
	flags.StringVarP(&opts.username, "username", "u", "", "Account name")
	flags.StringVarP(&opts.password, "password", "p", "", "Account password")
	flags.StringVar(&opts.metricsAddress, "metrics-address", "", "Serve Prometheus metrics on this address")
	flags.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")
	flags.BoolVar(&opts.exitOnProxy, "exit-on-proxy", false, "Exit once the proxy entity is created")
	flags.BoolVar(&opts.createAccount, "create-account", false, "Register the account instead of logging in, then exit")

	return cmd
}

// resolve loads the config file, if any, and applies the flags that were set.
func (opts *loginOptions) resolve(cmd *cobra.Command) (config.Config, error) {
	cfg := config.DefaultConfig()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("address") {
		cfg.Client.Address = opts.address
	}
	if flags.Changed("port") {
		cfg.Client.Port = opts.port
	}
	if flags.Changed("transport") {
		cfg.Transport = opts.transport
		cfg.GameplayTransport = opts.transport
	}
	if flags.Changed("secure") {
		cfg.Secure = opts.secure
	}
	if flags.Changed("username") {
		cfg.Username = opts.username
	}
	if flags.Changed("password") {
		cfg.Password = opts.password
	}
	if flags.Changed("metrics-address") {
		cfg.MetricsAddress = opts.metricsAddress
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}

	if cfg.Username == "" {
		return config.Config{}, errors.New("a username is required")
	}
	return cfg, cfg.Validate()
}

func createTransport(kind string, cfg config.Config, logger *zap.Logger) transport.Transport {
	switch kind {
	case config.TransportTCP:
		return transport.CreateTCPTransport(transport.TCPTransportParams{Logger: logger})
	case config.TransportUDP:
		return transport.CreateUDPTransport(transport.UDPTransportParams{Logger: logger})
	default:
		return transport.CreateWebsocketTransport(transport.WebsocketTransportParams{Secure: cfg.Secure, Logger: logger})
	}
}

func runLogin(parent context.Context, cfg config.Config, exitOnProxy bool, createAccount bool) error {
	logger, err := utils.CreateLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	if cfg.MetricsAddress != "" {
		srv := metricsServer(cfg.MetricsAddress, reg)
		go func() {
			logger.Info("Serving metrics", zap.String("address", cfg.MetricsAddress))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	dispatcher := events.CreateDispatcher(events.DispatcherParams{Logger: logger, Registerer: reg})
	c, err := client.CreateClient(client.ClientParams{
		Config:            cfg.Client,
		Transport:         createTransport(cfg.Transport, cfg, logger),
		GameplayTransport: createTransport(cfg.GameplayTransport, cfg, logger),
		Dispatcher:        dispatcher,
		Logger:            logger,
		Registerer:        reg,
	})
	if err != nil {
		return err
	}
	defer c.Close()

	sessionCtx, endSession := context.WithCancel(ctx)
	defer endSession()
	logEvents(dispatcher, logger, endSession, exitOnProxy)

	if createAccount {
		err = c.CreateAccount(sessionCtx, cfg.Username, cfg.Password, nil)
	} else {
		err = c.Login(sessionCtx, cfg.Username, cfg.Password, nil)
	}
	if err != nil {
		return err
	}

	if err := c.Run(sessionCtx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func metricsServer(address string, reg *prometheus.Registry) *http.Server {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return &http.Server{
		Addr:              address,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// logEvents logs the session's events. Terminal failures end the session.
func logEvents(d *events.Dispatcher, logger *zap.Logger, endSession context.CancelFunc, exitOnProxy bool) {
	log := logger.With(zap.String("component", "kbe-client"))

	events.Subscribe(d, func(ev events.ConnectionState) {
		if !ev.Success {
			log.Error("Connection failed", zap.String("server", string(ev.Server)), zap.String("address", ev.Address), zap.Error(ev.Err))
			endSession()
			return
		}
		log.Info("Connected", zap.String("server", string(ev.Server)), zap.String("address", ev.Address))
	})
	events.Subscribe(d, func(ev events.Disconnected) {
		log.Warn("Disconnected", zap.String("server", string(ev.Server)), zap.Error(ev.Err))
		endSession()
	})
	events.Subscribe(d, func(ev events.VersionMismatch) {
		log.Error("Engine version mismatch", zap.String("client", ev.ClientVersion), zap.String("server", ev.ServerVersion))
		endSession()
	})
	events.Subscribe(d, func(ev events.ScriptVersionMismatch) {
		log.Error("Script version mismatch", zap.String("client", ev.ClientVersion), zap.String("server", ev.ServerVersion))
		endSession()
	})
	events.Subscribe(d, func(ev events.LoginFailed) {
		log.Error("Login failed", zap.Uint16("code", ev.Code), zap.String("name", ev.Name))
		endSession()
	})
	events.Subscribe(d, func(ev events.CreateAccountResult) {
		if ev.Code != 0 {
			log.Error("Account creation failed", zap.Uint16("code", ev.Code), zap.String("name", ev.Name))
		} else {
			log.Info("Account created")
		}
		endSession()
	})
	events.Subscribe(d, func(ev events.LoginGameplayFailed) {
		log.Error("Gameplay login failed", zap.Uint16("code", ev.Code), zap.String("name", ev.Name))
		endSession()
	})
	events.Subscribe(d, func(ev events.Kicked) {
		log.Warn("Kicked", zap.Uint16("code", ev.Code), zap.String("name", ev.Name))
	})
	events.Subscribe(d, func(ev events.LoginSuccess) {
		log.Info("Login accepted", zap.String("account", ev.Account), zap.String("host", ev.Host))
	})
	events.Subscribe(d, func(ev events.CreatedProxies) {
		log.Info("Proxy created", zap.Int32("entityId", ev.EntityID), zap.String("entityType", ev.EntityType))
		if exitOnProxy {
			endSession()
		}
	})
	events.Subscribe(d, func(ev events.EnterWorld) {
		log.Debug("Entity entered world", zap.Int32("entityId", ev.EntityID), zap.Uint16("entityType", ev.EntityType))
	})
	events.Subscribe(d, func(ev events.LeaveWorld) {
		log.Debug("Entity left world", zap.Int32("entityId", ev.EntityID))
	})
	events.Subscribe(d, func(ev events.AddSpaceGeometryMapping) {
		log.Info("Space geometry", zap.Uint32("spaceId", ev.SpaceID), zap.String("resPath", ev.ResPath))
	})
}
