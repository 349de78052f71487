package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "valve_dashboard/docs"
	"valve_dashboard/internal/config"
	"valve_dashboard/internal/handlers"
	"valve_dashboard/internal/logger"
	"valve_dashboard/internal/repository"
	"valve_dashboard/internal/repository/db"
	"valve_dashboard/internal/server"
	"valve_dashboard/internal/service"
	"valve_dashboard/internal/session"
	"valve_dashboard/internal/transport"
)

const shutdownTimeout = 10 * time.Second

// @title        Valve Dashboard API
// @version      1.0
// @description  Local API over the valve-actuator dashboard: device list, valve commands, sensor freshness and the session journal.
// @BasePath     /
func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logger.Get(logger.InfoLevel).Fatalw("error reading config", "err", err)
	}

	// init logger
	log := logger.Get(cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	// session journal
	conn, err := db.InitDB(cfg.JournalPath)
	if err != nil {
		log.Fatalw("failed to init journal", "err", err, "path", cfg.JournalPath)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			log.Errorw("failed to close journal", "err", cerr)
		}
	}()

	// wire dependencies
	repos := repository.NewRepository(conn)
	eventLog := service.NewEventLogService(repos.JournalRepo, log.Named("journal"))
	client := transport.NewHTTPClient(cfg.BaseURL, cfg.RequestTimeout, log.Named("transport"))

	dash, err := session.New(session.Deps{
		Client:          client,
		Journal:         eventLog,
		DevicesInterval: cfg.DevicesInterval,
		SensorInterval:  cfg.SensorInterval,
		Log:             log,
	})
	if err != nil {
		log.Fatalw("failed to init dashboard", "err", err)
	}

	services := service.NewService(
		service.NewDashboardService(dash, time.Now),
		service.NewDeviceService(client),
		eventLog,
	)
	apiHandler := handlers.NewHandler(services, log.Named("http"), handlers.Options{
		AllowOrigins:   cfg.AllowOrigins,
		StreamInterval: cfg.StreamInterval,
	})

	// context for background polling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := dash.Mount(ctx); err != nil {
		log.Fatalw("failed to mount dashboard", "err", err)
	}
	log.Infow("dashboard_started", "backend", cfg.BaseURL, "devices_interval", cfg.DevicesInterval, "sensor_interval", cfg.SensorInterval)

	// start HTTP server
	srv := &server.Server{}
	runHTTPServer(srv, cfg.Port, apiHandler, log)

	// graceful shutdown
	waitForShutdown(cancel, dash, srv, log)
}

// runHTTPServer runs the HTTP server in a separate goroutine.
func runHTTPServer(srv *server.Server, port string, handler *handlers.Handler, log *logger.Logger) {
	go func() {
		log.Infow("http_listening", "port", port)
		if err := srv.Run(port, handler.InitRoutes()); err != nil {
			log.Fatalw("error starting server", "err", err)
		}
	}()
}

// waitForShutdown listens for termination signals and performs graceful shutdown.
func waitForShutdown(cancel context.CancelFunc, dash *session.Dashboard, srv *server.Server, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down server...")

	// allow in-flight requests to complete
	ctx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("server forced to shutdown", "err", err)
	}

	// stop polling; results still in flight are discarded
	dash.Unmount()
	cancel()
}
