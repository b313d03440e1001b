// cmd/msnpd is the notification server binary: a logger set up once the
// flags are parsed, a deferred panic-log-then-repanic, explicit listener
// lifecycle, and signal.Notify-driven graceful shutdown.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/op/go-logging"
	"github.com/urfave/cli"

	"github.com/frostbite2000/msnp-server/internal/config"
	applog "github.com/frostbite2000/msnp-server/internal/log"
	"github.com/frostbite2000/msnp-server/internal/msnpd"
	"github.com/frostbite2000/msnp-server/internal/registry"
	"github.com/frostbite2000/msnp-server/internal/router"
	"github.com/frostbite2000/msnp-server/internal/store"
)

func main() {
	app := cli.NewApp()
	app.Name = "msnpd"
	app.Usage = "MSNP notification server"
	app.Flags = config.Flags()
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.FromContext(c)
	if err != nil {
		return err
	}

	level, err := logging.LogLevel(cfg.LogLevel)
	if err != nil {
		level = logging.INFO
	}
	applog.Init("msnpd", level, cfg.LogSyslog)
	log := applog.Logger("msnpd")

	defer func() {
		if x := recover(); x != nil {
			log.Error(fmt.Sprintf("run time panic: %v", x))
			log.Error(string(debug.Stack()))
			panic(x)
		}
	}()

	st, err := store.NewMemoryStore(4096, cfg.SnapshotPath, applog.Logger("store"))
	if err != nil {
		return fmt.Errorf("building store: %w", err)
	}
	st.StartSnapshotting(cfg.SnapshotInterval)
	defer st.Stop()

	reg := registry.New(applog.Logger("registry"))

	var publisher router.EventPublisher
	if cfg.SQSRegion != "" {
		p, err := router.NewSQSPublisher(cfg.SQSRegion, cfg.ListenHost, applog.Logger("router"))
		if err != nil {
			log.Warning("event publisher disabled:", err)
		} else {
			publisher = p
		}
	}
	rtr := router.New(reg, st, publisher, applog.Logger("router"))

	listenAddr := fmt.Sprintf("%s:%d", cfg.ListenHost, cfg.ListenPort)
	srv := msnpd.New(listenAddr, cfg.MaxConnections, cfg.SessionConfig(), reg, rtr, st, applog.Logger("listener"))

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()

	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, os.Interrupt, syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGTERM)

	select {
	case sig := <-stopSignal:
		log.Notice("stopping with signal", sig)
		srv.Shutdown()
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}
	return nil
}
