package main

import (
	"os"
	"os/signal"
	"syscall"

	"delphi/internal/bootstrap"
	"delphi/pkg/logger"
)

func main() {
	app, err := bootstrap.New()
	if err != nil {
		panic("failed to bootstrap: " + err.Error())
	}
	defer logger.Sync()

	log := app.Log

	go func() {
		if err := app.Server.Start(); err != nil {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()
	log.Infof("Listening on :%d", app.Config.Server.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down...")
	app.Lifecycle.Shutdown(app)
}
