// Package main receives one file through a satellite link bridge.
//
// The program waits for the bridge to connect, stores the downloaded
// file in the configured directory and blocks until the file transfer
// module reports a terminal status. The exit code is 0 on download
// success and 1 on any failure.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/orbitgrid/satlink"
	"github.com/orbitgrid/satlink/ftmtest"
)

var log = logrus.New()

func main() {
	configPath := flag.String("config", "", "TOML config file (flags override defaults, not the file)")
	listenAddr := flag.String("listen", "", "Bind address for the bridge connection")
	transportKind := flag.String("transport", "", "Link transport: tcp or ws")
	storagePath := flag.String("storage", "", "Directory for downloaded files")
	appID := flag.Uint("app-id", 0, "Application id")
	enforceApp := flag.Bool("enforce-app-id", false, "Reject frames for other applications")
	noise := flag.Bool("noise", false, "Encrypt the link with Noise-XX")
	timeout := flag.Duration("timeout", 10*time.Minute, "Overall transfer timeout")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *transportKind != "" {
		cfg.Transport = *transportKind
	}
	if *storagePath != "" {
		cfg.StoragePath = *storagePath
	}
	if *appID != 0 {
		cfg.AppID = uint16(*appID)
	}
	if *enforceApp {
		cfg.EnforceAppID = true
	}
	if *noise {
		cfg.NoiseEnabled = true
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	configureLogging(cfg.LogLevel)

	if cfg.StoragePath == "" {
		cfg.StoragePath = "."
	}
	if err := os.MkdirAll(cfg.StoragePath, 0o755); err != nil {
		log.WithError(err).Fatal("Cannot create storage directory")
	}

	log.WithFields(logrus.Fields{
		"listen":  cfg.ListenAddr,
		"storage": cfg.StoragePath,
		"app_id":  cfg.AppID,
	}).Info("Waiting for bridge connection")

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc := ftmtest.NewLoopback()
	session, err := satlink.NewSession(cfg, svc)
	if err != nil {
		log.WithError(err).Fatal("Failed to create session")
	}
	defer session.Close()

	if err := session.Start(ctx); err != nil {
		log.WithError(err).Fatal("Failed to start session")
	}

	outcome, err := session.Wait(ctx)
	if err != nil {
		log.WithError(err).Error("Transfer did not complete")
		os.Exit(1)
	}

	if !outcome.Success {
		log.WithField("status", outcome.Status.String()).Error("Download failed")
		os.Exit(1)
	}

	for _, path := range svc.Received() {
		log.WithField("path", path).Info("Stored file")
	}
	log.WithField("status", outcome.Status.String()).Info("Download complete")
}

func loadConfig(path string) (satlink.Config, error) {
	if path == "" {
		return satlink.DefaultConfig(satlink.RoleReceiver), nil
	}
	cfg, err := satlink.LoadConfig(path)
	if err != nil {
		return satlink.Config{}, err
	}
	if cfg.Role != satlink.RoleReceiver {
		return satlink.Config{}, fmt.Errorf("config role %q, want %q", cfg.Role, satlink.RoleReceiver)
	}
	return cfg, nil
}

func configureLogging(level string) {
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}
