// Package main uploads one file through a satellite link bridge.
//
// The program connects to the bridge, starts the configured transfer and
// blocks until the file transfer module reports a terminal status. The
// exit code is 0 on upload success and 1 on any failure.
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
	"github.com/orbitgrid/satlink/ftm"
	"github.com/orbitgrid/satlink/ftmtest"
)

var log = logrus.New()

func main() {
	configPath := flag.String("config", "", "TOML config file (flags override defaults, not the file)")
	bridgeAddr := flag.String("bridge", "", "Bridge address to dial")
	transportKind := flag.String("transport", "", "Link transport: tcp or ws")
	filePath := flag.String("file", "", "File to upload")
	appID := flag.Uint("app-id", 0, "Application id")
	noise := flag.Bool("noise", false, "Encrypt the link with Noise-XX")
	timeout := flag.Duration("timeout", 10*time.Minute, "Overall transfer timeout")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	if *bridgeAddr != "" {
		cfg.BridgeAddr = *bridgeAddr
	}
	if *transportKind != "" {
		cfg.Transport = *transportKind
	}
	if *filePath != "" {
		cfg.FilePath = *filePath
	}
	if *appID != 0 {
		cfg.AppID = uint16(*appID)
	}
	if *noise {
		cfg.NoiseEnabled = true
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	configureLogging(cfg.LogLevel)

	if cfg.FilePath == "" {
		log.Fatal("No file to upload; pass -file or set file_path in the config")
	}
	info, err := os.Stat(cfg.FilePath)
	if err != nil {
		log.WithError(err).Fatal("Cannot read upload file")
	}
	if info.Size() == 0 {
		log.WithField("file", cfg.FilePath).Fatal("Refusing to upload an empty file")
	}

	log.WithFields(logrus.Fields{
		"file":   cfg.FilePath,
		"size":   info.Size(),
		"bridge": cfg.BridgeAddr,
		"app_id": cfg.AppID,
	}).Info("Starting upload")

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := satlink.NewSession(cfg, ftmtest.NewLoopback())
	if err != nil {
		log.WithError(err).Fatal("Failed to create session")
	}
	defer session.Close()

	if err := session.Start(ctx); err != nil {
		log.WithError(err).Fatal("Failed to start session")
	}

	if err := session.Transfer(ftm.RequestStartTransmission, 0); err != nil {
		log.WithError(err).Fatal("Failed to start transmission")
	}

	outcome, err := session.Wait(ctx)
	if err != nil {
		log.WithError(err).Error("Transfer did not complete")
		os.Exit(1)
	}

	if !outcome.Success {
		log.WithField("status", outcome.Status.String()).Error("Upload failed")
		os.Exit(1)
	}
	log.WithField("status", outcome.Status.String()).Info("Upload complete")
}

func loadConfig(path string) (satlink.Config, error) {
	if path == "" {
		return satlink.DefaultConfig(satlink.RoleSender), nil
	}
	cfg, err := satlink.LoadConfig(path)
	if err != nil {
		return satlink.Config{}, err
	}
	if cfg.Role != satlink.RoleSender {
		return satlink.Config{}, fmt.Errorf("config role %q, want %q", cfg.Role, satlink.RoleSender)
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
