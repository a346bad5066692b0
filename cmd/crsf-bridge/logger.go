package main

import (
	"log/slog"
	"os"

	"github.com/kstaniek/go-crsf-bridge/internal/logging"
)

func setupLogger(format, level string) *slog.Logger {
	// validate() has already rejected unknown levels
	lvl, _ := logging.ParseLevel(level)
	l := logging.New(format, lvl, os.Stderr).With("app", "crsf-bridge")
	logging.Set(l)
	return l
}
