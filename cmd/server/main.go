package main

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/TendoPayPlugins/tendopay-sdk-examples/internal/config"
	httpd "github.com/TendoPayPlugins/tendopay-sdk-examples/internal/delivery/http"
	"github.com/TendoPayPlugins/tendopay-sdk-examples/internal/gateway"
	"github.com/TendoPayPlugins/tendopay-sdk-examples/internal/repository"
	"github.com/TendoPayPlugins/tendopay-sdk-examples/internal/usecase"
)

func main() {
	cfg := config.Load()

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(log)

	repo, err := repository.NewSQLiteRepo(cfg.SQLiteDSN)
	if err != nil {
		log.Error("open db", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	gw := gateway.NewHTTPClient(gateway.Config{
		BaseURL:    cfg.GatewayBaseURL,
		MerchantID: cfg.MerchantID,
		Secret:     cfg.MerchantSecret,
		Timeout:    time.Duration(cfg.GatewayTimeoutSeconds) * time.Second,
	})

	engine := usecase.NewLifecycleEngine(repo, gw, usecase.LogFulfiller{Log: log}, log, usecase.Policy{
		RequiredOrderFields: cfg.RequiredOrderFields,
	})

	h := httpd.NewHandler(engine, repo, log, httpd.Options{
		NotifyUnknownOrderAck: cfg.NotifyUnknownOrderAck,
	})

	r := h.Routes(httpd.SigConfig{
		Secret:        cfg.WebhookSecret,
		MaxAgeSeconds: cfg.SigMaxAgeSeconds,
	})

	addr := ":" + cfg.AppPort
	log.Info("server listening", "addr", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
