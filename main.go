// Command shadowscan starts the scan orchestration API server.
//
// Configuration comes from SHADOWSCAN_* environment variables with sane
// defaults; see the viper defaults below for the full list.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/viper"

	"github.com/shadowscan/shadowscan/internal/logging"
	"github.com/shadowscan/shadowscan/internal/narrative"
	"github.com/shadowscan/shadowscan/internal/orchestrator"
	"github.com/shadowscan/shadowscan/internal/server"
	"github.com/shadowscan/shadowscan/internal/zaprunner"
)

func main() {
	logger := logging.NewStdoutLogger("Main")

	viper.SetEnvPrefix("SHADOWSCAN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("listen_addr", ":8000")
	viper.SetDefault("storage_root", "storage")
	viper.SetDefault("reports_root", "reports")
	viper.SetDefault("outputs_dir", "reports/outputs")
	viper.SetDefault("final_dir", "reports/final")
	viper.SetDefault("workers", 2)
	viper.SetDefault("queue_size", 32)
	viper.SetDefault("zap_image", "zaproxy/zap-stable")
	viper.SetDefault("docker_bin", "docker")
	viper.SetDefault("groq_api_key", "")
	viper.SetDefault("groq_model", "")
	viper.SetDefault("groq_base_url", "")

	cfg := server.Config{
		ListenAddr:  viper.GetString("listen_addr"),
		StorageRoot: viper.GetString("storage_root"),
		Orchestrator: orchestrator.Config{
			Workers:    viper.GetInt("workers"),
			QueueSize:  viper.GetInt("queue_size"),
			OutputsDir: viper.GetString("outputs_dir"),
			FinalDir:   viper.GetString("final_dir"),
		},
		Runner: zaprunner.Config{
			Image:       viper.GetString("zap_image"),
			DockerBin:   viper.GetString("docker_bin"),
			ReportsRoot: viper.GetString("reports_root"),
		},
		Narrative: narrative.ClientConfig{
			BaseURL: viper.GetString("groq_base_url"),
			APIKey:  viper.GetString("groq_api_key"),
			Model:   viper.GetString("groq_model"),
		},
		Logger: logger,
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		logger.Error("starting server", logging.Field{Key: "error", Value: err.Error()})
		os.Exit(1)
	}
	defer srv.Close()

	httpSrv := srv.HTTPServer()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("listening", logging.Field{Key: "addr", Value: cfg.ListenAddr})
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", logging.Field{Key: "error", Value: err.Error()})
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", logging.Field{Key: "error", Value: err.Error()})
	}
}
