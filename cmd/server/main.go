package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"newfem_go/internal/config"
	"newfem_go/internal/server"
	"newfem_go/pkg/logger"
)

func main() {
	configPath := flag.String("config", config.DefaultFile, "arquivo de configuração JSON")
	flag.Parse()

	logger.Init()
	defer logger.Sync()

	displayBanner()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		logger.Fatal("Erro ao carregar configurações", err)
	}

	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		logger.Warnf("%v; usando INFO", err)
	}
	logger.SetLevel(level)

	if cfg.Logging.File {
		if err := logger.EnableFileLogging(cfg.Logging.Dir, "newfem"); err != nil {
			logger.Error("Erro ao habilitar log em arquivo", err)
		}
	}

	logger.Info("Iniciando NewFEM")
	logger.Infof("Configuração carregada: %d FPS, ROI habilitada=%v, Redis=%v, PLC=%v",
		cfg.Acquisition.FPS, cfg.Roi.Enabled, cfg.Redis.Enabled, cfg.PLC.Enabled)

	srv, err := server.NewServer(cfg, *configPath)
	if err != nil {
		logger.Fatal("Erro ao criar servidor", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Infof("Sinal %v recebido, desligando servidor...", sig)
	case err := <-errCh:
		if err != nil {
			logger.Error("Servidor HTTP encerrado com erro", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Erro durante o shutdown do servidor", err)
	}

	logger.Info("Servidor encerrado com sucesso")
}

// displayBanner exibe um banner de inicialização
func displayBanner() {
	banner := `
  _   _               _____ _____ __  __
 | \ | | _____      _|  ___| ____|  \/  |
 |  \| |/ _ \ \ /\ / / |_  |  _| | |\/| |
 | |\  |  __/\ V  V /|  _| | |___| |  | |
 |_| \_|\___| \_/\_/ |_|   |_____|_|  |_|
                     PEAK DETECTION SERVER
 `
	fmt.Println(banner)
	fmt.Printf("Iniciando em %s\n\n", time.Now().Format("2006-01-02 15:04:05"))
}
