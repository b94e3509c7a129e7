package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/gorilla/handlers"
	"github.com/sjudeng/planet-api-workshop/fetcher"
	"github.com/sjudeng/planet-api-workshop/order"
	"github.com/sjudeng/planet-api-workshop/planet"
	"github.com/sjudeng/planet-api-workshop/service"
	"github.com/sjudeng/planet-api-workshop/service/log"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type config struct {
	Port         string        `env:"PORT" envDefault:"8080"`
	APIKey       string        `env:"API_KEY"`
	StorageURI   string        `env:"STORAGE_URI,notEmpty"`
	WorkingDir   string        `env:"WORKDIR"`
	Jobs         int           `env:"JOBS" envDefault:"4"`
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`
	PollTimeout  time.Duration `env:"POLL_TIMEOUT" envDefault:"0"`
	DrainTimeout time.Duration `env:"DRAIN_TIMEOUT" envDefault:"10s"`
}

func newAppConfig() (*config, error) {
	config := config{}
	if err := env.ParseWithOptions(&config, env.Options{Prefix: "ORDER_"}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if config.WorkingDir == "" {
		config.WorkingDir = os.TempDir()
	}
	return &config, nil
}

func main() {
	ctx := context.Background()
	err := run(ctx)
	if err != nil {
		log.Fatal("error", zap.Error(err))
	}
}

func run(ctx context.Context) error {
	config, err := newAppConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session, err := planet.NewSession(config.APIKey)
	if err != nil {
		return err
	}
	storage, err := service.NewStorage(ctx, config.StorageURI)
	if err != nil {
		return fmt.Errorf("storage %s: %w", config.StorageURI, err)
	}

	reg := order.NewRegistry(session, storage, config.WorkingDir, fetcher.Config{
		APIKey:       config.APIKey,
		PollInterval: config.PollInterval,
		PollTimeout:  config.PollTimeout,
		Jobs:         config.Jobs,
	})

	headersOk := handlers.AllowedHeaders([]string{"*"})
	originsOk := handlers.AllowedOrigins([]string{"*"})
	methodsOk := handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	s := http.Server{
		Addr:    ":" + config.Port,
		Handler: handlers.CORS(originsOk, headersOk, methodsOk)(reg.NewHandler()),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := reg.Run(gctx); err != nil && gctx.Err() == nil {
			return fmt.Errorf("registry: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Logger(gctx).Sugar().Infof("order service listening on :%s, delivering to %s", config.Port, config.StorageURI)
		if err := s.ListenAndServe(); err != http.ErrServerClosed {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.DrainTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
