package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/linkrace/linkrace/internal/config"
	"github.com/linkrace/linkrace/internal/executor"
	"github.com/linkrace/linkrace/internal/httpapi"
	"github.com/linkrace/linkrace/internal/hub"
	"github.com/linkrace/linkrace/internal/links"
	"github.com/linkrace/linkrace/internal/llm"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := buildLogger(cfg.Debug)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lookup := links.NewHTTPClient(cfg.LinksBaseURL, cfg.ServiceTimeout)
	gen := llm.NewHTTPClient(cfg.MoveBaseURL, cfg.ServiceTimeout, cfg.MoveMaxRetries, cfg.MoveRetryDelay, logger)
	exec := executor.New(lookup, gen, logger)

	h := hub.NewHub(ctx, exec, logger)
	api := &httpapi.API{Hub: h, Links: lookup, Log: logger}

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: httpapi.SetupRoutes(api),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Addr()))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		h.Inbox() <- hub.ShutdownHub{}
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func buildLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
