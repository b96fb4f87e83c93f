package main

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"coderoom/internal/api"
	"coderoom/internal/config"
	"coderoom/internal/exec"
	"coderoom/internal/metrics"
	"coderoom/internal/presence"
	"coderoom/internal/routers"
	"coderoom/internal/session"
	"coderoom/internal/utils"
)

var listenAndServe = func(addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return server.ListenAndServe()
}

var exitFunc = func(err error) { log.Fatal(err) }

func run() error {
	logger := utils.NewLogger()

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	coord := session.NewCoordinator(logger, session.NewRegistry(), session.NewHub())

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		broker := presence.NewBroker(rdb, logger)
		coord.SetPresence(broker)
		go broker.Subscribe(func(ev presence.Event) {
			logger.Info("remote presence event", "kind", ev.Kind, "room", ev.RoomID, "username", ev.Username)
		})
	}

	runner := exec.NewRunner(cfg.ExecAPIURL, cfg.ExecClientID, cfg.ExecClientKey)
	handlers := api.NewHandlers(logger, coord, runner, []byte(cfg.AuthSecret))

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
		metrics.Middleware,
	)

	r.Mount("/", routers.New(handlers, cfg.FrontendOrigin))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	log.Printf("coderoom listening on :%s", cfg.Port)
	return listenAndServe(":"+cfg.Port, r)
}

func main() {
	if err := run(); err != nil {
		exitFunc(err)
	}
}
