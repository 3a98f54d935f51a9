// Command server runs the jobchat realtime messaging service: the websocket
// gateway, the REST surface, and the fan-out plumbing between instances.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/avelar/jobchat/pkg/api"
	"github.com/avelar/jobchat/pkg/auth"
	"github.com/avelar/jobchat/pkg/authz"
	"github.com/avelar/jobchat/pkg/bus"
	"github.com/avelar/jobchat/pkg/config"
	"github.com/avelar/jobchat/pkg/dispatch"
	"github.com/avelar/jobchat/pkg/logging"
	"github.com/avelar/jobchat/pkg/model"
	"github.com/avelar/jobchat/pkg/presence"
	"github.com/avelar/jobchat/pkg/readstate"
	"github.com/avelar/jobchat/pkg/registry"
	"github.com/avelar/jobchat/pkg/store"
	"github.com/avelar/jobchat/pkg/ws"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: search standard locations)")
	flag.Parse()

	path := *configPath
	if path == "" {
		path = config.FindFile()
	}
	cfg, err := config.Load(path)
	if err != nil {
		logging.Error().Err(err).Msg("configuration error")
		os.Exit(1)
	}

	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	log := logging.Component("server")

	if err := run(cfg, log); err != nil {
		log.Error().Err(err).Msg("server exited with error")
		os.Exit(1)
	}
}

func run(cfg config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	instanceID := uuid.NewString()

	st, err := store.NewScylla(cfg.Scylla.Hosts, cfg.Scylla.Keyspace, cfg.Node)
	if err != nil {
		return err
	}
	defer st.Close()
	log.Info().Strs("hosts", cfg.Scylla.Hosts).Str("keyspace", cfg.Scylla.Keyspace).
		Msg("connected to scylla")

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	defer rdb.Close()

	var broadcast bus.Bus = bus.Nop{}
	if cfg.Kafka.Enabled {
		kb := bus.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic, instanceID)
		defer kb.Close()
		broadcast = kb
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).
			Str("instance", instanceID).Msg("kafka broadcast bus enabled")
	}

	reg := registry.New(broadcast)
	reg.Start(ctx)

	access := authz.New(st)
	dispatcher := dispatch.New(st, access, reg, pushSink{log: logging.Component("push")})
	tracker := readstate.New(st)
	pres := presence.New(access, reg, rdb)
	issuer := auth.NewIssuer(cfg.Auth.Secret, cfg.Auth.TokenTTL)

	realtime := ws.NewServer(issuer, access, reg, dispatcher, pres, cfg.WS)
	handler := api.NewHandler(issuer, access, st, dispatcher, tracker, pres).Router(realtime)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("listen", cfg.Listen).Msg("jobchat server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// pushSink stands in for the marketplace's push-notification pipeline.
// Delivery mechanics live outside this service; the dispatcher only needs a
// sink for "notify user X" events.
type pushSink struct {
	log zerolog.Logger
}

func (p pushSink) NotifyNewMessage(_ context.Context, userID string, m model.Message) error {
	p.log.Info().Str("user_id", userID).Int64("message_id", m.ID).Str("job_id", m.JobID).
		Msg("push notification queued")
	return nil
}
