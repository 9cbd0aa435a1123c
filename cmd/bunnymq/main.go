package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/ilyadubrovsky/bunnymq/internal/config"
	"github.com/ilyadubrovsky/bunnymq/pkg/bunnymq"
	"github.com/ilyadubrovsky/bunnymq/pkg/bunnymq/serializer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

type Globals struct {
	Config   string `name:"config" type:"path" env:"BUNNYMQ_CONFIG" help:"YAML configuration file, overridden by the environment"`
	Compress bool   `name:"compress" help:"zstd-compress message bodies (every client of the queue must agree)"`

	ctx      context.Context
	cfg      *config.Config
	registry *prometheus.Registry
}

type CLI struct {
	Globals

	Put     PutCommand     `cmd:"" help:"Publish a message."`
	Get     GetCommand     `cmd:"" help:"Pull one message and acknowledge it."`
	Len     LenCommand     `cmd:"" help:"Print the number of ready messages."`
	Clear   ClearCommand   `cmd:"" help:"Purge every ready message."`
	Delete  DeleteCommand  `cmd:"" help:"Delete the queue from the broker."`
	Consume ConsumeCommand `cmd:"" help:"Print messages as they arrive until interrupted."`
	Env     EnvCommand     `cmd:"" help:"List the supported environment variables."`
}

func main() {
	cli := new(CLI)
	kctx := kong.Parse(cli,
		kong.Name("bunnymq"),
		kong.Description("Durable RabbitMQ priority work queue"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)

	if err := loadEnv(); err != nil {
		kctx.FatalIfErrorf(err)
	}

	cfg, err := config.New(cli.Config)
	kctx.FatalIfErrorf(err)
	initLogger(cfg.LogLevel())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cli.Globals.ctx = ctx
	cli.Globals.cfg = cfg
	cli.Globals.registry = prometheus.NewRegistry()
	cli.Globals.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if err = kctx.Run(&cli.Globals); err != nil {
		log.Error().Err(err).Str("command", kctx.Command()).Msg("command failed")
		cancel()
		os.Exit(1)
	}
}

// Queue opens a client on the named queue carrying raw bodies.
func (g *Globals) Queue(name string, opts ...bunnymq.Option) (*bunnymq.Queue[[]byte], error) {
	var s serializer.Serializer[[]byte] = serializer.Raw{}
	if g.Compress {
		z, err := serializer.NewZstd[[]byte](serializer.Raw{})
		if err != nil {
			return nil, fmt.Errorf("serializer.NewZstd: %w", err)
		}
		s = z
	}

	opts = append(g.cfg.RabbitMQ.Options(), append([]bunnymq.Option{
		bunnymq.WithLogger(log.Logger),
		bunnymq.WithRegisterer(g.registry),
	}, opts...)...)

	q, err := bunnymq.New[[]byte](g.ctx, name, s, opts...)
	if err != nil {
		return nil, fmt.Errorf("bunnymq.New: %w", err)
	}

	return q, nil
}

// serveMetrics exposes the registry when an address is configured. The
// server stops with the context.
func (g *Globals) serveMetrics() {
	addr := g.cfg.Metrics.Addr
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-g.ctx.Done()
		_ = srv.Close()
	}()

	go func() {
		log.Info().Str("addr", addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}
