//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // Registers the sqlite3 driver.

	"github.com/jovemexausto/zupa/config"
	"github.com/jovemexausto/zupa/event"
	"github.com/jovemexausto/zupa/graph"
	cpmem "github.com/jovemexausto/zupa/graph/checkpoint/inmemory"
	cpredis "github.com/jovemexausto/zupa/graph/checkpoint/redis"
	cpsqlite "github.com/jovemexausto/zupa/graph/checkpoint/sqlite"
	"github.com/jovemexausto/zupa/log"
	"github.com/jovemexausto/zupa/model"
	"github.com/jovemexausto/zupa/model/fake"
	"github.com/jovemexausto/zupa/model/openai"
	"github.com/jovemexausto/zupa/runner"
	"github.com/jovemexausto/zupa/speech"
	speechopenai "github.com/jovemexausto/zupa/speech/openai"
	"github.com/jovemexausto/zupa/store"
	"github.com/jovemexausto/zupa/store/inmemory"
	"github.com/jovemexausto/zupa/store/sqlite"
	"github.com/jovemexausto/zupa/telemetry"
	"github.com/jovemexausto/zupa/telemetry/metric"
	"github.com/jovemexausto/zupa/telemetry/prometheus"
	"github.com/jovemexausto/zupa/telemetry/trace"
	"github.com/jovemexausto/zupa/tool"
	"github.com/jovemexausto/zupa/tool/tools"
	"github.com/jovemexausto/zupa/transport"
	"github.com/jovemexausto/zupa/turn"
)

// checkpointStore is a checkpoint backend the process closes on exit.
type checkpointStore interface {
	graph.Store
	graph.LedgerReader
	DeleteThread(ctx context.Context, threadID string) error
	io.Closer
}

// memorySaver adds a no-op Close to the in-memory saver.
type memorySaver struct{ *cpmem.Saver }

func (memorySaver) Close() error { return nil }

// app holds everything built from the configuration.
type app struct {
	cfg        *config.Config
	store      store.Store
	saver      checkpointStore
	model      model.Model
	stt        speech.Transcriber
	tts        speech.Synthesizer
	sink       telemetry.Sink
	prometheus *prometheus.Sink
	toolSets   []tool.ToolSet
	resources  []runner.Resource
}

// wireApp builds the stores, providers and telemetry of cfg. The returned
// resources are started and stopped by the runtime in order.
func wireApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	var err error
	if a.store, a.saver, err = buildStorage(ctx, cfg.Storage); err != nil {
		return nil, err
	}
	a.toolSets = []tool.ToolSet{tools.Builtin(nil)}
	a.resources = append(a.resources,
		runner.Closer("store", a.store),
		runner.Closer("checkpoints", a.saver),
		runner.NewResource("tools", nil, func(context.Context) error {
			return tool.CloseSets(a.toolSets...)
		}),
	)
	a.model, a.stt, a.tts = buildProviders(cfg)
	if err := a.buildTelemetry(ctx); err != nil {
		_ = a.saver.Close()
		_ = a.store.Close()
		return nil, err
	}
	return a, nil
}

// close stops the resources, newest first, when the runtime never started.
func (a *app) close() error {
	var errs []error
	for i := len(a.resources) - 1; i >= 0; i-- {
		errs = append(errs, a.resources[i].Stop(context.Background()))
	}
	return errors.Join(errs...)
}

// buildStorage opens the repository and checkpoint backends. A sqlite
// repository and sqlite checkpoints share one database.
func buildStorage(ctx context.Context, cfg config.StorageConfig) (store.Store, checkpointStore, error) {
	var (
		st  store.Store
		sq  *sqlite.Store
		err error
	)
	switch cfg.Driver {
	case config.DriverMemory:
		st = inmemory.New()
	case config.DriverSQLite:
		if sq, err = sqlite.Open(cfg.DSN); err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		st = sq
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
	saver, err := buildSaver(ctx, cfg, sq)
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	return st, saver, nil
}

// buildSaver opens the checkpoint backend. shared, when not nil, is the
// sqlite repository whose database sqlite checkpoints reuse.
func buildSaver(ctx context.Context, cfg config.StorageConfig, shared *sqlite.Store) (checkpointStore, error) {
	switch cfg.Checkpoints {
	case config.DriverMemory:
		return memorySaver{cpmem.NewSaver()}, nil
	case config.DriverSQLite:
		if shared == nil {
			var err error
			if shared, err = sqlite.Open(cfg.DSN); err != nil {
				return nil, fmt.Errorf("open sqlite checkpoints: %w", err)
			}
			saver, err := cpsqlite.NewSaver(shared.DB())
			if err != nil {
				_ = shared.Close()
				return nil, err
			}
			return closeBoth{saver, shared}, nil
		}
		return cpsqlite.NewSaver(shared.DB())
	case config.DriverRedis:
		var opts []cpredis.Option
		if cfg.CheckpointTTL > 0 {
			opts = append(opts, cpredis.WithTTL(cfg.CheckpointTTL))
		}
		saver, err := cpredis.NewSaverFromURL(ctx, cfg.RedisURL, opts...)
		if err != nil {
			return nil, fmt.Errorf("open redis checkpoints: %w", err)
		}
		return saver, nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Checkpoints)
	}
}

// closeBoth is a sqlite saver owning its database.
type closeBoth struct {
	*cpsqlite.Saver
	db io.Closer
}

func (c closeBoth) Close() error {
	return errors.Join(c.Saver.Close(), c.db.Close())
}

// buildProviders returns the model and speech providers. The echo provider
// answers with the user's own words and has no speech.
func buildProviders(cfg *config.Config) (model.Model, speech.Transcriber, speech.Synthesizer) {
	mc := cfg.Model
	if mc.Provider == config.ProviderEcho {
		echo := fake.New(fake.Reply{Fn: echoReply})
		echo.Name = "echo"
		echo.Repeat = true
		return echo, nil, nil
	}
	llm := openai.New(mc.Name, openai.WithAPIKey(mc.APIKey), openai.WithBaseURL(mc.BaseURL))
	stt := speechopenai.NewTranscriber(
		speechopenai.WithAPIKey(mc.APIKey),
		speechopenai.WithBaseURL(mc.BaseURL),
		speechopenai.WithModel(mc.STTModel),
	)
	tts := speechopenai.NewSynthesizer(
		speechopenai.WithAPIKey(mc.APIKey),
		speechopenai.WithBaseURL(mc.BaseURL),
		speechopenai.WithModel(mc.TTSModel),
		speechopenai.WithVoice(cfg.Agent.Voice),
	)
	return llm, stt, tts
}

func echoReply(_ context.Context, req *model.Request) (*model.Response, error) {
	last := ""
	for _, m := range req.Messages {
		if m.Role == model.RoleUser {
			last = m.Content
		}
	}
	return &model.Response{Content: "You said: " + strings.TrimSpace(last), FinishReason: model.FinishReasonStop}, nil
}

// buildTelemetry selects the node telemetry sink.
func (a *app) buildTelemetry(ctx context.Context) error {
	tc := a.cfg.Telemetry
	switch tc.Sink {
	case config.SinkNone:
		a.sink = telemetry.Nop
	case config.SinkLog:
		a.sink = telemetry.NewLogSink(log.Default)
	case config.SinkOTel:
		mopts := []metric.Option{metric.WithProtocol(tc.OTLPProtocol)}
		topts := []trace.Option{trace.WithServiceName(a.cfg.Agent.Name), trace.WithProtocol(tc.OTLPProtocol)}
		if tc.OTLPEndpoint != "" {
			mopts = append(mopts, metric.WithEndpoint(tc.OTLPEndpoint))
			topts = append(topts, trace.WithEndpoint(tc.OTLPEndpoint))
		}
		mopts = append(mopts, metric.WithServiceName(a.cfg.Agent.Name))
		stopMetrics, err := metric.Start(ctx, mopts...)
		if err != nil {
			return fmt.Errorf("start metrics: %w", err)
		}
		stopTraces, err := trace.Start(ctx, topts...)
		if err != nil {
			_ = stopMetrics()
			return fmt.Errorf("start traces: %w", err)
		}
		sink, err := metric.NewSink(nil)
		if err != nil {
			_ = stopTraces()
			_ = stopMetrics()
			return err
		}
		a.sink = telemetry.MultiSink{sink, telemetry.NewLogSink(log.Default)}
		a.resources = append(a.resources, runner.NewResource("otel", nil, func(context.Context) error {
			return errors.Join(stopTraces(), stopMetrics())
		}))
	case config.SinkPrometheus:
		a.prometheus = prometheus.New(a.cfg.Agent.Name)
		a.sink = a.prometheus
		a.resources = append(a.resources, metricsServer(tc.PrometheusAddr, a.prometheus.Handler()))
	default:
		return fmt.Errorf("unknown telemetry sink %q", tc.Sink)
	}
	return nil
}

// metricsServer serves handler on addr at /metrics while the runtime runs.
func metricsServer(addr string, handler http.Handler) runner.Resource {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return runner.NewResource("metrics",
		func(context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Errorf("metrics server: %v", err)
				}
			}()
			log.Infof("serving metrics on %s/metrics", addr)
			return nil
		},
		srv.Shutdown,
	)
}

// turnConfig maps the agent configuration onto the pipeline.
func turnConfig(cfg *config.Config) turn.Config {
	ac := cfg.Agent
	return turn.Config{
		AgentName:          ac.Name,
		SystemPrompt:       ac.SystemPrompt,
		WelcomeMessage:     ac.WelcomeMessage,
		SingleUserID:       ac.SingleUserID,
		FallbackReply:      ac.FallbackReply,
		MaxToolIterations:  ac.MaxToolIterations,
		SessionIdleTimeout: ac.SessionIdleTimeout(),
		HistoryWindow:      ac.HistoryWindow,
		SummaryWindow:      ac.SummaryWindow,
		Language:           ac.Language,
		Voice:              ac.Voice,
		AudioDir:           ac.AudioDir,
		Retry:              cfg.Retry.Policy(),
		Timeouts: turn.Timeouts{
			LLM:       cfg.Timeouts.LLM,
			STT:       cfg.Timeouts.STT,
			TTS:       cfg.Timeouts.TTS,
			Transport: cfg.Timeouts.Transport,
			Tool:      cfg.Timeouts.Tool,
		},
	}
}

// newPipeline builds the turn pipeline over t with the app's tool sets.
func (a *app) newPipeline(ctx context.Context, t transport.Transport) (*turn.Pipeline, error) {
	catalog, err := tool.NewCatalog(tool.FromSets(ctx, a.toolSets...)...)
	if err != nil {
		return nil, err
	}
	deps := turn.Deps{
		Store:       a.store,
		Model:       a.model,
		Transport:   t,
		Transcriber: a.stt,
		Synthesizer: a.tts,
		Tools:       catalog,
		Telemetry:   a.sink,
	}
	if rl := a.cfg.Agent.RateLimit; rl.PerMinute > 0 {
		deps.Limiter = turn.NewRateLimiter(rl.PerMinute, rl.Burst)
	}
	return turn.New(turnConfig(a.cfg), deps, graph.WithMaxSteps(a.cfg.Agent.MaxSteps))
}

// newRuntime wires a runtime around p. Prometheus, when selected, also
// tracks inbound outcomes and gate occupancy.
func (a *app) newRuntime(p *turn.Pipeline) (*runner.Runtime, error) {
	rcfg := runner.DefaultConfig().WithMaxConcurrent(a.cfg.Agent.MaxInboundConcurrency)
	if a.cfg.Agent.BusyReply != "" {
		rcfg = rcfg.WithBusyReply(a.cfg.Agent.BusyReply)
	}
	rt, err := runner.New(p, a.saver, runner.WithConfig(rcfg), runner.WithResources(a.resources...))
	if err != nil {
		return nil, err
	}
	if prom := a.prometheus; prom != nil {
		record := func(outcome string) event.Handler {
			return func(context.Context, event.Event) {
				prom.RecordInbound(outcome)
				prom.SetInFlight(int64(rt.Gate().InFlight()))
			}
		}
		rt.On(event.TurnCompleted, record("completed"))
		rt.On(event.InboundFailed, record("failed"))
		rt.On(event.InboundOverloaded, record("overloaded"))
	}
	return rt, nil
}
