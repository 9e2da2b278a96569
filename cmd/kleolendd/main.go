package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"kleolend/config"
	"kleolend/core"
	"kleolend/core/events"
	"kleolend/integrations/webhooks"
	"kleolend/observability/logging"
	"kleolend/rpc"
	"kleolend/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("KLEOLEND_ENV"))
	logger := logging.Setup("kleolendd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	node, err := core.NewNode(db, cfg)
	if err != nil {
		logger.Error("Failed to initialise node", slog.Any("error", err))
		os.Exit(1)
	}
	emitters := []events.Emitter{logEmitter{logger: logger}}
	if strings.TrimSpace(cfg.WebhookURL) != "" {
		dispatcher, err := webhooks.NewDispatcher(cfg.WebhookURL, []byte(cfg.WebhookSecret))
		if err != nil {
			logger.Error("Failed to initialise webhook dispatcher", slog.Any("error", err))
			os.Exit(1)
		}
		defer dispatcher.Close()
		emitters = append(emitters, dispatcher)
	}
	node.SetEmitter(fanoutEmitter(emitters))

	logger.Info("ledger node ready",
		slog.String("dataDir", cfg.DataDir),
		slog.String("rpcAddress", cfg.RPCAddress),
		logging.MaskField("adminToken", cfg.AdminToken),
		logging.MaskField("webhookSecret", cfg.WebhookSecret))

	server := rpc.NewServer(node, cfg.AdminToken)
	server.SetRateLimit(cfg.RPCRateLimitPerMinute, cfg.RPCRateLimitBurst)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

// fanoutEmitter delivers every event to each configured sink.
type fanoutEmitter []events.Emitter

func (f fanoutEmitter) Emit(evt events.Event) {
	for _, emitter := range f {
		emitter.Emit(evt)
	}
}

// logEmitter forwards ledger events to the structured log.
type logEmitter struct {
	logger *slog.Logger
}

func (l logEmitter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	attrs := []any{slog.String("event", evt.EventType())}
	if rec, ok := evt.(*events.Record); ok {
		for key, value := range rec.Attributes {
			attrs = append(attrs, slog.String(key, value))
		}
	}
	l.logger.Info("ledger event", attrs...)
}
