// Command auditor tails ticket events published by supportd over NATS and
// writes them to a structured log.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/deskline/support-chat/internal/chat"
	"github.com/deskline/support-chat/internal/config"
	"github.com/deskline/support-chat/internal/messaging"
	"github.com/deskline/support-chat/internal/observability"
)

func main() {
	var (
		companyID = pflag.String("company", "", "only audit events of this company (default: all)")
		natsURL   = pflag.String("nats-url", "", "NATS server URL (overrides NATS_URL)")
		logLevel  = pflag.String("log-level", "", "log level (overrides LOG_LEVEL)")
	)
	pflag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Logger.Level = *logLevel
	}
	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck
	logger = logger.Named("auditor")

	natsCfg := messaging.DefaultNATSConfig()
	if cfg.NATS.URL != "" {
		natsCfg.URL = cfg.NATS.URL
	}
	if *natsURL != "" {
		natsCfg.URL = *natsURL
	}
	natsCfg.Name = "supportd-auditor"

	natsClient, err := messaging.NewNATSClient(natsCfg, logger)
	if err != nil {
		logger.Fatal("failed to connect to NATS", zap.Error(err))
	}

	a := newAuditor(logger)
	if err := natsClient.SubscribeTicketEvents(*companyID, a.record); err != nil {
		logger.Fatal("failed to subscribe to ticket events", zap.Error(err))
	}

	logger.Info("auditor running",
		zap.String("nats_url", natsCfg.URL),
		zap.String("subject", messaging.CompanySubject(*companyID)))

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
			natsClient.Close()
			a.summary()
			return
		case <-ticker.C:
			a.summary()
		}
	}
}

// auditor logs each event and keeps per-kind counters.
type auditor struct {
	logger *zap.Logger
	counts *counter
}

func newAuditor(logger *zap.Logger) *auditor {
	return &auditor{logger: logger, counts: newCounter()}
}

func (a *auditor) record(subject string, ev chat.TicketEvent) {
	a.counts.add(ev.Type)

	fields := []zap.Field{
		zap.String("subject", subject),
		zap.String("type", ev.Type),
		zap.String("company_id", ev.CompanyID),
		zap.String("ticket_id", ev.TicketID),
	}
	switch ev.Type {
	case chat.EventMessageCreated:
		if ev.Message != nil {
			fields = append(fields,
				zap.String("sender", ev.Message.Sender),
				zap.String("sender_type", string(ev.Message.SenderType)),
				zap.Bool("media", ev.Message.MediaType != nil))
		}
	case chat.EventTicketCreated, chat.EventStatusUpdated:
		fields = append(fields, zap.String("status", string(ev.Status)))
	default:
		a.logger.Warn("unknown ticket event", fields...)
		return
	}
	a.logger.Info("ticket event", fields...)
}

func (a *auditor) summary() {
	snap := a.counts.snapshot()
	fields := make([]zap.Field, 0, len(snap))
	for typ, n := range snap {
		fields = append(fields, zap.Int64(typ, n))
	}
	a.logger.Info("event totals", fields...)
}
