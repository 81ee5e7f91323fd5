package main

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"bruteguard/internal/platform/config"
	"bruteguard/internal/platform/health"
	"bruteguard/internal/platform/kafka/producer"
	"bruteguard/pkg/platform/audit"
	"bruteguard/pkg/platform/audit/publishers/security"
	kafkastore "bruteguard/pkg/platform/audit/store/kafka"
	postgresstore "bruteguard/pkg/platform/audit/store/postgres"
)

// auditSink is the durable side of the security audit trail. With the log
// sink emitter is nil and events only reach the structured log.
type auditSink struct {
	emitter   audit.Emitter
	publisher *security.Publisher
	producer  *producer.Producer
	checks    map[string]health.CheckFunc
}

func openAuditSink(cfg config.Config, b *backend, reg prometheus.Registerer, log *slog.Logger) (*auditSink, error) {
	s := &auditSink{checks: map[string]health.CheckFunc{}}

	var store audit.Store
	switch cfg.Audit.Sink {
	case config.AuditSinkLog:
		return s, nil
	case config.AuditSinkPostgres:
		store = postgresstore.New(b.postgres.Pgx())
	case config.AuditSinkKafka:
		p, err := producer.New(producer.DefaultConfig(cfg.Audit.KafkaBrokers), log)
		if err != nil {
			return nil, err
		}
		s.producer = p
		s.checks["kafka"] = p.Ping
		store = kafkastore.New(p, cfg.Audit.Topic)
	}

	s.publisher = security.New(store,
		security.WithLogger(log),
		security.WithMetrics(security.NewMetrics(reg)),
		security.WithBufferSize(cfg.Audit.BufferSize),
	)
	s.emitter = s.publisher
	log.Info("security audit sink ready", "sink", cfg.Audit.Sink)
	return s, nil
}

// Close drains buffered events before the producer goes away.
func (s *auditSink) Close(log *slog.Logger) {
	if s.publisher != nil {
		closeQuietly(log, "audit publisher", s.publisher.Close)
	}
	if s.producer != nil {
		closeQuietly(log, "kafka producer", s.producer.Close)
	}
}
