package di

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"TeeRelay/internal/domain/models"
	"TeeRelay/internal/domain/repository"
	"TeeRelay/internal/handler/api"
	"TeeRelay/internal/handler/ws"
	mid "TeeRelay/internal/middleware"
	internalrepo "TeeRelay/internal/repository"
	"TeeRelay/internal/service/attestation"
	"TeeRelay/internal/service/enclave"
	"TeeRelay/internal/service/gaspool"
	"TeeRelay/internal/service/ledger"
	"TeeRelay/internal/service/ratelimit"
	"TeeRelay/internal/service/sponsor"
	"TeeRelay/internal/service/submitter"
	"TeeRelay/internal/service/txbuilder"
	"TeeRelay/internal/service/verifier"
	"TeeRelay/internal/usecase"
	"TeeRelay/pkg/cache"
	pkgch "TeeRelay/pkg/clickhouse"
	"TeeRelay/pkg/config"
	xhttp "TeeRelay/pkg/http"
	pkgkafka "TeeRelay/pkg/kafka"
	"TeeRelay/pkg/logger"
	"TeeRelay/pkg/metrics"
	"TeeRelay/pkg/nitro"
	"TeeRelay/pkg/queue"
	"TeeRelay/pkg/server"
	"TeeRelay/pkg/sui"
)

// ProvideLogger creates the process logger from the logging section.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Output:  cfg.Logging.Output,
		Service: "teerelay",
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New(nil)
}

// ProvideRedis connects to Redis when enabled; nil otherwise.
func ProvideRedis(cfg *config.Config) (*cache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
		cache.WithRedisDialTimeout(cfg.Redis.DialTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

// ProvideSharedCache is the store for state every relay instance must agree on: gas-coin
// locks, sponsor budget counters, rotation token ids.
func ProvideSharedCache(rc *cache.RedisCache) cache.Service {
	if rc != nil {
		return rc
	}
	return cache.NewMemoryCache()
}

// ProvideResultCache keeps execution results in process memory in front of the shared cache.
func ProvideResultCache(shared cache.Service) *cache.LayeredCache {
	return cache.NewLayeredCache(shared, cache.WithLayeredMemorySize(10_000), cache.WithLayeredMemoryTTL(time.Minute))
}

func ProvideSpentSet(cfg *config.Config, rc *cache.RedisCache) repository.SpentSet {
	if cfg.Quote.SpentBackend == "redis" && rc != nil {
		return verifier.NewCacheSpentSet(rc)
	}
	return verifier.NewMemorySpentSet(cfg.Quote.SpentCapacity, cfg.Quote.ValidityWindow+cfg.Quote.ClockSkew)
}

func ProvideEnclaveProxy(cfg *config.Config, l *logger.Logger, m repository.Metrics) *enclave.Proxy {
	client := xhttp.NewClient(
		xhttp.WithTimeout(cfg.Enclave.Timeout),
		xhttp.WithRateLimit(cfg.Enclave.RateLimit, cfg.Enclave.Burst),
	)
	return enclave.NewProxy(cfg.Enclave.BaseURL, client, enclave.WithLogger(l), enclave.WithMetrics(m))
}

func ProvideLedger(cfg *config.Config, l *logger.Logger, m repository.Metrics) *ledger.Client {
	client := xhttp.NewClient(xhttp.WithTimeout(cfg.Chain.Timeout))
	return ledger.NewClient(cfg.Chain.RPCURL, client,
		ledger.WithFinality(cfg.Chain.FinalityTimeout, cfg.Chain.PollInterval),
		ledger.WithLogger(l),
		ledger.WithMetrics(m),
	)
}

// ProvideKafkaProducer creates a Kafka producer; nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config, l *logger.Logger) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithDefaultTopic(cfg.Kafka.Topic),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.Linger),
		pkgkafka.WithWriteTimeout(cfg.Kafka.Producer.WriteTimeout),
		pkgkafka.WithProducerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	if cfg.Logging.ErrorTopic != "" {
		l.AddCollector(&logger.CollectionConfig{
			TimeInterval:   cfg.Logging.FlushInterval,
			CountThreshold: cfg.Logging.CountThreshold,
			Topic:          cfg.Logging.ErrorTopic,
			Publisher:      producer,
		})
	}
	return producer, nil
}

// ProvideKafkaConsumer creates the audit consumer; nil unless both Kafka and ClickHouse are on.
func ProvideKafkaConsumer(cfg *config.Config, l *logger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled || !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.NewHookChain(pkgkafka.TracingHook(), pkgkafka.LoggingHook(l, time.Second)))
	return consumer, nil
}

// ProvideClickHouseClient creates a ClickHouse client; nil when disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideAuditStorage creates the relay_events table and its storage; nil without ClickHouse.
func ProvideAuditStorage(ch *pkgch.Client, cfg *config.Config) (repository.AuditStorage, error) {
	if ch == nil {
		return nil, nil
	}
	s := internalrepo.NewClickHouseAuditStorage(ch, cfg.ClickHouse.Database)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Init(ctx); err != nil {
		return nil, fmt.Errorf("audit schema: %w", err)
	}
	return s, nil
}

// ProvideAttestationStore creates the attestation_records table; nil without ClickHouse.
func ProvideAttestationStore(ch *pkgch.Client, cfg *config.Config, l *logger.Logger) (repository.AttestationStore, error) {
	if ch == nil {
		return nil, nil
	}
	s := internalrepo.NewCHAttestationStore(ch, cfg.ClickHouse.Database)
	s.SetLogger(l)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Init(ctx, cfg.ClickHouse.Database); err != nil {
		return nil, fmt.Errorf("attestation schema: %w", err)
	}
	return s, nil
}

// ProvideEventSink picks where batched events go: Kafka when enabled, else straight to
// ClickHouse, else nowhere (feed only).
func ProvideEventSink(cfg *config.Config, producer *pkgkafka.Producer, audit repository.AuditStorage) mid.BatchSink {
	if !cfg.Events.Enabled {
		return nil
	}
	if producer != nil {
		return internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.Topic)
	}
	if audit != nil {
		return mid.StorageSink{Storage: audit}
	}
	return nil
}

func ProvideFeed(l *logger.Logger) *ws.Feed {
	return ws.NewFeed(ws.WithLogger(l))
}

func ProvideEventPipeline(cfg *config.Config, sink mid.BatchSink, m repository.Metrics, feed *ws.Feed, l *logger.Logger) *mid.EventPipeline {
	return mid.NewEventPipeline(sink, m,
		mid.WithBufferSize(cfg.Events.BufferSize),
		mid.WithBatching(cfg.Events.BatchSize, cfg.Events.BatchTimeout),
		mid.WithListener(feed),
		mid.WithPipelineLogger(l),
	)
}

// ProvideRegistry builds the attestation registry from the configured initial measurements.
// Rotation is enabled by a governance key, registration by a Nitro root, anchoring by the
// anchor key.
func ProvideRegistry(
	cfg *config.Config,
	shared cache.Service,
	store repository.AttestationStore,
	chain *ledger.Client,
	events *mid.EventPipeline,
	m repository.Metrics,
	l *logger.Logger,
) (*attestation.Registry, error) {
	initial, err := parsePCRs(cfg.Attestation.InitialPCRs.PCR0, cfg.Attestation.InitialPCRs.PCR1, cfg.Attestation.InitialPCRs.PCR2)
	if err != nil {
		return nil, fmt.Errorf("attestation.initial_pcrs: %w", err)
	}
	trusted := make([]ed25519.PublicKey, 0, len(cfg.Attestation.TrustedEnclaveKeys))
	for i, k := range cfg.Attestation.TrustedEnclaveKeys {
		pk, err := decodeHex(k)
		if err != nil || len(pk) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("attestation.trusted_enclave_keys[%d] is not a hex ed25519 key", i)
		}
		trusted = append(trusted, ed25519.PublicKey(pk))
	}

	var auth *attestation.Authorizer
	if cfg.Attestation.GovernanceKey != "" {
		gk, err := decodeHex(cfg.Attestation.GovernanceKey)
		if err != nil || len(gk) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("attestation.governance_public_key is not a hex ed25519 key")
		}
		auth = attestation.NewAuthorizer(ed25519.PublicKey(gk), shared)
	}

	opts := []attestation.Option{
		attestation.WithEvents(events),
		attestation.WithMetrics(m),
		attestation.WithLogger(l),
	}
	if store != nil {
		opts = append(opts, attestation.WithStore(store))
	}
	if cfg.Attestation.NitroRootPEM != "" {
		pem, err := readPEM(cfg.Attestation.NitroRootPEM)
		if err != nil {
			return nil, err
		}
		docs, err := nitro.NewVerifierFromPEM(pem)
		if err != nil {
			return nil, fmt.Errorf("attestation.nitro_root_pem: %w", err)
		}
		opts = append(opts, attestation.WithDocumentVerifier(docs))
	}
	if cfg.Attestation.AnchorEnabled {
		anchor, err := provideAnchor(cfg, chain, l)
		if err != nil {
			return nil, err
		}
		opts = append(opts, attestation.WithAnchor(anchor))
	}
	return attestation.NewRegistry(initial, auth, trusted, opts...), nil
}

func provideAnchor(cfg *config.Config, chain *ledger.Client, l *logger.Logger) (*ledger.Anchor, error) {
	seed, err := decodeHex(cfg.Secrets.AnchorPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("ANCHOR_PRIVATE_KEY: %w", err)
	}
	var key ed25519.PrivateKey
	switch len(seed) {
	case ed25519.SeedSize:
		key = ed25519.NewKeyFromSeed(seed)
	case ed25519.PrivateKeySize:
		key = ed25519.PrivateKey(seed)
	default:
		return nil, fmt.Errorf("ANCHOR_PRIVATE_KEY has %d bytes", len(seed))
	}
	pkg := cfg.Attestation.EnclavePackage
	if pkg == "" {
		pkg = cfg.Chain.PackageID
	}
	pkgID, err := sui.ParseAddress(pkg)
	if err != nil {
		return nil, fmt.Errorf("attestation.enclave_package: %w", err)
	}
	cfgID, err := sui.ParseAddress(cfg.Attestation.EnclaveConfig.ID)
	if err != nil {
		return nil, fmt.Errorf("attestation.enclave_config.id: %w", err)
	}
	capID, err := sui.ParseAddress(cfg.Attestation.EnclaveCap)
	if err != nil {
		return nil, fmt.Errorf("attestation.enclave_cap: %w", err)
	}
	return ledger.NewAnchor(chain, key, pkgID,
		sui.Shared(cfgID, cfg.Attestation.EnclaveConfig.InitialVersion, true),
		capID, cfg.Chain.GasPrice, cfg.Chain.GasBudget, l), nil
}

func ProvideVerifier(cfg *config.Config, registry *attestation.Registry, spent repository.SpentSet, m repository.Metrics, l *logger.Logger) *verifier.Verifier {
	return verifier.New(registry, spent,
		verifier.WithWindow(cfg.Quote.ValidityWindow, cfg.Quote.ClockSkew),
		verifier.WithMetrics(m),
		verifier.WithLogger(l),
	)
}

func ProvideBuilder(cfg *config.Config, m repository.Metrics, l *logger.Logger) (*txbuilder.Builder, error) {
	layout, err := txbuilder.LayoutFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return txbuilder.New(layout, txbuilder.WithLogger(l), txbuilder.WithMetrics(m)), nil
}

func ProvideGasPool(cfg *config.Config, chain *ledger.Client, shared cache.Service, l *logger.Logger) (*gaspool.Pool, error) {
	owner, err := sui.ParseAddress(cfg.Sponsor.Address)
	if err != nil {
		return nil, fmt.Errorf("sponsor.address: %w", err)
	}
	return gaspool.New(chain, shared, owner, cfg.Chain.GasPrice, cfg.Chain.GasBudget,
		gaspool.WithLockTTL(cfg.Sponsor.GasLockTTL),
		gaspool.WithLogger(l),
	), nil
}

// ProvideSponsor returns the configured signer, capped by the hourly budget when one is set.
func ProvideSponsor(cfg *config.Config, shared cache.Service, m repository.Metrics, l *logger.Logger) (sponsor.Signer, error) {
	var signer sponsor.Signer
	switch cfg.Sponsor.Mode {
	case "local":
		local, err := sponsor.NewLocal(cfg.Secrets.SponsorPrivateKey, l)
		if err != nil {
			return nil, err
		}
		if local.Address().String() != mustNormalize(cfg.Sponsor.Address) {
			return nil, fmt.Errorf("SPONSOR_PRIVATE_KEY controls %s, sponsor.address is %s", local.Address(), cfg.Sponsor.Address)
		}
		signer = local
	default:
		client := xhttp.NewClient(xhttp.WithTimeout(cfg.Sponsor.Timeout))
		signer = sponsor.NewGasStation(cfg.Sponsor.URL, cfg.Secrets.SponsorAccessKey, client,
			sponsor.WithGasStationLogger(l),
			sponsor.WithGasStationMetrics(m),
		)
	}
	if cfg.Sponsor.BudgetPerHour > 0 {
		signer = sponsor.NewBudgeted(signer, shared, cfg.Sponsor.BudgetPerHour)
	}
	return signer, nil
}

// ProvideQueue creates the confirmation queue; nil without Redis.
func ProvideQueue(cfg *config.Config, rc *cache.RedisCache, l *logger.Logger) *queue.RedisQueue {
	if rc == nil {
		return nil
	}
	return queue.NewRedisQueue(l, queue.QueueConfig{
		Workers:    cfg.Submission.Workers,
		RetryLimit: cfg.Submission.RetryLimit,
		RetryDelay: cfg.Submission.RetryDelay,
	}, rc.Client(), queue.WithKeyPrefix(cfg.Submission.ConfirmQueue))
}

// ProvideSubmitter wires the result cache and, with a queue, confirmation of timed-out
// submissions. The confirm job is registered on the queue here.
func ProvideSubmitter(
	cfg *config.Config,
	chain *ledger.Client,
	results *cache.LayeredCache,
	q *queue.RedisQueue,
	events *mid.EventPipeline,
	m repository.Metrics,
	l *logger.Logger,
) *submitter.Submitter {
	opts := []submitter.Option{
		submitter.WithResultCache(results, cfg.Submission.ResultTTL),
		submitter.WithTimeout(cfg.Submission.Timeout),
		submitter.WithMetrics(m),
		submitter.WithLogger(l),
	}
	if q != nil {
		opts = append(opts, submitter.WithConfirmations(submitter.NewQueueConfirmer(q)))
	}
	s := submitter.New(chain, opts...)
	if q != nil {
		q.RegisterJob(submitter.NewConfirmJob(chain, s, events, l))
	}
	return s
}

func ProvideLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.Limits.BuildsPerSecond, cfg.Limits.BuildBurst)
}

func ProvideRelayService(
	cfg *config.Config,
	proxy *enclave.Proxy,
	v *verifier.Verifier,
	b *txbuilder.Builder,
	pool *gaspool.Pool,
	signer sponsor.Signer,
	s *submitter.Submitter,
	chain *ledger.Client,
	limiter *ratelimit.Limiter,
	events *mid.EventPipeline,
	m repository.Metrics,
	l *logger.Logger,
) (*usecase.RelayService, error) {
	vaultLedger, err := sui.ParseAddress(cfg.Chain.Objects.VaultLedger.ID)
	if err != nil {
		return nil, fmt.Errorf("chain.objects.vault_ledger.id: %w", err)
	}
	return usecase.NewRelayService(usecase.RelayDeps{
		Enclave:     proxy,
		Verifier:    v,
		Builder:     b,
		Gas:         pool,
		Sponsor:     signer,
		Submitter:   s,
		Ledger:      chain,
		VaultLedger: vaultLedger,
		GasOwner:    pool.Owner(),
		Limiter:     limiter,
		Events:      events,
		Metrics:     m,
		Logger:      l,
	}), nil
}

// ProvideAuditHandler registers the audit sink on the consumer; nil without one.
func ProvideAuditHandler(cfg *config.Config, consumer *pkgkafka.Consumer, audit repository.AuditStorage, m repository.Metrics) *usecase.AuditHandler {
	if consumer == nil || audit == nil {
		return nil
	}
	h := usecase.NewAuditHandler(cfg.Kafka.Topic, audit, m)
	consumer.RegisterHandler(h)
	return h
}

func ProvideHealthChecks(proxy *enclave.Proxy, rc *cache.RedisCache, ch *pkgch.Client) map[string]api.HealthCheck {
	checks := map[string]api.HealthCheck{"enclave": proxy.Health}
	if rc != nil {
		checks["redis"] = rc.Health
	}
	if ch != nil {
		checks["clickhouse"] = ch.Health
	}
	return checks
}

func ProvideHTTPServer(
	cfg *config.Config,
	relay *usecase.RelayService,
	registry *attestation.Registry,
	audit repository.AuditStorage,
	feed *ws.Feed,
	checks map[string]api.HealthCheck,
	l *logger.Logger,
) *xhttp.Server {
	handlers := []xhttp.Handler{
		api.NewRelayHandler(l, relay),
		api.NewAttestationHandler(l, registry, audit),
		api.NewHealthHandler(checks),
		feed,
	}
	opts := []xhttp.ServerOption{
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithSlowThreshold(cfg.Server.SlowThreshold),
		xhttp.WithLogger(l),
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		opts = append(opts, xhttp.WithCORS(cfg.Server.CORSOrigins))
	}
	return xhttp.NewServer(handlers, opts...)
}

// ProvideApp assembles the lifecycle: restore attestation history, then run the HTTP
// server, event pipeline, confirmation queue and audit consumer.
func ProvideApp(
	cfg *config.Config,
	srv *xhttp.Server,
	registry *attestation.Registry,
	pipeline *mid.EventPipeline,
	q *queue.RedisQueue,
	consumer *pkgkafka.Consumer,
	_ *usecase.AuditHandler,
	feed *ws.Feed,
	producer *pkgkafka.Producer,
	rc *cache.RedisCache,
	ch *pkgch.Client,
	l *logger.Logger,
) *server.App {
	opts := []server.Option{
		server.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		server.WithStartHook(registry.Restore),
		server.WithComponent("http", srv.Run),
		server.WithComponent("event_pipeline", pipeline.Run),
	}
	if q != nil {
		opts = append(opts, server.WithComponent("confirm_queue", q.Run))
	}
	if consumer != nil {
		opts = append(opts, server.WithComponent("audit_consumer", consumer.Run))
	}

	// closed in reverse: feed first, then the stores the pipeline drained into
	if ch != nil {
		opts = append(opts, server.WithCloser("clickhouse", ch.Close))
	}
	if rc != nil {
		opts = append(opts, server.WithCloser("redis", rc.Close))
	}
	if producer != nil {
		opts = append(opts, server.WithCloser("kafka_producer", producer.Close))
	}
	opts = append(opts,
		server.WithCloser("error_collector", func() error { l.RemoveCollector(); return nil }),
		server.WithCloser("feed", func() error { feed.Close(); return nil }),
	)
	return server.New(l, opts...)
}

func parsePCRs(pcr0, pcr1, pcr2 string) (models.PCRs, error) {
	var p models.PCRs
	for i, f := range []struct {
		src string
		dst *models.HexBytes
	}{{pcr0, &p.PCR0}, {pcr1, &p.PCR1}, {pcr2, &p.PCR2}} {
		if err := f.dst.UnmarshalText([]byte(f.src)); err != nil {
			return models.PCRs{}, fmt.Errorf("pcr%d: %w", i, err)
		}
	}
	return p, nil
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return hex.DecodeString(s)
}

// readPEM accepts inline PEM or a file path.
func readPEM(v string) ([]byte, error) {
	if strings.HasPrefix(strings.TrimSpace(v), "-----BEGIN") {
		return []byte(v), nil
	}
	b, err := os.ReadFile(v)
	if err != nil {
		return nil, fmt.Errorf("read nitro root: %w", err)
	}
	return b, nil
}

func mustNormalize(addr string) string {
	a, err := sui.ParseAddress(addr)
	if err != nil {
		return addr
	}
	return a.String()
}
