package main

import (
	"context"
	"time"

	"gudagent/internal/chat"
	agentconfig "gudagent/internal/config"
	"gudagent/internal/gudcal"
	"gudagent/internal/guddesk"
	"gudagent/internal/gudform"
	"gudagent/internal/handlers"
	"gudagent/internal/knowledge"
	"gudagent/internal/mcpspoke"
	"gudagent/pkg/config"
	"gudagent/pkg/llm"
	"gudagent/pkg/logging"
	"gudagent/pkg/monitoring"
	"gudagent/pkg/redis"
	"gudagent/pkg/server"
	"gudagent/pkg/version"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
)

const serviceName = "gud-agent"

func main() {
	logger := logging.NewLoggerWithService(serviceName)
	config.LoadEnv(logger)

	logger.WithField("version", version.Version).Info("Starting GudDesk support agent")

	cfg := agentconfig.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	desk, err := guddesk.NewClient(guddesk.Config{
		BaseURL: cfg.GudDeskURL,
		APIKey:  cfg.GudDeskAPIKey,
		Logger:  logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create GudDesk client")
	}

	healthChecker := monitoring.NewHealthChecker(serviceName, version.Version)
	metricsCollector := monitoring.NewMetricsCollector(serviceName, version.Version, version.GitCommit)

	// Knowledge base: published GudDesk articles first, then the crawled file.
	var sources []knowledge.DocumentSource
	if cfg.KnowledgeRemote {
		sources = append(sources, knowledge.RemoteArticles{Store: desk})
	}
	sources = append(sources, knowledge.LocalFile{Path: cfg.KnowledgePath})
	knowledgeHealth := knowledge.NewHealthTracker()
	index := knowledge.NewIndex(sources,
		knowledge.WithStaleAfter(cfg.KnowledgeRefreshInterval),
		knowledge.WithReloadTimeout(cfg.KnowledgeReloadTimeout),
		knowledge.WithHealthTracker(knowledgeHealth),
		knowledge.WithIndexLogger(logger),
	)
	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	if err := index.Refresh(initCtx); err != nil {
		logger.WithError(err).Warn("Knowledge base unavailable at startup; answering without it until a refresh succeeds")
	} else {
		logger.WithFields(logging.Fields{
			"source":   index.Source(),
			"sections": index.SectionCount(),
		}).Info("Knowledge base loaded")
	}
	cancelInit()

	scheduler := knowledge.NewRefreshScheduler(knowledge.SchedulerConfig{
		Target:   index,
		Interval: cfg.KnowledgeRefreshInterval,
		Logger:   logger,
	})
	scheduler.Start(context.Background())

	var history chat.HistoryStore = chat.NewMemoryHistory()
	var redisClient *goredis.Client
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := redis.NewClientFromURL(ctx, cfg.RedisURL)
		cancel()
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable; keeping conversation history in memory")
		} else {
			redisClient = client
			history = chat.NewRedisHistory(client)
			healthChecker.AddCheck("redis", monitoring.PingHealthCheck("redis", redis.Pinger{Client: client}))
			logger.Info("Conversation history stored in Redis")
		}
	}

	provider, err := llm.NewProvider(cfg.LLM)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create LLM provider")
	}

	toolbox := chat.NewToolbox(chat.ToolboxConfig{
		Knowledge: index,
		Calendar:  newCalendar(cfg, logger),
		Forms:     newLeadForm(cfg, logger),
		Logger:    logger,
	})
	orchestrator := chat.NewOrchestrator(chat.OrchestratorConfig{
		LLMProvider: provider,
		Tools:       toolbox,
		Logger:      logger,
		MaxRounds:   cfg.MaxToolRounds,
	})
	agent := chat.NewAgent(chat.AgentConfig{
		Orchestrator: orchestrator,
		History:      history,
		Replier:      desk,
		Logger:       logger,
	})

	webhook := handlers.NewWebhookHandler(handlers.WebhookConfig{
		Processor:      agent,
		Secret:         cfg.WebhookSecret,
		Logger:         logger,
		ProcessTimeout: cfg.ProcessTimeout,
	})

	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"GUDDESK_URL":     cfg.GudDeskURL,
		"GUDDESK_API_KEY": cfg.GudDeskAPIKey,
		"LLM_MODEL":       cfg.LLM.Model,
	}))
	healthChecker.AddCheck("integrations", monitoring.OptionalConfigurationHealthCheck(map[string]string{
		"GUDCAL_URL":      cfg.GudCalURL,
		"GUDFORM_URL":     cfg.GudFormURL,
		"GUDFORM_FORM_ID": cfg.GudFormFormID,
	}))
	healthChecker.AddCheck("knowledge", monitoring.CountHealthCheck("knowledge sections", index.SectionCount))
	healthChecker.AddCheck("knowledge_sources", monitoring.FailingHealthCheck("knowledge sources", knowledgeHealth.Failing))

	router := server.SetupServiceRouter(logger, serviceName, healthChecker, metricsCollector)
	webhook.Register(router)
	router.Any("/mcp", gin.WrapH(mcpspoke.Handler(mcpspoke.NewServer(mcpspoke.Config{
		Index:  index,
		Logger: logger,
	}))))

	registered := registerWebhook(desk, webhook, cfg.WebhookURL(), logger)

	serverConfig := server.DefaultConfig(serviceName, cfg.Port)
	serverConfig.OnShutdown = func(ctx context.Context) {
		if registered {
			if err := desk.UnregisterWebhook(ctx, cfg.WebhookURL()); err != nil {
				logger.WithError(err).Warn("Failed to unregister webhook")
			} else {
				logger.Info("Webhook unregistered")
			}
		}
		if err := webhook.Wait(ctx); err != nil {
			logger.WithError(err).Warn("Gave up waiting for in-flight messages")
		}
		scheduler.Stop()
		if redisClient != nil {
			_ = redisClient.Close()
		}
	}

	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}

// newCalendar returns nil unless GudCal is fully configured; the booking
// tools then report that scheduling is unavailable.
func newCalendar(cfg agentconfig.Config, logger logging.Logger) chat.Calendar {
	if !cfg.GudCalConfigured() {
		logger.Info("GudCal not configured; meeting tools will report unavailable")
		return nil
	}
	client, err := gudcal.NewClient(gudcal.Config{
		BaseURL:     cfg.GudCalURL,
		Username:    cfg.GudCalUsername,
		EventSlug:   cfg.GudCalEventSlug,
		EventTypeID: cfg.GudCalEventTypeID,
		Logger:      logger,
	})
	if err != nil {
		logger.WithError(err).Warn("Failed to create GudCal client")
		return nil
	}
	return client
}

func newLeadForm(cfg agentconfig.Config, logger logging.Logger) chat.LeadForm {
	if !cfg.GudFormConfigured() {
		logger.Info("GudForm not configured; lead capture will report unavailable")
		return nil
	}
	client, err := gudform.NewClient(gudform.Config{
		BaseURL: cfg.GudFormURL,
		FormID:  cfg.GudFormFormID,
		Fields:  cfg.GudFormFields,
		Logger:  logger,
	})
	if err != nil {
		logger.WithError(err).Warn("Failed to create GudForm client")
		return nil
	}
	return client
}

// registerWebhook subscribes the agent to GudDesk message events when
// AGENT_URL is set. A freshly created endpoint comes with its own signing
// secret, which replaces WEBHOOK_SECRET.
func registerWebhook(desk *guddesk.Client, webhook *handlers.WebhookHandler, webhookURL string, logger logging.Logger) bool {
	if webhookURL == "" {
		logger.Info("AGENT_URL not set; skipping webhook registration")
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	reg, err := desk.RegisterWebhook(ctx, webhookURL)
	if err != nil {
		logger.WithError(err).WithField("url", webhookURL).Error("Failed to register webhook")
		return false
	}
	log := logger.WithFields(logging.Fields{"url": webhookURL, "endpoint_id": reg.Endpoint.ID})
	if reg.Created() && reg.Endpoint.Secret != "" {
		webhook.SetSecret(reg.Endpoint.Secret)
		log.Info("Webhook registered; using the secret issued by GudDesk")
		return true
	}
	if webhook.Secret() == "" {
		log.Warn("Webhook already registered and WEBHOOK_SECRET is empty; signatures will not be verified")
	} else {
		log.Info("Webhook already registered")
	}
	return true
}
