package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/lead-reengage/cmd/mainconfig"
	"github.com/wolfman30/lead-reengage/internal/archive"
	"github.com/wolfman30/lead-reengage/internal/compliance"
	appconfig "github.com/wolfman30/lead-reengage/internal/config"
	"github.com/wolfman30/lead-reengage/internal/conversation"
	"github.com/wolfman30/lead-reengage/internal/leads"
	"github.com/wolfman30/lead-reengage/internal/messaging"
	"github.com/wolfman30/lead-reengage/internal/notify"
	"github.com/wolfman30/lead-reengage/internal/response"
	"github.com/wolfman30/lead-reengage/pkg/logging"
)

// infra holds the shared clients. Nil fields are not configured.
type infra struct {
	aws   aws.Config
	pool  *pgxpool.Pool
	db    *sql.DB
	redis *redis.Client
}

func (i *infra) Close() {
	if i.pool != nil {
		i.pool.Close()
	}
	if i.db != nil {
		_ = i.db.Close()
	}
	if i.redis != nil {
		_ = i.redis.Close()
	}
}

func connectInfra(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*infra, error) {
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	in := &infra{aws: awsCfg}

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		in.pool = pool

		// The audit trail goes through database/sql.
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			in.Close()
			return nil, fmt.Errorf("open audit db: %w", err)
		}
		db.SetMaxOpenConns(4)
		in.db = db
	} else if cfg.StoreBackend == "postgres" {
		return nil, errors.New("STORE_BACKEND=postgres requires DATABASE_URL")
	}

	if cfg.RedisAddr != "" {
		opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		client := redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		switch {
		case err == nil:
			in.redis = client
		case cfg.UseRedisLock:
			_ = client.Close()
			in.Close()
			return nil, fmt.Errorf("redis required for USE_REDIS_LOCK: %w", err)
		default:
			_ = client.Close()
			logger.Warn("redis unreachable, using in-process counters and no delivery dedupe", "addr", cfg.RedisAddr, "error", err)
		}
	}
	return in, nil
}

func buildRepository(cfg *appconfig.Config, in *infra, logger *logging.Logger) (leads.Repository, error) {
	switch cfg.StoreBackend {
	case "postgres":
		return leads.NewPostgresRepository(in.pool), nil
	case "dynamo", "dynamodb":
		if cfg.ContextsTable == "" {
			return nil, errors.New("STORE_BACKEND=dynamo requires CONTEXTS_TABLE")
		}
		return leads.NewDynamoRepository(dynamodb.NewFromConfig(in.aws), cfg.ContextsTable, logger), nil
	case "", "memory":
		logger.Warn("using in-memory conversation store; contexts are lost on restart")
		return leads.NewInMemoryRepository(), nil
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
}

func buildAuditor(in *infra, logger *logging.Logger) compliance.Auditor {
	if in.db != nil {
		return compliance.NewAuditService(in.db)
	}
	return compliance.NewLogAuditor(logger)
}

func buildSendCounter(cfg *appconfig.Config, in *infra, logger *logging.Logger) compliance.SendCounter {
	if in.redis != nil {
		return compliance.NewRedisSendCounter(in.redis, cfg.RateLimitWindow, logger)
	}
	return compliance.NewMemorySendCounter()
}

// buildGenerator returns the configured model, with Gemini as the secondary
// when Bedrock is primary and a Gemini key exists. The closer releases the
// Gemini client.
func buildGenerator(ctx context.Context, cfg *appconfig.Config, in *infra, logger *logging.Logger) (response.Generator, func(), error) {
	noop := func() {}
	var gemini *response.GeminiGenerator
	if cfg.GeminiAPIKey != "" {
		g, err := response.NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, noop, fmt.Errorf("gemini client: %w", err)
		}
		gemini = g
	}
	closer := func() {
		if gemini != nil {
			_ = gemini.Close()
		}
	}

	switch cfg.LLMProvider {
	case "bedrock":
		if cfg.BedrockModelID == "" {
			break
		}
		primary := response.NewBedrockGenerator(mainconfig.BedrockClient(in.aws, cfg), cfg.BedrockModelID)
		if gemini != nil {
			return response.NewFallbackGenerator(primary, gemini, logger), closer, nil
		}
		return primary, closer, nil
	case "gemini":
		if gemini == nil {
			return nil, noop, errors.New("LLM_PROVIDER=gemini requires GEMINI_API_KEY")
		}
		return gemini, closer, nil
	case "static":
		return response.StaticGenerator{}, closer, nil
	}
	logger.Warn("no language model configured, replies use templates", "provider", cfg.LLMProvider)
	return response.GeneratorFunc(func(context.Context, response.Prompt, response.Constraints) (string, error) {
		return "", errors.New("no language model configured")
	}), closer, nil
}

// buildEmail picks the lead and agent email transport. SendGrid is primary
// unless EMAIL_PROVIDER=ses; the other provider, when configured, is the
// failover.
func buildEmail(cfg *appconfig.Config, in *infra, logger *logging.Logger) (notify.EmailSender, string) {
	var sendgrid, ses notify.EmailSender
	if sg := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sg != nil {
		sendgrid = sg
	}
	if cfg.SESFromEmail != "" {
		ses = notify.NewSESSender(sesv2.NewFromConfig(in.aws), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
	}

	primary, secondary, name := sendgrid, ses, "sendgrid"
	if cfg.EmailProvider == "ses" {
		primary, secondary, name = ses, sendgrid, "ses"
	}
	if primary == nil {
		primary, secondary = secondary, nil
		if name == "ses" {
			name = "sendgrid"
		} else {
			name = "ses"
		}
	}
	if primary == nil {
		logger.Warn("no email provider configured, emails are logged only")
		return notify.NewStubEmailSender(logger), "stub"
	}
	if secondary == nil {
		return primary, name
	}
	return notify.NewFailoverEmailSender(primary, secondary, logger), name
}

// buildSenders returns the lead-facing sender and the raw SMS sender used for
// agent notifications. The lead sender is deduplicated through Redis when
// Redis is available.
func buildSenders(cfg *appconfig.Config, in *infra, email notify.EmailSender, emailProvider string, logger *logging.Logger) (messaging.Sender, messaging.Sender) {
	sms, provider, reason := messaging.BuildSMSSender(messaging.ProviderSelectionConfig{
		Preference:       cfg.SMSProvider,
		TelnyxAPIKey:     cfg.TelnyxAPIKey,
		TelnyxProfileID:  cfg.TelnyxMessagingProfileID,
		TelnyxFromNumber: cfg.TelnyxFromNumber,
		TwilioAccountSID: cfg.TwilioAccountSID,
		TwilioAuthToken:  cfg.TwilioAuthToken,
		TwilioFromNumber: cfg.TwilioFromNumber,
	}, logger)
	if sms == nil {
		logger.Warn("no SMS provider configured, SMS is logged only", "reason", reason)
		sms = messaging.NewLogSender(logger)
	} else {
		logger.Info("sms provider selected", "provider", provider)
	}
	sms = messaging.NewRateLimitedSender(sms, cfg.SMSRatePerSecond, 1)

	subject := "Following up on your home search"
	if cfg.BrokerageName != "" {
		subject = fmt.Sprintf("%s: following up on your home search", cfg.BrokerageName)
	}
	router := messaging.NewRouter().
		Handle(leads.ChannelSMS, sms).
		Handle(leads.ChannelEmail, messaging.NewEmailChannelSender(email, emailProvider, subject))

	var leadSender messaging.Sender = router
	if in.redis != nil {
		leadSender = messaging.NewDedupingSender(router, in.redis, cfg.DeliveryDedupeTTL, 2*cfg.DeliveryTimeout, logger)
	}
	return leadSender, sms
}

func buildNotifier(cfg *appconfig.Config, email notify.EmailSender, sms messaging.Sender, repo leads.Repository, logger *logging.Logger) *notify.Service {
	recipients := notify.Recipients{Emails: cfg.AgentNotifyEmails, Brokerage: cfg.BrokerageName}
	var smsNotifier notify.SMSSender
	if phone := strings.TrimSpace(cfg.AgentNotifyPhone); phone != "" {
		recipients.SMS = []string{phone}
		smsNotifier = messaging.SMSNotifier{Sender: sms}
	}
	return notify.NewService(email, smsNotifier, repo, recipients, logger)
}

func buildArchiver(cfg *appconfig.Config, in *infra, logger *logging.Logger) conversation.Archiver {
	if cfg.ArchiveBucket == "" {
		return nil
	}
	return archive.NewStore(s3.NewFromConfig(in.aws), cfg.ArchiveBucket, logger)
}

// buildQueue wires the inbound queue to handler. The publisher feeds the
// admin events endpoint.
func buildQueue(cfg *appconfig.Config, in *infra, handler conversation.EventHandler, logger *logging.Logger) (*conversation.Publisher, *conversation.Worker, error) {
	opts := []conversation.WorkerOption{
		conversation.WithWorkerCount(cfg.WorkerCount),
		conversation.WithShardCount(cfg.ShardCount),
	}
	if cfg.UseMemoryQueue {
		logger.Warn("using in-memory queue; events are lost on restart")
		q := conversation.NewMemoryQueue(1024)
		return conversation.NewPublisher(q, logger), conversation.NewWorker(handler, q, logger, opts...), nil
	}
	if cfg.ConversationQueueURL == "" {
		return nil, nil, errors.New("CONVERSATION_QUEUE_URL is required unless USE_MEMORY_QUEUE=true")
	}
	q := conversation.NewSQSQueue(sqs.NewFromConfig(in.aws), cfg.ConversationQueueURL)
	return conversation.NewPublisher(q, logger), conversation.NewWorker(handler, q, logger, opts...), nil
}
