package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port           string
	Env            string
	LogLevel       string
	UseMemoryQueue bool
	WorkerCount    int
	ShardCount     int
	// AdminJWTSecret enables the /admin API on the ops server.
	AdminJWTSecret string

	// Persistence
	StoreBackend  string
	DatabaseURL   string
	ContextsTable string
	UseRedisLock  bool
	LockTTL       time.Duration

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	AWSRegion            string
	AWSAccessKeyID       string
	AWSSecretAccessKey   string
	AWSEndpointOverride  string
	ConversationQueueURL string
	ArchiveBucket        string

	// Generation
	LLMProvider       string
	BedrockModelID    string
	GeminiAPIKey      string
	GeminiModel       string
	GenerationTimeout time.Duration
	LLMMaxTokens      int

	// Delivery
	SMSProvider              string
	TwilioAccountSID         string
	TwilioAuthToken          string
	TwilioFromNumber         string
	TelnyxAPIKey             string
	TelnyxMessagingProfileID string
	TelnyxFromNumber         string
	SMSRatePerSecond         float64
	EmailProvider            string
	SendGridAPIKey           string
	SendGridFromEmail        string
	SendGridFromName         string
	SESFromEmail             string
	DeliveryTimeout          time.Duration
	DeliveryDedupeTTL        time.Duration
	AgentNotifyEmails        []string
	AgentNotifyPhone         string
	BrokerageName            string

	// Engine policy
	QuietHoursStart          string
	QuietHoursEnd            string
	QuietHoursTimezone       string
	SendDays                 []string
	RateLimitCap             int
	RateLimitWindow          time.Duration
	DormancyWindow           time.Duration
	RequiredQualification    []string
	IntentThreshold          float64
	HistoryCap               int
	PromptHistory            int
	SMSMaxLength             int
	EmailMaxLength           int
	ObjectionEscalationCount int
	FollowupPollInterval     time.Duration
	FollowupBatchSize        int
	DefaultFollowupDelay     time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		UseMemoryQueue: getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:    getEnvAsInt("WORKER_COUNT", 2),
		ShardCount:     getEnvAsInt("SHARD_COUNT", 16),
		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),

		StoreBackend:  strings.ToLower(strings.TrimSpace(getEnv("STORE_BACKEND", "memory"))),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		ContextsTable: getEnv("CONTEXTS_TABLE", "conversation_contexts"),
		UseRedisLock:  getEnvAsBool("USE_REDIS_LOCK", false),
		LockTTL:       getEnvAsDuration("LOCK_TTL", 90*time.Second),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AWSRegion:            getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:       getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride:  getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		ConversationQueueURL: getEnv("CONVERSATION_QUEUE_URL", ""),
		ArchiveBucket:        getEnv("ARCHIVE_BUCKET", ""),

		LLMProvider:       strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", "bedrock"))),
		BedrockModelID:    getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		GeminiModel:       getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		GenerationTimeout: getEnvAsDuration("GENERATION_TIMEOUT", 8*time.Second),
		LLMMaxTokens:      getEnvAsInt("LLM_MAX_TOKENS", 300),

		SMSProvider:              strings.ToLower(strings.TrimSpace(getEnv("SMS_PROVIDER", "auto"))),
		TwilioAccountSID:         getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:          getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber:         getEnv("TWILIO_FROM_NUMBER", ""),
		TelnyxAPIKey:             getEnv("TELNYX_API_KEY", ""),
		TelnyxMessagingProfileID: getEnv("TELNYX_MESSAGING_PROFILE_ID", ""),
		TelnyxFromNumber:         getEnv("TELNYX_FROM_NUMBER", ""),
		SMSRatePerSecond:         getEnvAsFloat("SMS_RATE_PER_SECOND", 1),
		EmailProvider:            strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "sendgrid"))),
		SendGridAPIKey:           getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail:        getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:         getEnv("SENDGRID_FROM_NAME", "Lead Desk"),
		SESFromEmail:             getEnv("SES_FROM_EMAIL", ""),
		DeliveryTimeout:          getEnvAsDuration("DELIVERY_TIMEOUT", 10*time.Second),
		DeliveryDedupeTTL:        getEnvAsDuration("DELIVERY_DEDUPE_TTL", 7*24*time.Hour),
		AgentNotifyEmails:        getEnvAsList("AGENT_NOTIFY_EMAILS", nil),
		AgentNotifyPhone:         getEnv("AGENT_NOTIFY_PHONE", ""),
		BrokerageName:            getEnv("BROKERAGE_NAME", ""),

		QuietHoursStart:          getEnv("QUIET_HOURS_START", "21:00"),
		QuietHoursEnd:            getEnv("QUIET_HOURS_END", "08:00"),
		QuietHoursTimezone:       getEnv("QUIET_HOURS_TZ", "UTC"),
		SendDays:                 getEnvAsList("SEND_DAYS", []string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"}),
		RateLimitCap:             getEnvAsInt("RATE_LIMIT_CAP", 3),
		RateLimitWindow:          getEnvAsDuration("RATE_LIMIT_WINDOW", 24*time.Hour),
		DormancyWindow:           getEnvAsDuration("DORMANCY_WINDOW", 30*24*time.Hour),
		RequiredQualification:    getEnvAsList("REQUIRED_QUALIFICATION", []string{"budget", "timeline", "financing"}),
		IntentThreshold:          getEnvAsFloat("INTENT_THRESHOLD", 0.5),
		HistoryCap:               getEnvAsInt("HISTORY_CAP", 50),
		PromptHistory:            getEnvAsInt("PROMPT_HISTORY", 10),
		SMSMaxLength:             getEnvAsInt("SMS_MAX_LENGTH", 320),
		EmailMaxLength:           getEnvAsInt("EMAIL_MAX_LENGTH", 4000),
		ObjectionEscalationCount: getEnvAsInt("OBJECTION_ESCALATION_COUNT", 3),
		FollowupPollInterval:     getEnvAsDuration("FOLLOWUP_POLL_INTERVAL", 30*time.Second),
		FollowupBatchSize:        getEnvAsInt("FOLLOWUP_BATCH_SIZE", 25),
		DefaultFollowupDelay:     getEnvAsDuration("DEFAULT_FOLLOWUP_DELAY", 72*time.Hour),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping blanks.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if strings.TrimSpace(valueStr) == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
