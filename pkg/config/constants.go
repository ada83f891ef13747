package config

const (
	EnvPrefix = "SETTLEMENT"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv      = "SETTLEMENT_APP_ENV"
	EnvPort        = "SETTLEMENT_APP_PORT"
	EnvLogLevel    = "SETTLEMENT_LOG_LEVEL"
	EnvAdminAPIKey = "SETTLEMENT_ADMIN_API_KEY"

	EnvDBDSN  = "SETTLEMENT_DB_DSN"
	EnvDBHost = "SETTLEMENT_DB_HOST"
	EnvDBPort = "SETTLEMENT_DB_PORT"
	EnvDBUser = "SETTLEMENT_DB_USER"
	EnvDBPass = "SETTLEMENT_DB_PASSWORD"
	EnvDBName = "SETTLEMENT_DB_NAME"

	EnvRedisURL = "SETTLEMENT_REDIS_URL"

	EnvGCPProjectID = "SETTLEMENT_GCP_PROJECT_ID"

	EnvPubSubSettlementTopic = "SETTLEMENT_PUBSUB_SETTLEMENT_TOPIC"
	EnvPubSubNotificationSub = "SETTLEMENT_PUBSUB_NOTIFICATION_SUBSCRIPTION"
	EnvPubSubAnalyticsSub    = "SETTLEMENT_PUBSUB_ANALYTICS_SUBSCRIPTION"
	EnvStripeEnv             = "SETTLEMENT_STRIPE_ENV"
	EnvSquareEnv             = "SETTLEMENT_SQUARE_ENV"
	EnvCashbackRate          = "SETTLEMENT_CASHBACK_RATE"
	EnvDefaultCommissionRate = "SETTLEMENT_DEFAULT_COMMISSION_RATE"
	EnvTurnoverWindow        = "SETTLEMENT_TURNOVER_WINDOW"
	EnvTierScheduleFile      = "SETTLEMENT_TIER_SCHEDULE_FILE"
	EnvReconcileStaleAfter   = "SETTLEMENT_RECONCILE_STALE_AFTER"
	EnvWebhookIdempotencyTTL = "SETTLEMENT_WEBHOOK_IDEMPOTENCY_TTL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
