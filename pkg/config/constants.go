package config

const (
	EnvPrefix = "BULLIONSTORE"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "BULLIONSTORE_APP_ENV"
	EnvPort     = "BULLIONSTORE_APP_PORT"
	EnvRedisURL = "BULLIONSTORE_REDIS_URL"

	EnvDBDSN  = "BULLIONSTORE_DB_DSN"
	EnvDBHost = "BULLIONSTORE_DB_HOST"
	EnvDBUser = "BULLIONSTORE_DB_USER"
	EnvDBName = "BULLIONSTORE_DB_NAME"

	EnvStripeAPIKey      = "BULLIONSTORE_STRIPE_API_KEY"
	EnvSquareAccessToken = "BULLIONSTORE_SQUARE_ACCESS_TOKEN"
	EnvPricingTaxRate    = "BULLIONSTORE_PRICING_TAX_RATE"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
