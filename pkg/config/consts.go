package config

const (
	// EnvPrefix is the envconfig prefix; explicit envconfig tags override it,
	// it exists so envconfig.Process has a stable namespace.
	EnvPrefix = "wayfarer"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "WAYFARER_DB_DSN"
	EnvDBHost = "WAYFARER_DB_HOST"
	EnvDBUser = "WAYFARER_DB_USER"
	EnvDBName = "WAYFARER_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
