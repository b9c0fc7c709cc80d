package http

// Config is the HTTP server configuration.
type Config struct {
	Port uint `mapstructure:"port"`
	// InternalAPIKey guards worker callbacks and collector job pulls.
	InternalAPIKey string   `mapstructure:"internal_api_key"`
	JWTSecret      string   `mapstructure:"jwt_secret"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}
