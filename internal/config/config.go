package config // package config loads application configuration from environment variables

import (
	"log"     // log is used to report configuration errors and halt execution
	"os"      // os provides access to environment variables
	"strconv" // strconv converts strings to other types
)

// Config holds all runtime configuration values.  Each field corresponds
// to an environment variable.  Database settings are optional: when
// DB_HOST is unset the service runs against the per-key JSON file store
// with reduced guarantees, and the sync and gift-code endpoints are
// disabled.
type Config struct {
	Env               string // application environment (e.g. "dev", "prod")
	Port              string // HTTP port to listen on
	DBUser            string // database username (optional)
	DBPass            string // database password (optional)
	DBHost            string // database host address; empty selects the file store
	DBPort            string // database port number
	DBName            string // database name
	DataDir           string // directory for the JSON file store fallback
	JWTSecret         string // secret used to sign admin JWTs
	AdminEmail        string // email accepted by the admin login endpoint
	AdminPasswordHash string // bcrypt hash of the admin password
	AdminTTLMin       int    // admin token time-to-live in minutes
	RetainDays        int    // dated-log retention window in days
	PublicBaseURL     string // externally visible base URL, used to build the OAuth redirect URL
	CanvaClientID     string // Canva OAuth client id
	CanvaClientSecret string // Canva OAuth client secret
	CanvaAPIBase      string // Canva API base URL (overridable for tests)
}

// Load reads configuration values from environment variables and returns
// a Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
	return Config{
		Env:               must("APP_ENV"),
		Port:              must("APP_PORT"),
		DBUser:            os.Getenv("DB_USER"),
		DBPass:            os.Getenv("DB_PASS"),
		DBHost:            os.Getenv("DB_HOST"),
		DBPort:            getenv("DB_PORT", "3306"),
		DBName:            getenv("DB_NAME", "envision"),
		DataDir:           getenv("DATA_DIR", "data"),
		JWTSecret:         must("JWT_SECRET"),
		AdminEmail:        os.Getenv("ADMIN_EMAIL"),
		AdminPasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),
		AdminTTLMin:       getint("ADMIN_TOKEN_TTL_MIN", 60),
		RetainDays:        getint("RETAIN_DAYS", 90),
		PublicBaseURL:     must("PUBLIC_BASE_URL"),
		CanvaClientID:     must("CANVA_CLIENT_ID"),
		CanvaClientSecret: must("CANVA_CLIENT_SECRET"),
		CanvaAPIBase:      getenv("CANVA_API_BASE", "https://api.canva.com"),
	}
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// getenv returns the value of an environment variable or a default when
// the variable is unset or empty.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getint is like getenv but converts the value to an integer.  Invalid
// values fall back to the default: retention and TTL knobs are tuning
// parameters, not secrets, so a typo should not take the service down.
func getint(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
