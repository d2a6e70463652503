package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	HTTPAddr      string
	BasePublicURL string
	CORSOrigins   []string

	DatabaseDSN string
	BufferPath  string

	AdminToken string
	AdminTGIDs map[int64]bool

	TelegramToken string

	SpreadsheetID            string
	GoogleServiceAccountJSON string

	ElasticURL string

	RegistrationFee int64
	Currency        string
	TournamentName  string

	PaymentTimeout time.Duration
	Hosted         HostedConfig
	Async          AsyncConfig
	Redirect       RedirectConfig
	Manual         ManualConfig

	SyncInterval      time.Duration
	ReconcileInterval time.Duration
}

type HostedConfig struct {
	KeyID   string
	Secret  string
	BaseURL string
}

type AsyncConfig struct {
	MerchantID string
	SaltKey    string
	SaltIndex  string
	BaseURL    string
}

type RedirectConfig struct {
	SecretKey string
	BaseURL   string
}

type ManualConfig struct {
	Payee string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_DSN", "file:tourney.db")
	v.SetDefault("BUFFER_PATH", "pending.bolt")
	v.SetDefault("REGISTRATION_FEE", 50000)
	v.SetDefault("CURRENCY", "INR")
	v.SetDefault("TOURNAMENT_NAME", "Tournament registration")
	v.SetDefault("PAYMENT_TIMEOUT", "15s")
	v.SetDefault("HOSTED_BASE_URL", "https://api.razorpay.com")
	v.SetDefault("ASYNC_BASE_URL", "https://api.phonepe.com/apis/hermes")
	v.SetDefault("ASYNC_SALT_INDEX", "1")
	v.SetDefault("REDIRECT_BASE_URL", "https://api.stripe.com")
	v.SetDefault("SYNC_INTERVAL", "2s")
	v.SetDefault("RECONCILE_INTERVAL", "30s")
}

// FromEnv reads configuration from the environment, optionally layered over
// the YAML file named by CONFIG_FILE. Call godotenv.Load first to pick up .env.
func FromEnv() (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path := strings.TrimSpace(v.GetString("CONFIG_FILE")); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read %s: %w", path, err)
		}
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	var c Config
	str := func(key string) string { return strings.TrimSpace(v.GetString(key)) }

	c.HTTPAddr = str("HTTP_ADDR")
	c.BasePublicURL = strings.TrimRight(str("BASE_PUBLIC_URL"), "/")
	c.CORSOrigins = splitList(str("CORS_ORIGINS"))
	c.DatabaseDSN = str("DATABASE_DSN")
	c.BufferPath = str("BUFFER_PATH")
	c.AdminToken = str("ADMIN_TOKEN")
	c.AdminTGIDs = parseAdminIDs(str("ADMIN_TG_IDS"))
	c.TelegramToken = str("TELEGRAM_BOT_TOKEN")
	c.SpreadsheetID = str("GOOGLE_SHEETS_SPREADSHEET_ID")
	c.GoogleServiceAccountJSON = str("GOOGLE_SERVICE_ACCOUNT_JSON")
	c.ElasticURL = str("ELASTIC_URL")
	c.RegistrationFee = v.GetInt64("REGISTRATION_FEE")
	c.Currency = strings.ToUpper(str("CURRENCY"))
	c.TournamentName = str("TOURNAMENT_NAME")
	c.PaymentTimeout = v.GetDuration("PAYMENT_TIMEOUT")
	c.SyncInterval = v.GetDuration("SYNC_INTERVAL")
	c.ReconcileInterval = v.GetDuration("RECONCILE_INTERVAL")

	c.Hosted = HostedConfig{
		KeyID:   str("HOSTED_KEY_ID"),
		Secret:  str("HOSTED_SECRET"),
		BaseURL: strings.TrimRight(str("HOSTED_BASE_URL"), "/"),
	}
	c.Async = AsyncConfig{
		MerchantID: str("ASYNC_MERCHANT_ID"),
		SaltKey:    str("ASYNC_SALT_KEY"),
		SaltIndex:  str("ASYNC_SALT_INDEX"),
		BaseURL:    strings.TrimRight(str("ASYNC_BASE_URL"), "/"),
	}
	c.Redirect = RedirectConfig{
		SecretKey: str("REDIRECT_SECRET_KEY"),
		BaseURL:   strings.TrimRight(str("REDIRECT_BASE_URL"), "/"),
	}
	c.Manual = ManualConfig{Payee: str("MANUAL_PAYEE")}

	if c.DatabaseDSN == "" {
		return c, fmt.Errorf("DATABASE_DSN is empty")
	}
	if c.AdminToken == "" {
		return c, fmt.Errorf("ADMIN_TOKEN is empty")
	}
	if c.RegistrationFee <= 0 {
		return c, fmt.Errorf("REGISTRATION_FEE must be positive")
	}
	if c.PaymentTimeout <= 0 {
		return c, fmt.Errorf("PAYMENT_TIMEOUT must be positive")
	}
	if (c.SpreadsheetID == "") != (c.GoogleServiceAccountJSON == "") {
		return c, fmt.Errorf("GOOGLE_SHEETS_SPREADSHEET_ID and GOOGLE_SERVICE_ACCOUNT_JSON must be set together")
	}
	return c, nil
}

// PublicURL joins path onto BasePublicURL, falling back to the local listener.
func (c Config) PublicURL(path string) string {
	base := c.BasePublicURL
	if base == "" {
		base = "http://localhost" + c.HTTPAddr
	}
	return base + path
}

func splitList(raw string) []string {
	out := []string{}
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseAdminIDs(raw string) map[int64]bool {
	m := map[int64]bool{}
	for _, p := range splitList(raw) {
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			continue
		}
		m[v] = true
	}
	return m
}
