package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Sender    SenderConfig    `mapstructure:"sender"`
	Transport TransportConfig `mapstructure:"transport"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Tracking  TrackingConfig  `mapstructure:"tracking"`
	Campaign  CampaignConfig  `mapstructure:"campaign"`
	Bounces   BounceConfig    `mapstructure:"bounces"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// ServerConfig holds tracking HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds tracking store connection configuration
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

// SenderConfig describes the From identity of outgoing messages
type SenderConfig struct {
	Email   string `mapstructure:"email"`
	Name    string `mapstructure:"name"`
	ReplyTo string `mapstructure:"reply_to"`
}

// TransportConfig selects and configures the delivery transport
type TransportConfig struct {
	Kind     string         `mapstructure:"kind"`
	Timeout  time.Duration  `mapstructure:"timeout"`
	SMTP     SMTPConfig     `mapstructure:"smtp"`
	API      APIConfig      `mapstructure:"api"`
	Gmail    GmailConfig    `mapstructure:"gmail"`
	SES      SESConfig      `mapstructure:"ses"`
	SendGrid SendGridConfig `mapstructure:"sendgrid"`
}

// SMTPConfig holds SMTP submission settings
type SMTPConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	ImplicitTLS bool   `mapstructure:"implicit_tls"`
	HeloName    string `mapstructure:"helo_name"`
}

// APIConfig holds HTTP delivery API settings
type APIConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
}

// GmailConfig holds Gmail API configuration
type GmailConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RefreshToken string `mapstructure:"refresh_token"`
	UserEmail    string `mapstructure:"user_email"`
}

// SESConfig holds Amazon SES settings. Empty keys fall back to the default
// AWS credential chain.
type SESConfig struct {
	Region           string `mapstructure:"region"`
	AccessKey        string `mapstructure:"access_key"`
	SecretKey        string `mapstructure:"secret_key"`
	ConfigurationSet string `mapstructure:"configuration_set"`
}

// SendGridConfig holds SendGrid settings
type SendGridConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// DispatchConfig holds batching, pacing and retry settings
type DispatchConfig struct {
	BatchSize         int           `mapstructure:"batch_size"`
	MessageDelay      time.Duration `mapstructure:"message_delay"`
	BatchDelay        time.Duration `mapstructure:"batch_delay"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	MaxAttachmentSize int64         `mapstructure:"max_attachment_size"`
}

// TrackingConfig holds open/click tracking settings
type TrackingConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Domain        string `mapstructure:"domain"`
	RetentionDays int    `mapstructure:"retention_days"`
	PurgeSchedule string `mapstructure:"purge_schedule"`
}

// CampaignConfig describes the campaign run
type CampaignConfig struct {
	ID            string   `mapstructure:"id"`
	TemplateDir   string   `mapstructure:"template_dir"`
	AttachmentDir string   `mapstructure:"attachment_dir"`
	Recipients    string   `mapstructure:"recipients"`
	Templates     []string `mapstructure:"templates"`
	LandingURL    string   `mapstructure:"landing_url"`
}

// BounceConfig holds IMAP bounce mailbox settings
type BounceConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
	Host     string `mapstructure:"imap_host"`
	Port     int    `mapstructure:"imap_port"`
	User     string `mapstructure:"imap_user"`
	Password string `mapstructure:"imap_password"`
	Mailbox  string `mapstructure:"mailbox"`
}

// LoadConfig loads configuration from environment variables and an optional
// config file. An empty path searches for config.yaml in . and ./config.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Environment variables override config file
	v.AutomaticEnv()
	bindEnvVars(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/tracking.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)

	v.SetDefault("transport.kind", "smtp")
	v.SetDefault("transport.timeout", "30s")
	v.SetDefault("transport.smtp.port", 587)

	v.SetDefault("dispatch.batch_size", 50)
	v.SetDefault("dispatch.message_delay", "1s")
	v.SetDefault("dispatch.batch_delay", "5s")
	v.SetDefault("dispatch.max_retries", 3)
	v.SetDefault("dispatch.retry_delay", "5s")
	v.SetDefault("dispatch.max_attachment_size", 10485760)

	v.SetDefault("tracking.enabled", false)
	v.SetDefault("tracking.retention_days", 90)
	v.SetDefault("tracking.purge_schedule", "0 0 3 * * *")

	v.SetDefault("campaign.template_dir", "templates")
	v.SetDefault("campaign.attachment_dir", "attachments")
	v.SetDefault("campaign.recipients", "recipients.json")

	v.SetDefault("bounces.enabled", false)
	v.SetDefault("bounces.schedule", "0 */10 * * * *")
	v.SetDefault("bounces.imap_port", 993)
	v.SetDefault("bounces.mailbox", "INBOX")
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars(v *viper.Viper) {
	v.BindEnv("log.level", "LOG_LEVEL")

	// Server
	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	v.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")

	// Database
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.path", "DB_PATH")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")

	// Sender
	v.BindEnv("sender.email", "SENDER_EMAIL")
	v.BindEnv("sender.name", "SENDER_NAME")
	v.BindEnv("sender.reply_to", "SENDER_REPLY_TO")

	// Transport
	v.BindEnv("transport.kind", "TRANSPORT_KIND")
	v.BindEnv("transport.timeout", "TRANSPORT_TIMEOUT")
	v.BindEnv("transport.smtp.host", "SMTP_HOST")
	v.BindEnv("transport.smtp.port", "SMTP_PORT")
	v.BindEnv("transport.smtp.username", "SMTP_USERNAME")
	v.BindEnv("transport.smtp.password", "SMTP_PASSWORD")
	v.BindEnv("transport.smtp.implicit_tls", "SMTP_IMPLICIT_TLS")
	v.BindEnv("transport.api.url", "API_URL")
	v.BindEnv("transport.api.api_key", "API_KEY")
	v.BindEnv("transport.gmail.client_id", "GMAIL_CLIENT_ID")
	v.BindEnv("transport.gmail.client_secret", "GMAIL_CLIENT_SECRET")
	v.BindEnv("transport.gmail.refresh_token", "GMAIL_REFRESH_TOKEN")
	v.BindEnv("transport.gmail.user_email", "GMAIL_USER_EMAIL")
	v.BindEnv("transport.ses.region", "SES_REGION", "AWS_REGION")
	v.BindEnv("transport.ses.access_key", "SES_ACCESS_KEY")
	v.BindEnv("transport.ses.secret_key", "SES_SECRET_KEY")
	v.BindEnv("transport.ses.configuration_set", "SES_CONFIGURATION_SET")
	v.BindEnv("transport.sendgrid.api_key", "SENDGRID_API_KEY")

	// Dispatch
	v.BindEnv("dispatch.batch_size", "DISPATCH_BATCH_SIZE")
	v.BindEnv("dispatch.message_delay", "DISPATCH_MESSAGE_DELAY")
	v.BindEnv("dispatch.batch_delay", "DISPATCH_BATCH_DELAY")
	v.BindEnv("dispatch.max_retries", "DISPATCH_MAX_RETRIES")
	v.BindEnv("dispatch.retry_delay", "DISPATCH_RETRY_DELAY")

	// Tracking
	v.BindEnv("tracking.enabled", "TRACKING_ENABLED")
	v.BindEnv("tracking.domain", "TRACKING_DOMAIN")
	v.BindEnv("tracking.retention_days", "TRACKING_RETENTION_DAYS")

	// Campaign
	v.BindEnv("campaign.id", "CAMPAIGN_ID")
	v.BindEnv("campaign.template_dir", "CAMPAIGN_TEMPLATE_DIR")
	v.BindEnv("campaign.attachment_dir", "CAMPAIGN_ATTACHMENT_DIR")
	v.BindEnv("campaign.recipients", "CAMPAIGN_RECIPIENTS")
	v.BindEnv("campaign.landing_url", "CAMPAIGN_LANDING_URL")

	// Bounces
	v.BindEnv("bounces.enabled", "BOUNCES_ENABLED")
	v.BindEnv("bounces.imap_host", "IMAP_HOST")
	v.BindEnv("bounces.imap_port", "IMAP_PORT")
	v.BindEnv("bounces.imap_user", "IMAP_USER")
	v.BindEnv("bounces.imap_password", "IMAP_PASSWORD")
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	if c.Driver == "sqlite" {
		return c.Path
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// Validate validates the configuration shared by every command
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite")
		}
	case "mysql":
		if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
			return fmt.Errorf("database host, user, and dbname are required")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.Tracking.RetentionDays <= 0 {
		return fmt.Errorf("tracking retention days must be greater than 0")
	}

	if c.Bounces.Enabled && (c.Bounces.Host == "" || c.Bounces.User == "" || c.Bounces.Password == "") {
		return fmt.Errorf("IMAP host and credentials are required when bounce ingestion is enabled")
	}

	return nil
}

// ValidateSend validates the configuration needed to dispatch a campaign
func (c *Config) ValidateSend() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Campaign.ID == "" {
		return fmt.Errorf("campaign id is required")
	}
	if c.Sender.Email == "" {
		return fmt.Errorf("sender email is required")
	}

	switch strings.ToLower(c.Transport.Kind) {
	case "smtp":
		s := c.Transport.SMTP
		if s.Host == "" || s.Port == 0 || s.Username == "" || s.Password == "" {
			return fmt.Errorf("missing required SMTP configuration fields: host, port, username, password")
		}
	case "api":
		if c.Transport.API.URL == "" || c.Transport.API.APIKey == "" {
			return fmt.Errorf("missing required API configuration fields: url, api_key")
		}
	case "gmail":
		g := c.Transport.Gmail
		if g.ClientID == "" || g.ClientSecret == "" || g.RefreshToken == "" || g.UserEmail == "" {
			return fmt.Errorf("Gmail OAuth2 credentials and user email are required")
		}
	case "ses":
		s := c.Transport.SES
		if s.Region == "" {
			return fmt.Errorf("AWS region is required for the ses transport")
		}
		if s.AccessKey != "" && s.SecretKey == "" {
			return fmt.Errorf("secret key is required when access key is provided")
		}
	case "sendgrid":
		if c.Transport.SendGrid.APIKey == "" {
			return fmt.Errorf("SendGrid API key is required")
		}
	default:
		return fmt.Errorf("unsupported transport kind %q", c.Transport.Kind)
	}

	d := c.Dispatch
	if d.BatchSize <= 0 {
		return fmt.Errorf("dispatch batch size must be greater than 0")
	}
	if d.MaxRetries <= 0 {
		return fmt.Errorf("dispatch max retries must be greater than 0")
	}
	if d.MessageDelay < 0 || d.BatchDelay < 0 || d.RetryDelay < 0 {
		return fmt.Errorf("dispatch delays must not be negative")
	}
	if d.MaxAttachmentSize <= 0 {
		return fmt.Errorf("dispatch max attachment size must be greater than 0")
	}

	if c.Tracking.Enabled && c.Tracking.Domain == "" {
		return fmt.Errorf("tracking domain is required when tracking is enabled")
	}

	return nil
}
