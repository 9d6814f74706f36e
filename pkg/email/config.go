package email

// Config holds email service configuration. Without a server token the
// application falls back to LogSender.
type Config struct {
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail          string `env:"SENDER_EMAIL" envDefault:"billing@localhost.test"`
	SupportEmail         string `env:"SUPPORT_EMAIL" envDefault:"support@localhost.test"`
}

// Enabled reports whether Postmark credentials are configured.
func (c Config) Enabled() bool {
	return c.PostmarkServerToken != ""
}
