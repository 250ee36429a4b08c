package config

const redacted = "***"

// Redacted returns a copy of cfg with secrets masked, safe to log or serve.
func Redacted(cfg *Config) *Config {
	if cfg == nil {
		return nil
	}
	out := *cfg
	out.Telegram.Token = mask(out.Telegram.Token)
	out.Directory.Token = mask(out.Directory.Token)
	out.Mail.Password = mask(out.Mail.Password)
	out.Admin.Token = mask(out.Admin.Token)
	return &out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return redacted
}
