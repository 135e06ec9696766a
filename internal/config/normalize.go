package config

import (
	"fmt"
	"net/mail"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeSink(); err != nil {
		return err
	}
	c.normalizeWorkflow()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	fields := []struct {
		name  string
		value *string
	}{
		{"paths.job_root", &c.Paths.JobRoot},
		{"paths.archive_log", &c.Paths.ArchiveLog},
		{"paths.register_db", &c.Paths.RegisterDB},
		{"paths.catalog_db", &c.Paths.CatalogDB},
		{"paths.log_dir", &c.Paths.LogDir},
		{"paths.repository", &c.Paths.Repository},
		{"paths.legacy_files", &c.Paths.LegacyFiles},
		{"paths.legacy_pixels", &c.Paths.LegacyPixels},
	}
	for _, field := range fields {
		expanded, err := expandPath(strings.TrimSpace(*field.value))
		if err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
		*field.value = expanded
	}
	return nil
}

func (c *Config) normalizeSink() error {
	c.Sink.Kind = strings.ToLower(strings.TrimSpace(c.Sink.Kind))
	if c.Sink.Kind == "" {
		c.Sink.Kind = defaultSinkKind
	}
	var err error
	if c.Sink.File.ArchiveRoot, err = expandPath(strings.TrimSpace(c.Sink.File.ArchiveRoot)); err != nil {
		return fmt.Errorf("sink.file.archive_root: %w", err)
	}
	if c.Sink.Arkivum.MountRoot, err = expandPath(strings.TrimSpace(c.Sink.Arkivum.MountRoot)); err != nil {
		return fmt.Errorf("sink.arkivum.mount_root: %w", err)
	}
	ark := &c.Sink.Arkivum
	ark.BaseURL = strings.TrimRight(strings.TrimSpace(ark.BaseURL), "/")
	if ark.BaseURL != "" && !strings.Contains(ark.BaseURL, "://") {
		ark.BaseURL = "https://" + ark.BaseURL
	}
	ark.MountPath = strings.Trim(strings.TrimSpace(ark.MountPath), "/")
	ark.TargetState = strings.ToLower(strings.TrimSpace(ark.TargetState))
	if ark.TargetState == "" {
		ark.TargetState = defaultArkivumTargetState
	}
	if ark.IngestDelaySeconds <= 0 {
		ark.IngestDelaySeconds = defaultArkivumIngestDelay
	}
	if ark.RequestTimeout <= 0 {
		ark.RequestTimeout = defaultArkivumRequestTimeout
	}
	return nil
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.MaxRetries < 0 {
		c.Workflow.MaxRetries = 0
	}
	if c.Workflow.ExpiryDays <= 0 {
		c.Workflow.ExpiryDays = defaultExpiryDays
	}
	if c.Workflow.MinFreeGiB < 0 {
		c.Workflow.MinFreeGiB = 0
	}
}

func (c *Config) normalizeNotifications() {
	n := &c.Notifications
	n.Transport = strings.ToLower(strings.TrimSpace(n.Transport))
	n.NtfyTopic = strings.TrimSpace(n.NtfyTopic)
	if n.NtfyTopic == "" {
		if value, ok := os.LookupEnv("ARCHIVIST_NTFY_TOPIC"); ok {
			n.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if n.Transport == "" {
		if n.NtfyTopic != "" {
			n.Transport = TransportNtfy
		} else {
			n.Transport = defaultNotifyTransport
		}
	}
	n.SMTPAddr = strings.TrimSpace(n.SMTPAddr)
	n.From = strings.TrimSpace(n.From)
	admins := n.AdminEmails[:0]
	for _, addr := range n.AdminEmails {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			admins = append(admins, trimmed)
		}
	}
	n.AdminEmails = admins
	if n.RequestTimeout <= 0 {
		n.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

// ValidAddress reports whether value parses as a single mail address.
func ValidAddress(value string) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return false
	}
	addr, err := mail.ParseAddress(value)
	return err == nil && addr.Address == value
}
