package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateSink(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.JobRoot == "" {
		return errors.New("paths.job_root must be set")
	}
	if c.Paths.ArchiveLog == "" {
		return errors.New("paths.archive_log must be set")
	}
	if c.Paths.RegisterDB == "" {
		return errors.New("paths.register_db must be set")
	}
	if c.Paths.CatalogDB == "" {
		return errors.New("paths.catalog_db must be set")
	}
	if len(c.StoragePrefixes()) == 0 {
		return errors.New("at least one of paths.repository, paths.legacy_files, paths.legacy_pixels must be set")
	}
	if within(c.Paths.ArchiveLog, c.Paths.JobRoot) {
		return fmt.Errorf("paths.archive_log %q must not live inside paths.job_root", c.Paths.ArchiveLog)
	}
	return nil
}

func (c *Config) validateSink() error {
	switch c.Sink.Kind {
	case SinkFile:
		if c.Sink.File.ArchiveRoot == "" {
			return errors.New("sink.file.archive_root must be set")
		}
		for _, prefix := range c.StoragePrefixes() {
			if within(c.Sink.File.ArchiveRoot, prefix) {
				return fmt.Errorf("sink.file.archive_root %q must not live inside %q", c.Sink.File.ArchiveRoot, prefix)
			}
		}
	case SinkArkivum:
		ark := c.Sink.Arkivum
		if ark.BaseURL == "" {
			return errors.New("sink.arkivum.base_url must be set")
		}
		if _, err := url.Parse(ark.BaseURL); err != nil {
			return fmt.Errorf("sink.arkivum.base_url: %w", err)
		}
		if ark.MountRoot == "" {
			return errors.New("sink.arkivum.mount_root must be set")
		}
	default:
		return fmt.Errorf("sink.kind: unsupported value %q (want %q or %q)", c.Sink.Kind, SinkFile, SinkArkivum)
	}
	return nil
}

func (c *Config) validateNotifications() error {
	n := c.Notifications
	switch n.Transport {
	case TransportNone, "":
	case TransportNtfy:
		if n.NtfyTopic == "" {
			return errors.New("notifications.ntfy_topic must be set when transport is ntfy")
		}
	case TransportSMTP:
		if n.SMTPAddr == "" {
			return errors.New("notifications.smtp_addr must be set when transport is smtp")
		}
		if !ValidAddress(n.From) {
			return fmt.Errorf("notifications.from %q is not a valid address", n.From)
		}
	default:
		return fmt.Errorf("notifications.transport: unsupported value %q", n.Transport)
	}
	for _, addr := range n.AdminEmails {
		if !ValidAddress(addr) {
			return fmt.Errorf("notifications.admin_emails: %q is not a valid address", addr)
		}
	}
	return nil
}

func within(path, root string) bool {
	if path == "" || root == "" {
		return false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
