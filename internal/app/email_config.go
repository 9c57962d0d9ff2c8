package app

import (
	"github.com/charlesng35/usermanager/internal/notifications"
	"github.com/charlesng35/usermanager/pkg/mail"
)

// SMTPSettings converts EmailConfig to the mail package representation.
func (c EmailConfig) SMTPSettings() mail.SMTPSettings {
	return mail.SMTPSettings{
		Enabled:  c.SMTP.Enabled,
		Host:     c.SMTP.Host,
		Port:     c.SMTP.Port,
		Username: c.SMTP.Username,
		Password: c.SMTP.Password,
		From:     c.SMTP.From,
		FromName: c.SMTP.FromName,
		UseTLS:   c.SMTP.UseTLS,
		Timeout:  c.SMTP.Timeout,
	}
}

// DispatcherConfig converts EmailConfig into dispatcher settings.
func (c EmailConfig) DispatcherConfig() notifications.DispatcherConfig {
	return notifications.DispatcherConfig{
		Organization: c.Organization,
		From:         c.SMTP.From,
		FromName:     c.SMTP.FromName,
		QueueSize:    c.Dispatch.QueueSize,
	}
}

// AdmissionGate builds the shared gate limiting concurrent sends.
func (c EmailConfig) AdmissionGate() *notifications.AdmissionGate {
	return notifications.NewAdmissionGate(c.Dispatch.MaxInFlight, c.Dispatch.Cooldown)
}
