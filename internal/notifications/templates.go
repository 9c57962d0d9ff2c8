package notifications

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"
)

const (
	KindPasswordReset     = "password_reset"
	KindLoginNotification = "login_notification"
	KindWelcome           = "welcome"
)

var layoutTemplate = template.Must(template.New("layout").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width">
<title>{{.Organization}}</title>
</head>
<body style="font-family:Arial,sans-serif;line-height:1.6;color:#333;max-width:600px;margin:0 auto;padding:20px;">
<div style="background-color:#f8f9fa;padding:20px;border-radius:5px;margin-bottom:20px;">
<h1 style="color:#333;margin:0;font-size:24px;text-align:center;">{{.Organization}}</h1>
</div>
<div style="background-color:#fff;padding:20px;border-radius:5px;margin-bottom:20px;">
{{.Body}}
</div>
<div style="text-align:center;font-size:12px;color:#666;margin-top:20px;padding-top:20px;border-top:1px solid #eee;">
<p>This message was sent automatically. Please do not reply.</p>
<p>&copy; {{.Year}} {{.Organization}}</p>
</div>
</body>
</html>`))

var passwordResetTemplate = template.Must(template.New("reset").Parse(`<h2 style="color:#333;">Reset your password</h2>
<p>We received a request to reset the password for this account.</p>
<p>Click the button below to choose a new password:</p>
<p style="text-align:center;margin:30px 0;">
<a href="{{.Link}}" style="background-color:#007bff;color:#fff;padding:12px 24px;text-decoration:none;border-radius:4px;display:inline-block;">Reset password</a>
</p>
<p>If the button does not work, copy this link into your browser:</p>
<p style="word-break:break-all;"><a href="{{.Link}}">{{.Link}}</a></p>
<p>This link is valid for {{.ValidFor}}. If you did not request a reset, you can ignore this email.</p>`))

var loginNotificationTemplate = template.Must(template.New("login").Parse(`<h2 style="color:#333;">New sign-in to your account</h2>
<p>Hello {{.Name}},</p>
<p>Your account was just signed in using {{.Provider}} at {{.At}}.</p>
<p>If this was not you, please contact support.</p>`))

var welcomeTemplate = template.Must(template.New("welcome").Parse(`<h2 style="color:#333;">Welcome, {{.Username}}!</h2>
<p>Your account has been created. You can now sign in with your email address.</p>`))

// layout wraps job bodies in the organisation-branded envelope.
type layout struct {
	organization string
	now          func() time.Time
}

func (l layout) html(body string) (string, error) {
	var buf bytes.Buffer
	err := layoutTemplate.Execute(&buf, struct {
		Organization string
		Body         template.HTML
		Year         int
	}{
		Organization: l.organization,
		Body:         template.HTML(body),
		Year:         l.now().Year(),
	})
	if err != nil {
		return "", fmt.Errorf("render layout: %w", err)
	}
	return buf.String(), nil
}

func (l layout) text(body string) string {
	return fmt.Sprintf("%s\n\n---\nThis message was sent automatically by %s\n© %d %s",
		StripHTML(body), l.organization, l.now().Year(), l.organization)
}

func (l layout) subject(subject string) string {
	subject = strings.TrimSpace(subject)
	if l.organization == "" {
		return subject
	}
	return fmt.Sprintf("[%s] %s", l.organization, subject)
}

// PasswordResetJob builds the email carrying a reset link.
func PasswordResetJob(to, link string, validFor time.Duration) (Job, error) {
	body, err := render(passwordResetTemplate, struct {
		Link     string
		ValidFor string
	}{Link: link, ValidFor: humanDuration(validFor)})
	if err != nil {
		return Job{}, err
	}
	return Job{To: to, Subject: "Password reset request", HTMLBody: body, Kind: KindPasswordReset}, nil
}

// LoginNotificationJob builds the one-time notice sent after a federated sign-in.
func LoginNotificationJob(to, name, provider string, at time.Time) (Job, error) {
	if strings.TrimSpace(name) == "" {
		name = to
	}
	body, err := render(loginNotificationTemplate, struct {
		Name     string
		Provider string
		At       string
	}{Name: name, Provider: provider, At: at.UTC().Format("2006-01-02 15:04 MST")})
	if err != nil {
		return Job{}, err
	}
	return Job{To: to, Subject: "New sign-in to your account", HTMLBody: body, Kind: KindLoginNotification}, nil
}

// WelcomeJob builds the greeting sent after registration.
func WelcomeJob(to, username string) (Job, error) {
	body, err := render(welcomeTemplate, struct{ Username string }{Username: username})
	if err != nil {
		return Job{}, err
	}
	return Job{To: to, Subject: "Welcome", HTMLBody: body, Kind: KindWelcome}, nil
}

func render(tmpl *template.Template, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}

func humanDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "a limited time"
	case d%time.Hour == 0:
		hours := int(d / time.Hour)
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	case d%time.Minute == 0:
		return fmt.Sprintf("%d minutes", int(d/time.Minute))
	default:
		return d.String()
	}
}
