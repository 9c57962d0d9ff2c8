package notifications

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// Job is a single email to send. The plain-text rendition is derived from HTMLBody.
type Job struct {
	To         string
	Subject    string
	HTMLBody   string
	Kind       string
	EnqueuedAt time.Time
}

func (j Job) validate() error {
	if _, err := mail.ParseAddress(strings.TrimSpace(j.To)); err != nil {
		return fmt.Errorf("%w: recipient %q: %v", ErrInvalidJob, j.To, err)
	}
	if strings.TrimSpace(j.Subject) == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidJob)
	}
	if strings.TrimSpace(j.HTMLBody) == "" {
		return fmt.Errorf("%w: body is required", ErrInvalidJob)
	}
	return nil
}
