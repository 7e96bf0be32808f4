// Package notification sends session alerts through shoutrrr service URLs
// (ntfy, Telegram, Discord, SMTP and the rest shoutrrr supports).
package notification

import (
	"fmt"
	"io"
	"log"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/ShoYamanishi/vurecorder/internal/conf"
	"github.com/ShoYamanishi/vurecorder/internal/errors"
	"github.com/ShoYamanishi/vurecorder/internal/logger"
)

const (
	componentName = "notification"

	titleFinished = "Recording finished"
	titleFailed   = "Recording failed"
)

// GetLogger returns the notification module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module(componentName)
}

// Notifier delivers one message to every configured service.
type Notifier struct {
	sender   *router.ServiceRouter
	urls     int
	onFinish bool
	log      logger.Logger
}

// New validates the URLs in s and builds their sender. Service URLs carry
// credentials, so errors never echo them.
func New(s *conf.NotifySettings, l logger.Logger) (*Notifier, error) {
	if l == nil {
		l = GetLogger()
	}
	if len(s.URLs) == 0 {
		return nil, errors.ValidationError("at least one notification URL is required")
	}

	sender, err := shoutrrr.CreateSender(slices.Clone(s.URLs)...)
	if err != nil {
		return nil, errors.New(sanitize(err)).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Context("url_count", len(s.URLs)).
			Build()
	}
	if s.Timeout > 0 {
		sender.Timeout = s.Timeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))

	return &Notifier{sender: sender, urls: len(s.URLs), onFinish: s.OnFinish, log: l}, nil
}

// Send delivers message with title to every service. The first failure is
// returned after all services were tried.
func (n *Notifier) Send(title, message string) error {
	params := stypes.Params{}
	if title != "" {
		params.SetTitle(title)
	}

	for _, err := range n.sender.Send(message, &params) {
		if err != nil {
			return errors.New(sanitize(err)).
				Component(componentName).
				Category(errors.CategoryIntegration).
				Context("title", title).
				Build()
		}
	}
	n.log.Debug("notification sent", logger.String("title", title), logger.Int("services", n.urls))
	return nil
}

// SessionFinished reports a completed recording when finish notifications
// are enabled.
func (n *Notifier) SessionFinished(file string, seconds float64) error {
	if !n.onFinish {
		return nil
	}
	d := time.Duration(seconds * float64(time.Second)).Round(100 * time.Millisecond)
	return n.Send(titleFinished, fmt.Sprintf("%s (%s)", filepath.Base(file), d))
}

// SessionFailed reports a failed recording.
func (n *Notifier) SessionFailed(cause error) error {
	msg := "recording stopped with an unknown error"
	if cause != nil {
		msg = sanitize(cause).Error()
	}
	return n.Send(titleFailed, msg)
}

var serviceURLRegex = regexp.MustCompile(`\b[a-zA-Z][a-zA-Z0-9+.-]*://\S+`)

// sanitizedError hides service URLs in the message but keeps the chain.
type sanitizedError struct {
	original error
	msg      string
}

func (e *sanitizedError) Error() string { return e.msg }
func (e *sanitizedError) Unwrap() error { return e.original }

func sanitize(err error) error {
	return &sanitizedError{original: err, msg: serviceURLRegex.ReplaceAllString(err.Error(), "[URL]")}
}
