package config

import (
	"fmt"
	"net/url"
	"strings"

	"kblocks/internal/engine"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// ValidateRequired checks if a required string field is not empty
func ValidateRequired(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return ValidationError{Field: field, Value: value, Message: "is required"}
	}
	return nil
}

// ValidateOneOf checks if a value is in a list of allowed values
func ValidateOneOf(field, value string, allowed []string) error {
	for _, allowedValue := range allowed {
		if value == allowedValue {
			return nil
		}
	}
	return ValidationError{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// ValidateURL checks that a non-empty value is an absolute URL with one of
// the given schemes.
func ValidateURL(field, value string, schemes ...string) error {
	if value == "" {
		return nil
	}
	u, err := url.Parse(value)
	if err != nil || u.Host == "" {
		return ValidationError{Field: field, Value: value, Message: "must be an absolute URL"}
	}
	if err := ValidateOneOf(field+" scheme", u.Scheme, schemes); err != nil {
		return err
	}
	return nil
}

// Validate checks the configuration and returns every problem found.
func (c Config) Validate() error {
	var errs ValidationErrors
	add := func(err error) {
		if ve, ok := err.(ValidationError); ok {
			errs = append(errs, ve)
		}
	}

	add(ValidateRequired("block.group", c.Block.Group))
	add(ValidateRequired("block.version", c.Block.Version))
	add(ValidateRequired("block.plural", c.Block.Plural))
	add(ValidateRequired("block.kind", c.Block.Kind))
	add(ValidateRequired("block.system", c.Block.System))
	add(ValidateRequired("block.engine", c.Block.Engine))
	if strings.Contains(c.Block.System, "/") {
		errs.Add("block.system", "must not contain '/'", c.Block.System)
	}
	if c.Block.Workers < 1 {
		errs.Add("block.workers", "must be at least 1", c.Block.Workers)
	}

	if key := engine.Key(c.Block.Engine); key != "" && key != engine.Noop {
		if _, ok := c.Engines[key]; !ok {
			errs.Add("block.engine", fmt.Sprintf("no adapter configured for engine %q (add it under engines)", key), c.Block.Engine)
		}
	}
	for key, e := range c.Engines {
		add(ValidateRequired("engines."+key+".command", e.Command))
	}

	add(ValidateOneOf("watch.source", c.Watch.Source, []string{WatchSourceKubernetes, WatchSourceFilesystem}))
	if c.Watch.Source == WatchSourceFilesystem {
		add(ValidateRequired("watch.inbox", c.Watch.Inbox))
	}

	if c.Queue.PollInterval <= 0 {
		errs.Add("queue.pollInterval", "must be positive", c.Queue.PollInterval)
	}
	if c.Queue.LeaseTTL <= 0 {
		errs.Add("queue.leaseTTL", "must be positive", c.Queue.LeaseTTL)
	}

	add(ValidateURL("events.url", c.Events.URL, "http", "https"))
	if c.Events.Attempts < 1 {
		errs.Add("events.attempts", "must be at least 1", c.Events.Attempts)
	}
	if c.Events.Multiplier < 1 {
		errs.Add("events.multiplier", "must be at least 1", c.Events.Multiplier)
	}

	add(ValidateURL("control.url", c.Control.URL, "ws", "wss", "http", "https"))
	add(ValidateURL("notifications.webhookURL", c.Notifications.WebhookURL, "http", "https"))

	if c.References.DefaultTimeout <= 0 {
		errs.Add("references.defaultTimeout", "must be positive", c.References.DefaultTimeout)
	}
	if c.References.PollInterval <= 0 {
		errs.Add("references.pollInterval", "must be positive", c.References.PollInterval)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
