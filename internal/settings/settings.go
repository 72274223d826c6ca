// Package settings loads and validates the operator-maintained settings
// file that names the containers to capture and the alerting endpoints.
package settings

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultSMTPPort is used when the settings file does not name a port.
const DefaultSMTPPort = 587

// Settings is the full contents of the settings file.
type Settings struct {
	General    General         `yaml:"general"`
	Containers []ContainerSpec `yaml:"docker_container"`
	Email      Email           `yaml:"email"`
}

// General holds daemon-wide switches.
type General struct {
	// CentralLogPath is the directory all capture log files live under.
	CentralLogPath string `yaml:"central_log_path"`

	// EmailAlerts enables every outbound mail. When false the daemon only
	// logs.
	EmailAlerts bool `yaml:"email_alerts"`

	// AlertProgramErrors additionally enables the detailed failure mails.
	// It has no effect unless EmailAlerts is also set.
	AlertProgramErrors bool `yaml:"alert_program_errors"`
}

// ContainerSpec names one container whose log stream is captured.
type ContainerSpec struct {
	ContainerName  string      `yaml:"container_name"`
	LogName        string      `yaml:"log_name"`
	MaxLogFileSize int64       `yaml:"max_log_file_size"`
	Exclude        ExcludeList `yaml:"exclude"`
}

// Email configures the SMTP relay for alert mail.
type Email struct {
	SMTP                   string `yaml:"smtp"`
	SMTPPort               int    `yaml:"smtp_port"`
	AuthenticationRequired bool   `yaml:"authentication_required"`
	UseTLS                 bool   `yaml:"use_tls"`
	Username               string `yaml:"username"`
	Password               string `yaml:"password"`
	FromEmail              string `yaml:"from_email"`
	ToEmail                string `yaml:"to_email"`
}

// ExcludeList accepts either a single pattern or a list of patterns. An
// explicit empty-string pattern is kept as written: it matches every line,
// which operators use to silence a container without removing it.
type ExcludeList []string

func (e *ExcludeList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if value.Tag == "!!null" {
			*e = nil
			return nil
		}
		var single string
		if err := value.Decode(&single); err != nil {
			return err
		}
		*e = ExcludeList{single}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*e = ExcludeList(list)
		return nil
	default:
		return fmt.Errorf("exclude: expected a pattern or a list of patterns, got %s", value.Tag)
	}
}

// Load reads, parses, and validates the settings file at path. Unknown
// keys are rejected so a typo fails loudly instead of silently disabling
// a feature.
func Load(path string) (*Settings, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open settings file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	var s Settings
	if err := dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("settings file %s is empty", path)
		}
		return nil, fmt.Errorf("parse settings file %s: %w", path, err)
	}

	if s.Email.SMTPPort == 0 {
		s.Email.SMTPPort = DefaultSMTPPort
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks every field the daemon depends on. Email fields are only
// required when alerts are switched on.
func (s *Settings) Validate() error {
	if s.General.CentralLogPath == "" {
		return fmt.Errorf("settings: general.central_log_path is required")
	}
	if len(s.Containers) == 0 {
		return fmt.Errorf("settings: at least one docker_container entry is required")
	}
	for i, c := range s.Containers {
		if c.ContainerName == "" {
			return fmt.Errorf("settings: docker_container[%d]: container_name is required", i)
		}
		if c.LogName == "" {
			return fmt.Errorf("settings: docker_container[%d] (%s): log_name is required", i, c.ContainerName)
		}
		if c.MaxLogFileSize <= 0 {
			return fmt.Errorf("settings: docker_container[%d] (%s): max_log_file_size must be positive", i, c.ContainerName)
		}
	}

	if !s.General.EmailAlerts {
		return nil
	}
	if s.Email.SMTP == "" {
		return fmt.Errorf("settings: email.smtp is required when email_alerts is on")
	}
	if s.Email.SMTPPort < 1 || s.Email.SMTPPort > 65535 {
		return fmt.Errorf("settings: email.smtp_port %d is out of range", s.Email.SMTPPort)
	}
	if s.Email.FromEmail == "" {
		return fmt.Errorf("settings: email.from_email is required when email_alerts is on")
	}
	if s.Email.ToEmail == "" {
		return fmt.Errorf("settings: email.to_email is required when email_alerts is on")
	}
	if s.Email.AuthenticationRequired {
		if s.Email.Username == "" {
			return fmt.Errorf("settings: email.username is required when authentication_required is on")
		}
		if s.Email.Password == "" {
			return fmt.Errorf("settings: email.password is required when authentication_required is on")
		}
	}
	return nil
}
