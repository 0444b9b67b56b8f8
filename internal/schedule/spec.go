package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Spec configures periodic update checks.
type Spec struct {
	Name     string `json:"name" mapstructure:"name"`
	Schedule string `json:"schedule" mapstructure:"schedule"`   // cron expression or descriptor (@every 6h)
	TimeZone string `json:"time_zone" mapstructure:"time_zone"` // IANA zone; empty uses local time
	Suspend  bool   `json:"suspend" mapstructure:"suspend"`     // keep the spec but never fire
}

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// GetDefaults fills unset fields.
func (s *Spec) GetDefaults() {
	if s.Name == "" {
		s.Name = "update-check"
	}
}

// Validate checks the cron expression and time zone.
func (s *Spec) Validate() error {
	if s.Schedule == "" {
		return fmt.Errorf("schedule %s: expression is required", s.Name)
	}
	if _, err := parser.Parse(s.Schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.Schedule, err)
	}
	if s.TimeZone != "" {
		if _, err := time.LoadLocation(s.TimeZone); err != nil {
			return fmt.Errorf("invalid time zone %q: %w", s.TimeZone, err)
		}
	}
	return nil
}

func (s *Spec) location() *time.Location {
	if s.TimeZone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(s.TimeZone)
	if err != nil {
		return time.Local
	}
	return loc
}
