// Package rule exports component states into portable rule files and
// replays them against the live controllers.
package rule

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/eliteGoblin/focusd/comp_ctl/internal/domain"
)

const (
	// Ext is the file extension of rule files.
	Ext = ".json"
	// MIMEType is the media type of rule files.
	MIMEType = "application/json"
	// IfwExt is the extension of intent firewall documents.
	IfwExt = ".xml"
)

var validate = validator.New()

// FileName returns the rule file name of a package.
func FileName(packageName string) string {
	return packageName + Ext
}

// Encode writes rf as indented JSON.
func Encode(w io.Writer, rf *domain.RuleFile) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rf); err != nil {
		return fmt.Errorf("failed to encode rules of %s: %w", rf.PackageName, err)
	}
	return nil
}

// Decode reads and validates a rule file.
func Decode(r io.Reader) (*domain.RuleFile, error) {
	var rf domain.RuleFile
	if err := json.NewDecoder(r).Decode(&rf); err != nil {
		return nil, fmt.Errorf("failed to decode rule file: %w", err)
	}
	if err := Validate(&rf); err != nil {
		return nil, err
	}
	return &rf, nil
}

// Validate checks required fields and enum values, and that every
// component belongs to the file's package.
func Validate(rf *domain.RuleFile) error {
	if err := validate.Struct(rf); err != nil {
		return formatValidationError(err)
	}
	for i, c := range rf.Components {
		if c.PackageName != rf.PackageName {
			return fmt.Errorf("component %d (%s) belongs to %s, not %s", i, c.Name, c.PackageName, rf.PackageName)
		}
	}
	return nil
}

// formatValidationError formats validation errors into readable messages.
func formatValidationError(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	var messages []string
	for _, e := range validationErrors {
		switch e.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", e.Namespace()))
		case "oneof":
			messages = append(messages, fmt.Sprintf("%s must be one of: %s (got %q)", e.Namespace(), e.Param(), e.Value()))
		default:
			messages = append(messages, fmt.Sprintf("%s failed validation: %s", e.Namespace(), e.Tag()))
		}
	}
	return fmt.Errorf("invalid rule file: %s", strings.Join(messages, "; "))
}
