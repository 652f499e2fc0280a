package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/peerdaemon/peerd/pkg/uploads"
)

var validate = validator.New()

// Validate checks the struct tags and the cross-field constraints that
// tags cannot express.
func Validate(opts *Options) error {
	if err := validate.Struct(opts); err != nil {
		var errs validator.ValidationErrors
		if ok := asValidationErrors(err, &errs); ok {
			messages := make([]string, 0, len(errs))
			for _, fe := range errs {
				messages = append(messages, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(messages, "; "))
		}
		return err
	}

	seen := map[string]bool{}
	for _, g := range opts.Uploads.Groups {
		if seen[g.Name] {
			return fmt.Errorf("invalid configuration: duplicate upload group %q", g.Name)
		}
		seen[g.Name] = true
		if g.Strategy != "" {
			if _, err := uploads.ParseStrategy(g.Strategy); err != nil {
				return fmt.Errorf("invalid configuration: group %q: %w", g.Name, err)
			}
		}
	}

	if opts.VPN.Enabled && opts.VPN.URL == "" {
		return fmt.Errorf("invalid configuration: vpn.url is required when vpn.enabled is set")
	}
	return nil
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	errs, ok := err.(validator.ValidationErrors)
	if ok {
		*target = errs
	}
	return ok
}
