package staging

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/healthlake-io/ingestlake/internal/handler"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

const (
	dateOnlyLayout  = "20060102"
	timestampLayout = "200601021504"
)

// coerceConfig carries the staging Options fields coerce needs, so it does
// not depend on the Options type directly.
type coerceConfig struct {
	disabled         bool
	dateFormat       string
	timestampFormat  string
	decimalPrecision int
}

// coerce converts raw, a trimmed/nullified source value, to t.TargetType.
// An empty raw value coerces to nil for every type (callers must have
// already applied the required-field check before calling coerce). With
// cfg.disabled, coercion is skipped entirely and raw is returned verbatim,
// for staging tables declared with text columns that do their own casting.
func coerce(raw string, t handler.TargetType, cfg coerceConfig) (interface{}, error) {
	if raw == "" {
		return nil, nil
	}

	if cfg.disabled {
		return raw, nil
	}

	switch t {
	case handler.TypeText:
		return raw, nil
	case handler.TypeInteger:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("not a valid integer: %q", raw)
		}

		return v, nil
	case handler.TypeDecimal:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("not a valid decimal: %q", raw)
		}

		if cfg.decimalPrecision > 0 {
			v, err = strconv.ParseFloat(strconv.FormatFloat(v, 'f', cfg.decimalPrecision, 64), 64)
			if err != nil {
				return nil, fmt.Errorf("rounding decimal %q: %w", raw, err)
			}
		}

		return v, nil
	case handler.TypeBoolean:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("not a valid boolean: %q", raw)
		}

		return v, nil
	case handler.TypeDate:
		layout := dateOnlyLayout
		if cfg.dateFormat != "" {
			layout = cfg.dateFormat
		}

		v, err := time.Parse(layout, raw)
		if err != nil {
			return nil, fmt.Errorf("not a valid date (expected %s): %q", layout, raw)
		}

		return v, nil
	case handler.TypeTimestamp:
		layout := timestampLayout
		if cfg.timestampFormat != "" {
			layout = cfg.timestampFormat
		}

		v, err := time.Parse(layout, raw)
		if err != nil {
			return nil, fmt.Errorf("not a valid timestamp (expected %s): %q", layout, raw)
		}

		return v, nil
	default:
		return nil, fmt.Errorf("unsupported target type %q", t)
	}
}

// validate applies each of rules to raw, the normalized source value (range
// rules parse it as a number), returning the first failure description, or
// "" if every rule passes.
func validate(raw string, rules []handler.ValidationRule) string {
	for _, rule := range rules {
		switch rule.Name {
		case "regex":
			pattern, err := regexp.Compile(rule.Pattern)
			if err != nil {
				return fmt.Sprintf("invalid validation pattern %q", rule.Pattern)
			}

			if !pattern.MatchString(raw) {
				return fmt.Sprintf("%q does not match pattern %q", raw, rule.Pattern)
			}
		case "email":
			if !emailPattern.MatchString(raw) {
				return fmt.Sprintf("%q is not a valid email address", raw)
			}
		case "range":
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return fmt.Sprintf("%q is not numeric for range validation", raw)
			}

			if v < rule.Min || v > rule.Max {
				return fmt.Sprintf("%v outside allowed range [%v, %v]", v, rule.Min, rule.Max)
			}
		}
	}

	return ""
}

// normalize trims whitespace and nullifies an empty string, per the
// transformer's trim -> null-check -> coerce -> validate pipeline.
func normalize(raw string, trim, nullifyEmpty bool) string {
	if trim {
		raw = strings.TrimSpace(raw)
	}

	if nullifyEmpty && raw == "" {
		return ""
	}

	return raw
}
