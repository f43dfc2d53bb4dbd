package ouman

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// InvalidPrefix is prepended to a select code with no mapping.
const InvalidPrefix = "invalid_"

// Normalize decodes one raw value. Select codes without a mapping
// become "invalid_<raw>" rather than an error.
func (p Param) Normalize(raw string) (any, error) {
	switch p.Kind {
	case KindSelect:
		if v, ok := p.Options[raw]; ok {
			return v, nil
		}
		return InvalidPrefix + raw, nil
	default:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.Code, err)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%s: non-finite value %q", p.Code, raw)
		}
		return f, nil
	}
}

// Decode parses a controller response body into values keyed by
// parameter key. The "request?" prefix is optional and trailing NULs
// and whitespace are ignored. Codes not in params are skipped silently;
// entries that fail to decode are skipped and reported in the returned
// error, which never invalidates the values that did decode.
func Decode(params []Param, body string) (map[string]any, error) {
	body = strings.TrimRight(body, "\x00 \t\r\n")
	if _, rest, ok := strings.Cut(body, "?"); ok {
		body = rest
	}

	byCode := make(map[string]Param, len(params))
	for _, p := range params {
		byCode[p.Code] = p
	}

	values := make(map[string]any)
	var errs []error
	for _, entry := range strings.Split(body, ";") {
		code, raw, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		p, known := byCode[strings.TrimSpace(code)]
		if !known {
			continue
		}
		v, err := p.Normalize(strings.TrimSpace(raw))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		values[p.Key] = v
	}
	return values, errors.Join(errs...)
}
