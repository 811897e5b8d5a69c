package cmcd

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// ErrMalformed is returned when a CMCD payload cannot be parsed.
var ErrMalformed = errors.New("malformed cmcd payload")

// Decode parses a CTA-5004 payload into a field map. Token keys decode to
// their token types, bare keys to true, quoted values to strings and
// numeric values to float64.
func Decode(s string) (Data, error) {
	d := Data{}
	s = strings.TrimSpace(s)

	for s != "" {
		i := strings.IndexAny(s, "=,")
		if i < 0 {
			if err := d.setFlag(s); err != nil {
				return nil, err
			}
			break
		}
		if s[i] == ',' {
			if err := d.setFlag(s[:i]); err != nil {
				return nil, err
			}
			s = s[i+1:]
			continue
		}

		key := strings.TrimSpace(s[:i])
		if key == "" {
			return nil, fmt.Errorf("%w: empty key", ErrMalformed)
		}
		s = s[i+1:]

		if strings.HasPrefix(s, `"`) {
			val, rest, err := readQuoted(s)
			if err != nil {
				return nil, fmt.Errorf("%w: key %q: %v", ErrMalformed, key, err)
			}
			d[key] = val
			rest = strings.TrimSpace(rest)
			if rest != "" && rest[0] != ',' {
				return nil, fmt.Errorf("%w: trailing data after %q", ErrMalformed, key)
			}
			s = strings.TrimPrefix(rest, ",")
			continue
		}

		raw := s
		s = ""
		if j := strings.IndexByte(raw, ','); j >= 0 {
			raw, s = raw[:j], raw[j+1:]
		}
		v, err := decodeBare(key, strings.TrimSpace(raw))
		if err != nil {
			return nil, err
		}
		d[key] = v
	}
	return d, nil
}

func (d Data) setFlag(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrMalformed)
	}
	d[key] = true
	return nil
}

func readQuoted(s string) (val, rest string, err error) {
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\':
			if i+1 >= len(s) {
				return "", "", errors.New("dangling escape")
			}
			i++
			b.WriteByte(s[i])
		case '"':
			return b.String(), s[i+1:], nil
		default:
			b.WriteByte(c)
		}
	}
	return "", "", errors.New("unterminated string")
}

func decodeBare(key, raw string) (any, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty value for %q", ErrMalformed, key)
	}
	switch key {
	case KeyObjectType:
		return ObjectType(raw), nil
	case KeyStreamingFormat:
		return StreamingFormat(raw), nil
	case KeyStreamType:
		return StreamType(raw), nil
	}
	switch raw {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return n, nil
	}
	return raw, nil
}

// FromHeaders decodes and merges every CMCD header present in h.
func FromHeaders(h http.Header) (Data, error) {
	d := Data{}
	for _, name := range headerNames {
		value := h.Get(name)
		if value == "" {
			continue
		}
		part, err := Decode(value)
		if err != nil {
			return nil, fmt.Errorf("header %s: %w", name, err)
		}
		for k, v := range part {
			d[k] = v
		}
	}
	return d, nil
}

// FromQuery decodes the CMCD query parameter, if any.
func FromQuery(q url.Values) (Data, error) {
	value := q.Get(QueryParam)
	if value == "" {
		return Data{}, nil
	}
	d, err := Decode(value)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return d, nil
}

// FromRequest extracts CMCD from r, preferring the query parameter over
// headers when both are present.
func FromRequest(r *http.Request) (Data, error) {
	if r.URL != nil && r.URL.Query().Has(QueryParam) {
		return FromQuery(r.URL.Query())
	}
	return FromHeaders(r.Header)
}
