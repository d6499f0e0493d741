package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize is used when the client omits pageSize.
	DefaultPageSize = 20
	// DefaultMaxPageSize caps pageSize.
	DefaultMaxPageSize = 100

	maxFilterValueLength = 254
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidFilter    = errors.New("pagination: invalid filter")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// FilterKind constrains the values accepted for a filter field.
type FilterKind int

const (
	// FilterString accepts any non-empty value.
	FilterString FilterKind = iota
	// FilterBool accepts true or false.
	FilterBool
)

// Options describe the query parameters an endpoint accepts.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
	// Filters maps query parameter names to their kind. Unknown parameters
	// other than pageSize and pageToken are rejected.
	Filters map[string]FilterKind
}

// Params holds the parsed paging values and equality filters.
type Params struct {
	PageSize  int
	PageToken string
	Filters   map[string]string
}

// Bool returns the parsed boolean filter, or nil when it was not supplied.
func (p Params) Bool(name string) *bool {
	raw, ok := p.Filters[name]
	if !ok {
		return nil
	}
	value := raw == "true"
	return &value
}

// FromRequest parses the request query string.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	return Parse(r.URL.Query(), opts)
}

// Parse validates values against opts.
func Parse(values url.Values, opts Options) (Params, error) {
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = DefaultPageSize
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = DefaultMaxPageSize
	}

	params := Params{PageSize: opts.DefaultPageSize}
	if raw := strings.TrimSpace(values.Get("pageSize")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			return Params{}, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
		}
		if size <= 0 {
			return Params{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidPageSize)
		}
		params.PageSize = min(size, opts.MaxPageSize)
	}

	params.PageToken = strings.TrimSpace(values.Get("pageToken"))
	if len(params.PageToken) > 512 || strings.ContainsAny(params.PageToken, " \t\r\n") {
		return Params{}, ErrInvalidPageToken
	}

	for name, raw := range values {
		if name == "pageSize" || name == "pageToken" {
			continue
		}
		kind, ok := opts.Filters[name]
		if !ok {
			return Params{}, fmt.Errorf("%w: %q is not supported", ErrInvalidFilter, name)
		}
		if len(raw) != 1 {
			return Params{}, fmt.Errorf("%w: %q given more than once", ErrInvalidFilter, name)
		}
		value := sanitizeFilterValue(raw[0])
		if value == "" {
			continue
		}
		if kind == FilterBool {
			value = strings.ToLower(value)
			if value != "true" && value != "false" {
				return Params{}, fmt.Errorf("%w: %q must be true or false", ErrInvalidFilter, name)
			}
		}
		if params.Filters == nil {
			params.Filters = make(map[string]string)
		}
		params.Filters[name] = value
	}
	return params, nil
}

func sanitizeFilterValue(value string) string {
	value = strings.TrimSpace(value)
	value = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, value)
	if len(value) > maxFilterValueLength {
		value = value[:maxFilterValueLength]
	}
	return value
}
