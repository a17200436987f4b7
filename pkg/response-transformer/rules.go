package responsetransformer

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

type Rules []Rule

type Rule struct {
	Prefix   string            `yaml:"prefix"`
	Path     string            `yaml:"path"`
	Default  string            `yaml:"default"`
	Override string            `yaml:"override"`
	Query    map[string]string `yaml:"query"`
	Headers  map[string]string `yaml:"headers"`
}

// Modifier returns a response modifier applying the first matching rule
// to each successful origin response.
func (r Rules) Modifier(logger zerolog.Logger) func(*http.Response) error {
	return func(res *http.Response) error {
		return r.apply(logger, res)
	}
}

func (r Rules) apply(log zerolog.Logger, res *http.Response) error {
	// only apply rules for successes
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil
	}
	if res.Header == nil {
		res.Header = make(http.Header)
	}
	// if rule found, apply to response
	if rule := r.find(log, res); rule != nil {
		applyRuleToResponse(log, *rule, res)
	}
	return nil
}

func applyRuleToResponse(log zerolog.Logger, rule Rule, res *http.Response) {
	if rule.Override != "" {
		log.Trace().Msg("Overriding Cache-Control header")
		res.Header.Set("Cache-Control", rule.Override)
	} else if rule.Default != "" && res.Header.Get("Cache-Control") == "" {
		log.Trace().Msg("Applying default Cache-Control header")
		res.Header.Set("Cache-Control", rule.Default)
	}
	for name, value := range rule.Headers {
		log.Trace().Msgf("Setting header %s", name)
		res.Header.Set(name, value)
	}
}

func (r Rules) find(log zerolog.Logger, res *http.Response) *Rule {
	// responses of unknown requests only match rules without conditions
	path := ""
	var query map[string][]string
	if res.Request != nil && res.Request.URL != nil {
		path = res.Request.URL.Path
		query = res.Request.URL.Query()
	}
	log.Trace().Msgf("Finding rule for path %s", path)
rulesLoop:
	for i, rule := range r {
		if rule.Path != "" && rule.Path != path {
			continue
		}
		if rule.Prefix != "" && !strings.HasPrefix(path, rule.Prefix) {
			continue
		}
		for name, value := range rule.Query {
			values, ok := query[name]
			if !ok {
				continue rulesLoop
			}
			if value != "" && (len(values) == 0 || values[0] != value) {
				continue rulesLoop
			}
		}
		return &r[i]
	}
	return nil
}
