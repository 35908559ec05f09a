package session

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/infrastructure/config"
)

// DegradedHeader marks a synthetic response and names the matched fragment.
const DegradedHeader = "X-HMS-Degraded"

// Neutral is the value a degraded resource resolves to.
type Neutral int

const (
	// EmptyList resolves to [].
	EmptyList Neutral = iota
	// Null resolves to null.
	Null
)

func (n Neutral) body() string {
	if n == Null {
		return "null"
	}
	return "[]"
}

func (n Neutral) String() string {
	if n == Null {
		return "null"
	}
	return "empty_list"
}

// ParseNeutral accepts "empty_list" and "null".
func ParseNeutral(s string) (Neutral, error) {
	switch s {
	case "empty_list":
		return EmptyList, nil
	case "null":
		return Null, nil
	default:
		return 0, fmt.Errorf("unknown neutral value %q", s)
	}
}

// Rule maps a URL path fragment, one or more whole segments, to a neutral
// value.
type Rule struct {
	Fragment string
	Neutral  Neutral
}

// DegradedPolicy resolves authorisation failures on optional resources to a
// neutral success. It is immutable once built.
type DegradedPolicy struct {
	rules []Rule
}

// DefaultDegradedRules covers the optional per-tenant semester list.
func DefaultDegradedRules() []Rule {
	return []Rule{{Fragment: "/semesters", Neutral: EmptyList}}
}

// NewDegradedPolicy copies rules into a new policy. Rules with an empty
// fragment are ignored.
func NewDegradedPolicy(rules ...Rule) *DegradedPolicy {
	p := &DegradedPolicy{}
	for _, r := range rules {
		if r.Fragment != "" {
			p.rules = append(p.rules, r)
		}
	}
	return p
}

// DegradedPolicyFromConfig builds a policy from the session.degraded table.
func DegradedPolicyFromConfig(cfg []config.DegradedRuleConfig) (*DegradedPolicy, error) {
	rules := make([]Rule, 0, len(cfg))
	for i, rc := range cfg {
		n, err := ParseNeutral(rc.Neutral)
		if err != nil {
			return nil, fmt.Errorf("degraded rule %d: %w", i, err)
		}
		rules = append(rules, Rule{Fragment: rc.Fragment, Neutral: n})
	}
	return NewDegradedPolicy(rules...), nil
}

// Rules returns a copy of the rule table.
func (p *DegradedPolicy) Rules() []Rule {
	if p == nil {
		return nil
	}
	return append([]Rule(nil), p.rules...)
}

// Match returns the first rule whose fragment names the resource path points
// at: the fragment's segments end the path or are followed by one item
// segment. "/semesters" matches /api/semesters and /api/hostels/3/semesters/7
// but not /api/semesters-archive or /api/semesters/7/rooms.
func (p *DegradedPolicy) Match(path string) (Rule, bool) {
	if p == nil {
		return Rule{}, false
	}
	for _, r := range p.rules {
		if matchSegments(path, r.Fragment) {
			return r, true
		}
	}
	return Rule{}, false
}

func matchSegments(path, fragment string) bool {
	frag := strings.Trim(fragment, "/")
	if frag == "" {
		return false
	}
	path = strings.TrimSuffix(path, "/")

	for from := 0; from < len(path); {
		i := strings.Index(path[from:], frag)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(frag)
		if (start == 0 || path[start-1] == '/') && (end == len(path) || path[end] == '/') {
			if rest := strings.TrimPrefix(path[end:], "/"); !strings.Contains(rest, "/") {
				return true
			}
		}
		from = start + 1
	}
	return false
}

// Resolve replaces a 401 or 403 response for a degraded resource with a
// synthetic 200 carrying the neutral value. The original body is drained
// and closed. Other responses are left alone.
func (p *DegradedPolicy) Resolve(req *http.Request, resp *http.Response) (*http.Response, Rule, bool) {
	if resp == nil || (resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusForbidden) {
		return nil, Rule{}, false
	}
	rule, ok := p.Match(req.URL.Path)
	if !ok {
		return nil, Rule{}, false
	}

	if resp.Body != nil {
		_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // Drain for keep-alive
		resp.Body.Close()                     //nolint:errcheck // Replaced below
	}

	body := rule.Neutral.body()
	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	header.Set(DegradedHeader, rule.Fragment)

	return &http.Response{
		Status:        "200 OK",
		StatusCode:    http.StatusOK,
		Proto:         resp.Proto,
		ProtoMajor:    resp.ProtoMajor,
		ProtoMinor:    resp.ProtoMinor,
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}, rule, true
}
