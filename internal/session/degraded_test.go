package session

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/infrastructure/config"
)

func TestDegradedPolicy_Resolve(t *testing.T) {
	p := NewDegradedPolicy(
		Rule{Fragment: "/semesters", Neutral: EmptyList},
		Rule{Fragment: "/current-term", Neutral: Null},
	)

	tests := []struct {
		name     string
		path     string
		status   int
		wantOK   bool
		wantBody string
	}{
		{"403 on semesters", "/api/hostels/3/semesters", 403, true, "[]"},
		{"401 on semesters", "/api/semesters", 401, true, "[]"},
		{"403 on null rule", "/api/current-term", 403, true, "null"},
		{"404 on semesters", "/api/semesters", 404, false, ""},
		{"500 on semesters", "/api/semesters", 500, false, ""},
		{"403 elsewhere", "/api/rooms", 403, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			orig := &http.Response{StatusCode: tt.status, Body: io.NopCloser(strings.NewReader(`{"error":"x"}`))}

			resp, rule, ok := p.Resolve(req, orig)
			if ok != tt.wantOK {
				t.Fatalf("Resolve() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if resp.StatusCode != http.StatusOK {
				t.Errorf("status = %d, want 200", resp.StatusCode)
			}
			if resp.Header.Get(DegradedHeader) != rule.Fragment {
				t.Errorf("%s = %q, want %q", DegradedHeader, resp.Header.Get(DegradedHeader), rule.Fragment)
			}
			body, _ := io.ReadAll(resp.Body) //nolint:errcheck // In-memory body
			if string(body) != tt.wantBody {
				t.Errorf("body = %q, want %q", body, tt.wantBody)
			}
			if resp.Request != req {
				t.Error("synthetic response not bound to request")
			}
		})
	}
}

func TestDegradedPolicy_Match(t *testing.T) {
	p := NewDegradedPolicy(
		Rule{Fragment: "/semesters", Neutral: EmptyList},
		Rule{Fragment: "/reports/occupancy", Neutral: Null},
	)

	tests := []struct {
		path     string
		wantFrag string
	}{
		{"/api/semesters", "/semesters"},
		{"/api/semesters/", "/semesters"},
		{"/api/hostels/3/semesters", "/semesters"},
		{"/api/semesters/7", "/semesters"},
		{"/api/semesters/current", "/semesters"},
		{"/api/reports/occupancy", "/reports/occupancy"},
		{"/api/semesters-archive", ""},
		{"/api/old-semesters", ""},
		{"/api/semesters/7/rooms", ""},
		{"/x/semesters/1/rooms", ""},
		{"/api/reports/occupancy-trend", ""},
		{"/api/occupancy", ""},
		{"/api/rooms", ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rule, ok := p.Match(tt.path)
			if ok != (tt.wantFrag != "") || rule.Fragment != tt.wantFrag {
				t.Errorf("Match(%q) = %q, %v, want %q", tt.path, rule.Fragment, ok, tt.wantFrag)
			}
		})
	}
}

func TestDegradedPolicy_NilAndEmpty(t *testing.T) {
	var p *DegradedPolicy
	if _, ok := p.Match("/semesters"); ok {
		t.Error("nil policy matched")
	}
	if got := NewDegradedPolicy(Rule{Fragment: ""}).Rules(); len(got) != 0 {
		t.Errorf("empty fragment kept: %+v", got)
	}
}

func TestDegradedPolicyFromConfig(t *testing.T) {
	p, err := DegradedPolicyFromConfig([]config.DegradedRuleConfig{
		{Fragment: "/semesters", Neutral: "empty_list"},
		{Fragment: "/notices", Neutral: "null"},
	})
	if err != nil {
		t.Fatalf("DegradedPolicyFromConfig() error = %v", err)
	}
	rules := p.Rules()
	if len(rules) != 2 || rules[1].Neutral != Null {
		t.Errorf("rules = %+v", rules)
	}

	// Rules are copied out; mutating the copy leaves the policy intact.
	rules[0].Fragment = "/changed"
	if _, ok := p.Match("/api/semesters"); !ok {
		t.Error("policy mutated through Rules()")
	}

	if _, err := DegradedPolicyFromConfig([]config.DegradedRuleConfig{{Fragment: "/x", Neutral: "zero"}}); err == nil {
		t.Error("unknown neutral accepted")
	}
}
