// Command e2e drives a running conversation worker through its admin API and
// checks the resulting lead state. It needs the worker to run with an
// in-memory or real queue and ADMIN_JWT_SECRET set.
//
// Usage:
//
//	ADMIN_JWT_SECRET=... API_BASE_URL=http://localhost:8080 go run ./scripts/e2e [scenario]
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	maxWait      = 45 * time.Second
	pollInterval = time.Second
)

type client struct {
	base  string
	token string
	http  *http.Client
}

type leadView struct {
	LeadID         string `json:"lead_id"`
	State          string `json:"state"`
	OptedOut       bool   `json:"opted_out"`
	HandoffPending bool   `json:"handoff_pending"`
	History        []struct {
		Direction string `json:"direction"`
		Text      string `json:"text"`
	} `json:"history"`
}

type scenario struct {
	name string
	run  func(c *client, leadID string) error
}

var scenarios = []scenario{
	{"showing-request", func(c *client, leadID string) error {
		if err := c.reengage(leadID); err != nil {
			return err
		}
		if _, err := c.waitFor(leadID, func(v leadView) bool { return outbound(v) >= 1 }); err != nil {
			return err
		}
		if err := c.message(leadID, "Could we schedule a showing this Saturday?"); err != nil {
			return err
		}
		_, err := c.waitFor(leadID, func(v leadView) bool { return outbound(v) >= 2 })
		return err
	}},
	{"opt-out", func(c *client, leadID string) error {
		if err := c.reengage(leadID); err != nil {
			return err
		}
		if err := c.message(leadID, "STOP"); err != nil {
			return err
		}
		_, err := c.waitFor(leadID, func(v leadView) bool { return v.State == "OPTED_OUT" && v.OptedOut })
		return err
	}},
	{"handoff-resume-close", func(c *client, leadID string) error {
		if err := c.reengage(leadID); err != nil {
			return err
		}
		if err := c.message(leadID, "Can I talk to a real person?"); err != nil {
			return err
		}
		if _, err := c.waitFor(leadID, func(v leadView) bool { return v.State == "HANDOFF" }); err != nil {
			return err
		}
		if err := c.post("/admin/leads/"+leadID+"/resume", nil, http.StatusOK); err != nil {
			return err
		}
		if _, err := c.waitFor(leadID, func(v leadView) bool { return v.State == "ENGAGED" && !v.HandoffPending }); err != nil {
			return err
		}
		if err := c.message(leadID, "Actually, have an agent call me"); err != nil {
			return err
		}
		if _, err := c.waitFor(leadID, func(v leadView) bool { return v.State == "HANDOFF" }); err != nil {
			return err
		}
		return c.post("/admin/leads/"+leadID+"/close", nil, http.StatusOK)
	}},
}

func main() {
	secret := os.Getenv("ADMIN_JWT_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "ADMIN_JWT_SECRET is required")
		os.Exit(2)
	}
	base := strings.TrimRight(os.Getenv("API_BASE_URL"), "/")
	if base == "" {
		base = "http://localhost:8080"
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "e2e-runner",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(secret))
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign token: %v\n", err)
		os.Exit(2)
	}
	c := &client{base: base, token: token, http: &http.Client{Timeout: 10 * time.Second}}

	only := ""
	if len(os.Args) > 1 {
		only = os.Args[1]
	}
	failed := 0
	for _, s := range scenarios {
		if only != "" && s.name != only {
			continue
		}
		leadID := "e2e-" + uuid.NewString()[:8]
		start := time.Now()
		if err := s.run(c, leadID); err != nil {
			failed++
			fmt.Printf("FAIL %-22s lead=%s %v\n", s.name, leadID, err)
			continue
		}
		fmt.Printf("PASS %-22s lead=%s %s\n", s.name, leadID, time.Since(start).Round(time.Millisecond))
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func (c *client) reengage(leadID string) error {
	return c.post("/admin/events", map[string]any{
		"lead_id": leadID,
		"trigger": "reengage",
		"profile": map[string]string{"name": "E2E Lead", "phone": "+15005550006"},
	}, http.StatusAccepted)
}

func (c *client) message(leadID, text string) error {
	return c.post("/admin/events", map[string]any{
		"lead_id":        leadID,
		"channel":        "sms",
		"text":           text,
		"correlation_id": "e2e:" + uuid.NewString(),
	}, http.StatusAccepted)
}

func (c *client) post(path string, payload any, want int) error {
	var body io.Reader = http.NoBody
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(http.MethodPost, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("POST %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

func (c *client) lead(leadID string) (leadView, error) {
	var v leadView
	req, err := http.NewRequest(http.MethodGet, c.base+"/admin/leads/"+leadID+"?history=50", nil)
	if err != nil {
		return v, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return v, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return v, fmt.Errorf("GET lead: status %d", resp.StatusCode)
	}
	return v, json.NewDecoder(resp.Body).Decode(&v)
}

func (c *client) waitFor(leadID string, ok func(leadView) bool) (leadView, error) {
	deadline := time.Now().Add(maxWait)
	var last leadView
	for time.Now().Before(deadline) {
		v, err := c.lead(leadID)
		if err == nil {
			last = v
			if ok(v) {
				return v, nil
			}
		}
		time.Sleep(pollInterval)
	}
	return last, fmt.Errorf("timed out in state %s after %s", last.State, maxWait)
}

func outbound(v leadView) int {
	n := 0
	for _, h := range v.History {
		if h.Direction == "outbound" {
			n++
		}
	}
	return n
}
