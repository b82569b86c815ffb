// Package http provides the JSON API over the spending approval engine.
//
// This file implements utilities for parsing and validating request data.
// Bodies may be JSON or form encoded; query filters share one parser.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"coinvest/internal/core"
	"coinvest/internal/ports"
	"coinvest/internal/services"
)

const maxBodyBytes = 1 << 20

var errMalformedBody = errors.New("malformed request body")

// RequestBodyParser handles different content types for request body parsing.
type RequestBodyParser struct {
	body        []byte
	contentType string
	jsonData    map[string]interface{}
	formData    url.Values
	parsed      bool
	err         error
}

// NewRequestBodyParser creates a parser for the given request.
// It reads the body once and stores it for subsequent parsing.
func NewRequestBodyParser(r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{
		contentType: r.Header.Get("Content-Type"),
	}
	if r.Body == nil {
		return p
	}
	p.body, p.err = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	return p
}

// Parse attempts to parse the body as JSON or form data.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true

	if p.err != nil {
		p.err = fmt.Errorf("%w: %v", errMalformedBody, p.err)
		return p.err
	}

	if len(p.body) == 0 {
		p.formData = url.Values{}
		return nil
	}

	if p.body[0] == '{' {
		p.jsonData = make(map[string]interface{})
		if err := json.Unmarshal(p.body, &p.jsonData); err != nil {
			p.err = fmt.Errorf("%w: %v", errMalformedBody, err)
			return p.err
		}
		return nil
	}

	form, err := url.ParseQuery(string(p.body))
	if err != nil {
		p.err = fmt.Errorf("%w: %v", errMalformedBody, err)
		return p.err
	}
	p.formData = form
	return nil
}

// Get returns a string value from the parsed data (JSON or form).
func (p *RequestBodyParser) Get(key string) string {
	if p.jsonData != nil {
		if val, ok := p.jsonData[key]; ok {
			return strings.TrimSpace(sanitizeInput(stringValue(val)))
		}
	}
	if p.formData != nil {
		return strings.TrimSpace(sanitizeInput(p.formData.Get(key)))
	}
	return ""
}

// stringValue converts an interface{} to string.
func stringValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// ParseNewSpending reads a spending creation request for projectID.
func ParseNewSpending(p *RequestBodyParser, projectID string) (core.NewSpending, error) {
	if err := p.Parse(); err != nil {
		return core.NewSpending{}, err
	}
	cents, err := core.ParseDecimalToCents(p.Get("amount"))
	if err != nil {
		return core.NewSpending{}, err
	}
	spentOn, err := parseDate(p.Get("spentOn"))
	if err != nil {
		return core.NewSpending{}, err
	}
	return core.NewSpending{
		ProjectID:   projectID,
		Amount:      core.Money{Cents: cents},
		Category:    core.Category(p.Get("category")),
		ProductName: p.Get("productName"),
		PayeeName:   p.Get("payeeName"),
		PayeePlace:  p.Get("payeePlace"),
		LedgerID:    p.Get("ledgerId"),
		SubLedger:   p.Get("subLedger"),
		Description: p.Get("description"),
		SpentOn:     spentOn,
		FundedBy:    p.Get("fundedBy"),
	}, nil
}

// VoteRequest is the body of a vote.
type VoteRequest struct {
	// VoterID must equal the X-User-ID actor; empty means the actor.
	VoterID  string
	Decision core.Decision
}

// ParseVote reads a vote request. The voter defaults to the actor later on.
func ParseVote(p *RequestBodyParser) (VoteRequest, error) {
	if err := p.Parse(); err != nil {
		return VoteRequest{}, err
	}
	return VoteRequest{
		VoterID:  p.Get("voterId"),
		Decision: core.Decision(strings.ToLower(p.Get("decision"))),
	}, nil
}

// ParseSpendingFilter reads status, from and to from the query string.
func ParseSpendingFilter(q url.Values) (ports.SpendingFilter, error) {
	var f ports.SpendingFilter
	if v := strings.TrimSpace(q.Get("status")); v != "" {
		f.Status = core.Status(strings.ToLower(v))
		if !f.Status.Valid() {
			return f, core.ErrInvalidStatus
		}
	}
	var err error
	if f.From, err = parseDate(q.Get("from")); err != nil {
		return f, err
	}
	if f.To, err = parseDate(q.Get("to")); err != nil {
		return f, err
	}
	return f, nil
}

// ParseListFilter adds the owner filter to ParseSpendingFilter.
func ParseListFilter(q url.Values) (services.ListFilter, error) {
	f, err := ParseSpendingFilter(q)
	if err != nil {
		return services.ListFilter{}, err
	}
	return services.ListFilter{SpendingFilter: f, Owner: sanitizeInput(q.Get("owner"))}, nil
}

// ParseProjectIDs accepts repeated and comma separated project parameters.
func ParseProjectIDs(q url.Values) []string {
	var out []string
	for _, v := range q["project"] {
		for _, id := range strings.Split(v, ",") {
			if id = sanitizeInput(id); id != "" {
				out = append(out, id)
			}
		}
	}
	return out
}

// ParseLimit reads a positive limit, falling back to def.
func ParseLimit(q url.Values, def, max int) int {
	n, err := strconv.Atoi(strings.TrimSpace(q.Get("limit")))
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
