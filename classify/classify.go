// Package classify assigns a document type to an uploaded file based on an
// ordered list of filename rules. Classification is deterministic and does no
// I/O; the first matching rule wins.
package classify

import (
	"fmt"
	"regexp"
	"strings"

	"monthend_back/errdefs"
)

// Result is the outcome of classifying one filename.
type Result struct {
	DocType     string  `json:"doc_type"`
	Confidence  float64 `json:"confidence"`
	MatchedRule string  `json:"matched_rule"`
}

type rule struct {
	docType    string
	pattern    *regexp.Regexp
	confidence float64
}

// Rules are checked in order; more specific patterns come first so
// "invoice_register" is not swallowed by the generic invoice rule.
var rules = []rule{
	{"invoice_register", regexp.MustCompile(`invoice.*register|register.*invoice`), 0.95},
	{"bank_statement", regexp.MustCompile(`bank|statement|account|transaction`), 0.95},
	{"invoice_register", regexp.MustCompile(`invoice|bill|receipt`), 0.85},
	{"general_ledger", regexp.MustCompile(`ledger|journal|entry|\bgl\b`), 0.95},
	{"trial_balance", regexp.MustCompile(`trial|balance`), 0.95},
	{"reconciliation", regexp.MustCompile(`recon`), 0.95},
	{"cash_flow", regexp.MustCompile(`cash.*flow|flow.*cash`), 0.95},
	{"schedule", regexp.MustCompile(`schedule|depreciation|accrual`), 0.9},
}

// Classify matches the filename against the rule table. sample is a prefix
// of the file content, reserved for content heuristics.
func Classify(filename string, sample string) (Result, error) {
	trimmed := strings.TrimSpace(filename)
	if trimmed == "" {
		return Result{}, fmt.Errorf("classify: filename is empty: %w", errdefs.ErrInvalidInput)
	}

	lower := strings.ToLower(trimmed)
	for _, r := range rules {
		if r.pattern.MatchString(lower) {
			return Result{
				DocType:     r.docType,
				Confidence:  r.confidence,
				MatchedRule: r.pattern.String(),
			}, nil
		}
	}

	return Result{DocType: "unknown", Confidence: 0}, nil
}

// KnownTypes lists every document type a rule can produce, in rule order
// without duplicates.
func KnownTypes() []string {
	seen := make(map[string]struct{}, len(rules))
	types := make([]string, 0, len(rules))
	for _, r := range rules {
		if _, ok := seen[r.docType]; ok {
			continue
		}
		seen[r.docType] = struct{}{}
		types = append(types, r.docType)
	}
	return types
}
