// Package eval runs the smoke suite: each question is answered by the
// agent, the audit block is parsed, and the first value of its result is
// compared with a ground-truth query before the narrative is checked.
package eval

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Case is one evaluation question.
type Case struct {
	ID       string `json:"id"`
	Category string `json:"category,omitempty"`
	Question string `json:"question"`
	// SQLValidation produces the ground truth. Its first value of the first
	// row is compared with the agent's.
	SQLValidation string `json:"sql_validation"`
	ExpectedValue any    `json:"expected_value,omitempty"`
}

// Suite is a set of cases evaluated against one data snapshot.
type Suite struct {
	Name      string `json:"test_suite"`
	AsOfDate  string `json:"as_of_date,omitempty"`
	TestCases []Case `json:"test_cases"`
}

// LoadSuite reads a suite file. A bare JSON array of cases is accepted too.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read test cases: %w", err)
	}
	return ParseSuite(data)
}

// ParseSuite decodes suite JSON and validates every case.
func ParseSuite(data []byte) (*Suite, error) {
	var s Suite
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(data, &s.TestCases); err != nil {
			return nil, fmt.Errorf("failed to parse test cases: %w", err)
		}
	} else if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse test suite: %w", err)
	}

	if len(s.TestCases) == 0 {
		return nil, errors.New("test suite has no cases")
	}
	seen := make(map[string]struct{}, len(s.TestCases))
	for i, c := range s.TestCases {
		if c.ID == "" {
			return nil, fmt.Errorf("case %d: id is required", i)
		}
		if _, dup := seen[c.ID]; dup {
			return nil, fmt.Errorf("case %s: duplicate id", c.ID)
		}
		seen[c.ID] = struct{}{}
		if strings.TrimSpace(c.Question) == "" {
			return nil, fmt.Errorf("case %s: question is required", c.ID)
		}
		if strings.TrimSpace(c.SQLValidation) == "" {
			return nil, fmt.Errorf("case %s: sql_validation is required", c.ID)
		}
	}
	return &s, nil
}
