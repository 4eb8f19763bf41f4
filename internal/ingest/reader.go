// Package ingest parses a pipeline's test-report artifact into the
// per-test records consumed by the record store.
//
// The supported artifact is the TestNG listener JSON format: a top-level
// array of objects carrying test_class, test_method, status, exception,
// stacktrace and assorted descriptive fields.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/vietddude/triage/internal/core/domain"
)

var (
	// ErrNotArray is returned when the artifact is valid JSON but not a
	// list of test objects.
	ErrNotArray = errors.New("expected JSON file to contain a list of test objects")
)

// listenerRecord mirrors one entry of the TestNG listener JSON.
type listenerRecord struct {
	TestClass  string `json:"test_class"`
	TestMethod string `json:"test_method"`
	Status     string `json:"status"`
	Owner      string `json:"owner"`
	Service    string `json:"service"`
	Priority   string `json:"priority"`
	Desc       string `json:"desc"`
	Exception  string `json:"exception"`
	Stacktrace string `json:"stacktrace"`
	FilePath   string `json:"file_path"`
	DurationMs int64  `json:"duration_ms"`
}

// ReadFile parses a listener JSON file into test records.
func ReadFile(path string) ([]domain.TestRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read results file: %w", err)
	}
	return Parse(data)
}

// Parse parses listener JSON bytes into test records in artifact order.
func Parse(data []byte) ([]domain.TestRecord, error) {
	// Reject objects up front so the error names the real problem
	var probe any
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to decode results JSON: %w", err)
	}
	if _, ok := probe.([]any); !ok {
		return nil, ErrNotArray
	}

	var raw []listenerRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode results JSON: %w", err)
	}

	records := make([]domain.TestRecord, 0, len(raw))
	for _, entry := range raw {
		records = append(records, domain.TestRecord{
			TestID:        Selector(entry.TestClass, entry.TestMethod),
			Outcome:       normalizeStatus(entry.Status),
			FailureDetail: failureDetail(entry.Exception, entry.Stacktrace),
			DurationMs:    entry.DurationMs,
			Owner:         entry.Owner,
			Service:       entry.Service,
			Priority:      entry.Priority,
			Desc:          entry.Desc,
			FilePath:      entry.FilePath,
		})
	}
	return records, nil
}

// Selector builds the Class#method test id used across the engine and as
// the runner's test selector.
func Selector(testClass, testMethod string) string {
	return fmt.Sprintf("%s#%s", testClass, testMethod)
}

// normalizeStatus maps listener status strings onto attempt outcomes by
// prefix, mirroring how the listener itself abbreviates them
// (PASS/PASSED, FAIL/FAILURE, SKIP/SKIPPED).
func normalizeStatus(status string) domain.AttemptOutcome {
	s := strings.ToUpper(strings.TrimSpace(status))
	switch {
	case strings.HasPrefix(s, "PASS"):
		return domain.OutcomePassed
	case strings.HasPrefix(s, "FAIL"):
		return domain.OutcomeFailed
	case strings.HasPrefix(s, "SKIP"):
		return domain.OutcomeSkipped
	default:
		// Anything else (ERROR, ABORTED, empty) is routed to
		// classification rather than silently dropped
		return domain.OutcomeErrored
	}
}

func failureDetail(exception, stacktrace string) string {
	switch {
	case exception == "" && stacktrace == "":
		return ""
	case stacktrace == "":
		return exception
	case exception == "":
		return stacktrace
	default:
		return exception + "\n" + stacktrace
	}
}
