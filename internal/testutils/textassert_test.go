//go:build test

package testutils

import (
	"fmt"
	"strings"
	"testing"
)

func TestTextAsserter_DefaultOptions(t *testing.T) {
	ta := NewTextAsserter(t)

	opts := ta.GetOptions()
	if opts.IgnoreLeadingWhitespace != false {
		t.Errorf("Expected IgnoreLeadingWhitespace to be false by default, got %v", opts.IgnoreLeadingWhitespace)
	}
	if opts.IgnoreTrailingWhitespace != false {
		t.Errorf("Expected IgnoreTrailingWhitespace to be false by default, got %v", opts.IgnoreTrailingWhitespace)
	}
	if opts.IgnoreEmptyLines != false {
		t.Errorf("Expected IgnoreEmptyLines to be false by default, got %v", opts.IgnoreEmptyLines)
	}
	if opts.TrimSpace != false {
		t.Errorf("Expected TrimSpace to be false by default, got %v", opts.TrimSpace)
	}
}

func TestTextAsserter_BasicComparison(t *testing.T) {
	t.Run("IdenticalStrings", func(t *testing.T) {
		ta := NewTextAsserter(t)
		diff := ta.diff("hello\nworld", "hello\nworld")
		if diff != "" {
			t.Errorf("Expected no diff for identical strings, got: %s", diff)
		}
	})

	t.Run("DifferentStrings", func(t *testing.T) {
		ta := NewTextAsserterWithInterface(&mockTestingT{})
		diff := ta.diff("line1\nline2\nline3", "line1\nlineX\nline3")
		if diff == "" {
			t.Error("Expected diff for different strings, got none")
		}
		if !contains(diff, "line2") || !contains(diff, "lineX") {
			t.Errorf("Expected diff to mention the differing lines, got: %s", diff)
		}
	})
}

func TestTextAsserter_IgnoreLeadingWhitespace(t *testing.T) {
	t.Run("IgnoreLeadingWhitespace_True", func(t *testing.T) {
		ta := NewTextAsserter(t).WithOptions(WithIgnoreLeadingWhitespace(true))
		diff := ta.diff("  indented", "indented")
		if diff != "" {
			t.Errorf("Expected no diff when leading whitespace is ignored, got: %s", diff)
		}
	})

	t.Run("IgnoreLeadingWhitespace_False", func(t *testing.T) {
		ta := NewTextAsserterWithInterface(&mockTestingT{})
		diff := ta.diff("  indented", "indented")
		if diff == "" {
			t.Error("Expected diff when leading whitespace differs")
		}
	})
}

func TestTextAsserter_TrimSpace(t *testing.T) {
	t.Run("TrimSpace_True", func(t *testing.T) {
		ta := NewTextAsserter(t).WithOptions(WithTrimSpace(true))
		diff := ta.diff("\n  body  \n", "body")
		if diff != "" {
			t.Errorf("Expected no diff with TrimSpace enabled, got: %s", diff)
		}
	})

	t.Run("TrimSpace_False", func(t *testing.T) {
		ta := NewTextAsserterWithInterface(&mockTestingT{})
		diff := ta.diff("\n  body  \n", "body")
		if diff == "" {
			t.Error("Expected diff with TrimSpace disabled")
		}
	})
}

func TestTextAsserter_IgnoreEmptyLines(t *testing.T) {
	ta := NewTextAsserter(t).WithOptions(WithIgnoreEmptyLines(true))
	diff := ta.diff("a\n\nb", "a\nb")
	if diff != "" {
		t.Errorf("Expected no diff with IgnoreEmptyLines enabled, got: %s", diff)
	}
}

func TestTextAsserter_Assert_Failure(t *testing.T) {
	// Use a mock testing.T to capture error messages
	mockT := &mockTestingT{}
	ta := NewTextAsserterWithInterface(mockT)

	ta.Assert("hello", "world")

	if !mockT.errorCalled {
		t.Error("Expected Errorf to be called for failed assertion")
	}

	if !contains(mockT.errorMessage, "Text assertion failed") {
		t.Errorf("Expected error message to contain 'Text assertion failed', got: %s", mockT.errorMessage)
	}
}

func TestTextAsserter_Assert_Success(t *testing.T) {
	mockT := &mockTestingT{}
	ta := NewTextAsserterWithInterface(mockT)

	ta.Assert("hello", "hello")

	if mockT.errorCalled {
		t.Errorf("Expected no error for successful assertion, got: %s", mockT.errorMessage)
	}
}

// Helper types and functions for testing

type mockTestingT struct {
	errorCalled  bool
	errorMessage string
}

func (m *mockTestingT) Errorf(format string, args ...interface{}) {
	m.errorCalled = true
	m.errorMessage = fmt.Sprintf(format, args...)
}

func contains(s, substr string) bool {
	return strings.Contains(s, substr)
}
