//go:build test

package testutils

import (
	"strings"
	"testing"
)

func TestJSONAsserter_DefaultOptions(t *testing.T) {
	ja := NewJSONAsserter(t)
	opts := ja.GetOptions()

	if !opts.IgnoreExtraKeys {
		t.Error("IgnoreExtraKeys should default to true")
	}
	if !opts.NilToEmptyArray {
		t.Error("NilToEmptyArray should default to true")
	}
	if !opts.AllowPresencePlaceholder {
		t.Error("AllowPresencePlaceholder should default to true")
	}
	if opts.CompareOnlyExpectedKeys {
		t.Error("CompareOnlyExpectedKeys should default to false")
	}
	if len(opts.IgnoredFields) != 0 {
		t.Error("IgnoredFields should default to empty slice")
	}
	if opts.IgnoreArrayOrder {
		t.Error("IgnoreArrayOrder should default to false")
	}
}

func TestJSONAsserter_PresencePlaceholder(t *testing.T) {
	t.Run("allows presence placeholder when enabled", func(t *testing.T) {
		ja := NewJSONAsserter(&testing.T{}).WithOptions(
			WithAllowPresencePlaceholder(true),
		)

		actualJSON := `{"id": "123", "timestamp": 1758348286}`
		expectedJSON := `{"id": "123", "timestamp": "<<PRESENCE>>"}`

		diff := ja.diff(actualJSON, expectedJSON)
		if diff != "" {
			t.Errorf("Expected no diff with presence placeholder enabled, got: %s", diff)
		}
	})

	t.Run("rejects presence placeholder when disabled", func(t *testing.T) {
		ja := NewJSONAsserter(&testing.T{}).WithOptions(
			WithAllowPresencePlaceholder(false),
		)

		actualJSON := `{"id": "123", "timestamp": 1758348286}`
		expectedJSON := `{"id": "123", "timestamp": "<<PRESENCE>>"}`

		diff := ja.diff(actualJSON, expectedJSON)
		if diff == "" {
			t.Error("Expected diff with presence placeholder disabled, got no diff")
		}
		if !containsString(diff, "<<PRESENCE>>") {
			t.Errorf("Expected diff to contain <<PRESENCE>>, got: %s", diff)
		}
	})
}

func TestJSONAsserter_IgnoreExtraKeys(t *testing.T) {
	t.Run("ignores extra keys when enabled", func(t *testing.T) {
		ja := NewJSONAsserter(&testing.T{}).WithOptions(
			WithIgnoreExtraKeys(true),
		)

		actualJSON := `{"id": "123", "name": "test", "extra": "value"}`
		expectedJSON := `{"id": "123", "name": "test"}`

		diff := ja.diff(actualJSON, expectedJSON)
		if diff != "" {
			t.Errorf("Expected no diff with IgnoreExtraKeys enabled, got: %s", diff)
		}
	})

	t.Run("detects extra keys when disabled", func(t *testing.T) {
		ja := NewJSONAsserter(&testing.T{}).WithOptions(
			WithIgnoreExtraKeys(false),
		)

		actualJSON := `{"id": "123", "name": "test", "extra": "value"}`
		expectedJSON := `{"id": "123", "name": "test"}`

		diff := ja.diff(actualJSON, expectedJSON)
		if diff == "" {
			t.Error("Expected diff with IgnoreExtraKeys disabled, got no diff")
		}
	})
}

func TestJSONAsserter_IgnoredFields(t *testing.T) {
	t.Run("ignores specified fields at top level", func(t *testing.T) {
		ja := NewJSONAsserter(&testing.T{}).WithOptions(
			WithIgnoredFields("timestamp", "seq"),
		)

		actualJSON := `{"id": "123", "timestamp": 1758348286, "seq": 7}`
		expectedJSON := `{"id": "123", "timestamp": 0, "seq": 0}`

		diff := ja.diff(actualJSON, expectedJSON)
		if diff != "" {
			t.Errorf("Expected no diff with ignored fields, got: %s", diff)
		}
	})

	t.Run("still detects differences in non-ignored fields", func(t *testing.T) {
		ja := NewJSONAsserter(&testing.T{}).WithOptions(
			WithIgnoredFields("timestamp"),
		)

		actualJSON := `{"id": "123", "timestamp": 1758348286}`
		expectedJSON := `{"id": "456", "timestamp": 0}`

		diff := ja.diff(actualJSON, expectedJSON)
		if diff == "" {
			t.Error("Expected diff for non-ignored field difference, got no diff")
		}
	})
}

func TestJSONAsserter_IgnoreArrayOrder(t *testing.T) {
	t.Run("arrays with same elements in different order match when enabled", func(t *testing.T) {
		ja := NewJSONAsserter(&testing.T{}).WithOptions(
			WithIgnoreArrayOrder(true),
		)

		actualJSON := `{"uuids": ["180f", "1800", "6e400001-b5a3-f393-e0a9-e50e24dcca9e"]}`
		expectedJSON := `{"uuids": ["6e400001-b5a3-f393-e0a9-e50e24dcca9e", "180f", "1800"]}`

		diff := ja.diff(actualJSON, expectedJSON)
		if diff != "" {
			t.Errorf("Expected no diff with IgnoreArrayOrder enabled, got: %s", diff)
		}
	})

	t.Run("arrays with same elements in different order fail when disabled", func(t *testing.T) {
		ja := NewJSONAsserter(&testing.T{}).WithOptions(
			WithIgnoreArrayOrder(false),
		)

		actualJSON := `{"uuids": ["180f", "1800"]}`
		expectedJSON := `{"uuids": ["1800", "180f"]}`

		diff := ja.diff(actualJSON, expectedJSON)
		if diff == "" {
			t.Error("Expected diff with IgnoreArrayOrder disabled, got no diff")
		}
	})

	t.Run("notification batches sort stably once ignored fields are removed", func(t *testing.T) {
		ja := NewJSONAsserter(&testing.T{}).WithOptions(
			WithIgnoreArrayOrder(true),
			WithIgnoredFields("seq"),
		)

		actualJSON := `{"events": [
			{"category": "battery", "value": "82", "seq": 2},
			{"category": "link", "value": "up", "seq": 1}
		]}`
		expectedJSON := `{"events": [
			{"category": "link", "value": "up", "seq": 99},
			{"category": "battery", "value": "82", "seq": 98}
		]}`

		diff := ja.diff(actualJSON, expectedJSON)
		if diff != "" {
			t.Errorf("Expected no diff for reordered events with ignored seq, got: %s", diff)
		}
	})
}

func TestJSONAsserter_RootArrays(t *testing.T) {
	ja := NewJSONAsserter(&testing.T{}).WithOptions(
		WithIgnoreArrayOrder(true),
	)

	actualJSON := `[{"id": "b"}, {"id": "a"}]`
	expectedJSON := `[{"id": "a"}, {"id": "b"}]`

	diff := ja.diff(actualJSON, expectedJSON)
	if diff != "" {
		t.Errorf("Expected no diff for reordered root array, got: %s", diff)
	}
}

func TestJSONAsserter_InvalidJSON(t *testing.T) {
	ja := NewJSONAsserter(&testing.T{})

	t.Run("invalid expected JSON", func(t *testing.T) {
		diff := ja.diff(`{"id": "123"}`, `{"id":`)
		if !containsString(diff, "invalid expected JSON") {
			t.Errorf("Expected invalid expected JSON error, got: %s", diff)
		}
	})

	t.Run("invalid actual JSON", func(t *testing.T) {
		diff := ja.diff(`{"id":`, `{"id": "123"}`)
		if !containsString(diff, "invalid actual JSON") {
			t.Errorf("Expected invalid actual JSON error, got: %s", diff)
		}
	})
}

func containsString(s, substr string) bool {
	return strings.Contains(s, substr)
}
