package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		origVersion := Version
		origCommit := Commit
		origBuildTime := BuildTime
		defer func() {
			Version = origVersion
			Commit = origCommit
			BuildTime = origBuildTime
		}()

		Version = "dev"
		Commit = "unknown"
		BuildTime = "unknown"

		result := String()

		if !strings.Contains(result, "dev") {
			t.Errorf("String() = %q, should contain 'dev'", result)
		}
		if !strings.Contains(result, "unknown") {
			t.Errorf("String() = %q, should contain 'unknown'", result)
		}
		if !strings.Contains(result, "built") {
			t.Errorf("String() = %q, should contain 'built'", result)
		}
	})

	t.Run("custom values", func(t *testing.T) {
		origVersion := Version
		origCommit := Commit
		origBuildTime := BuildTime
		defer func() {
			Version = origVersion
			Commit = origCommit
			BuildTime = origBuildTime
		}()

		Version = "0.4.1"
		Commit = "9f2c1e0"
		BuildTime = "2026-09-30T08:12:00Z"

		result := String()

		expected := "0.4.1 (9f2c1e0) built 2026-09-30T08:12:00Z"
		if result != expected {
			t.Errorf("String() = %q, want %q", result, expected)
		}
	})

	t.Run("format", func(t *testing.T) {
		result := String()
		if !strings.Contains(result, "("+Commit+")") {
			t.Errorf("String() = %q, should wrap the commit in parentheses", result)
		}
		if !strings.HasSuffix(result, "built "+BuildTime) {
			t.Errorf("String() = %q, should end with the build time", result)
		}
	})
}

func TestDefaultValues(t *testing.T) {
	for name, v := range map[string]string{
		"Version":   Version,
		"Commit":    Commit,
		"BuildTime": BuildTime,
	} {
		if v == "" {
			t.Errorf("%s should not be empty", name)
		}
	}
}
