package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevels(t *testing.T) {
	tests := []struct {
		level Level
		want  []string
	}{
		{LevelNone, nil},
		{LevelError, []string{"ERROR: e"}},
		{LevelWarning, []string{"ERROR: e", "WARNING: w"}},
		{LevelInfo, []string{"ERROR: e", "WARNING: w", "INFO: i"}},
		{LevelDebug, []string{"ERROR: e", "WARNING: w", "INFO: i", "DEBUG: d"}},
	}
	for _, test := range tests {
		t.Run(test.level.String(), func(t *testing.T) {
			var buf bytes.Buffer
			l := New(&buf, test.level)
			l.Errorf("e")
			l.Warningf("w")
			l.Infof("i")
			l.Debugf("d")

			lines := strings.Split(strings.TrimSuffix(buf.String(), "\r\n"), "\r\n")
			if len(test.want) == 0 {
				if buf.Len() != 0 {
					t.Fatalf("unexpected output %q", buf.String())
				}
				return
			}
			if len(lines) != len(test.want) {
				t.Fatalf("got %d lines, want %d: %q", len(lines), len(test.want), buf.String())
			}
			for i, line := range lines {
				if !strings.HasPrefix(line, "logger_test.go:") || !strings.HasSuffix(line, test.want[i]) {
					t.Errorf("line %d = %q, want logger_test.go:N %s", i, line, test.want[i])
				}
			}
		})
	}
}

func TestFatalIgnoresLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelNone)
	l.Fatalf("halted: %d", 3)
	if !strings.HasPrefix(buf.String(), "logger_test.go:") || !strings.HasSuffix(buf.String(), "FATAL: halted: 3\r\n") {
		t.Errorf("got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"info", LevelInfo, false},
		{" WARNING ", LevelWarning, false},
		{"1", LevelError, false},
		{"loud", LevelNone, true},
	}
	for _, test := range tests {
		got, err := ParseLevel(test.in)
		if (err != nil) != test.wantErr || got != test.want {
			t.Errorf("ParseLevel(%q) = %v, %v", test.in, got, err)
		}
	}
}
