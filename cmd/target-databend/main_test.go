package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/johndauphine/target-databend/internal/logging"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &errOut
	err := app.Run(append([]string{"target-databend"}, args...))
	return out.String(), err
}

func TestLoadEmitsStateAndRecordsHistory(t *testing.T) {
	dir := t.TempDir()
	logging.SetOutput(&bytes.Buffer{})
	defer logging.SetOutput(nil)

	historyDB := filepath.Join(dir, "history.db")
	cfgPath := writeFile(t, dir, "config.json",
		`{"host": "127.0.0.1", "port": "3307", "user": "loader", "password": "", "dbname": "shop", "history_db": "`+historyDB+`"}`)
	// No records, so the warehouse is never contacted.
	input := writeFile(t, dir, "input.jsonl",
		`{"type":"STATE","value":{"bookmarks":{"orders":1}}}`+"\n"+
			`{"type":"STATE","value":{"bookmarks":{"orders":2}}}`+"\n")

	out, err := runApp(t, "--config", cfgPath, "--input", input, "--log-level", "error")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	want := "{\"bookmarks\":{\"orders\":1}}\n{\"bookmarks\":{\"orders\":2}}\n"
	if out != want {
		t.Errorf("stdout = %q, want %q", out, want)
	}

	out, err = runApp(t, "--config", cfgPath, "history")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if !strings.Contains(out, "RUN ID") || !strings.Contains(out, "success") {
		t.Errorf("unexpected history output:\n%s", out)
	}
}

func TestHistoryRunNotFound(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.yaml",
		"user: loader\npassword: secret\ndbname: shop\nhistory_db: "+filepath.Join(dir, "h.db")+"\n")

	_, err := runApp(t, "--config", cfgPath, "history", "--run", "nope")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected not found error, got %v", err)
	}
}

func TestHistoryRequiresDatabase(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.yaml", "user: loader\npassword: secret\ndbname: shop\n")

	_, err := runApp(t, "--config", cfgPath, "history")
	if err == nil || !strings.Contains(err.Error(), "history_db") {
		t.Errorf("expected history_db error, got %v", err)
	}
}

func TestInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		config  string
		args    []string
		wantErr string
	}{
		{
			name:    "missing required keys",
			config:  `{"host": "localhost"}`,
			wantErr: "missing required config",
		},
		{
			name:    "bad log level flag",
			config:  `{"user": "u", "password": "p", "dbname": "d"}`,
			args:    []string{"--log-level", "verbose"},
			wantErr: "verbose",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			cfgPath := writeFile(t, dir, "config.json", tt.config)
			args := append([]string{"--config", cfgPath}, tt.args...)
			_, err := runApp(t, args...)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestMissingInputFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.json", `{"user": "u", "password": "p", "dbname": "d"}`)
	_, err := runApp(t, "--config", cfgPath, "--input", filepath.Join(dir, "absent.jsonl"))
	if err == nil || !strings.Contains(err.Error(), "opening input") {
		t.Errorf("expected input error, got %v", err)
	}
}
