package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestShowConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{agent: {id: "scout"}, llm: {model: "local-model"}}`), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("REPLYGATE_LLM_API_KEY", "sk-from-env")
	t.Setenv("REPLYGATE_TELEGRAM_TOKEN", "tg-from-env")

	t.Run("print", func(t *testing.T) {
		var out bytes.Buffer
		if err := showConfig(&out, path, ""); err != nil {
			t.Fatalf("showConfig: %v", err)
		}
		got := out.String()
		if strings.Contains(got, "sk-from-env") || strings.Contains(got, "tg-from-env") {
			t.Errorf("output leaks secrets:\n%s", got)
		}
		for _, want := range []string{"hash ", `"scout"`, `"local-model"`, secretMaskInOutput} {
			if !strings.Contains(got, want) {
				t.Errorf("output missing %q:\n%s", want, got)
			}
		}
	})

	t.Run("save", func(t *testing.T) {
		savePath := filepath.Join(dir, "out", "effective.json")
		var out bytes.Buffer
		if err := showConfig(&out, path, savePath); err != nil {
			t.Fatalf("showConfig: %v", err)
		}
		data, err := os.ReadFile(savePath)
		if err != nil {
			t.Fatalf("read saved config: %v", err)
		}
		if strings.Contains(string(data), "from-env") {
			t.Errorf("saved config contains secrets:\n%s", data)
		}
		if !strings.Contains(string(data), `"scout"`) {
			t.Errorf("saved config lost the agent id:\n%s", data)
		}
	})

	t.Run("invalid file", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		if err := os.WriteFile(bad, []byte(`{agent: `), 0600); err != nil {
			t.Fatalf("write config: %v", err)
		}
		if err := showConfig(&bytes.Buffer{}, bad, ""); err == nil {
			t.Error("showConfig accepted an unparsable file")
		}
	})
}

const secretMaskInOutput = `"***"`
