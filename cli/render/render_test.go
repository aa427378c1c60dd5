package render

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{"json", FormatJSON, false},
		{"JSON", FormatJSON, false},
		{"table", FormatTable, false},
		{"yaml", FormatYAML, false},
		{"", "", false},
		{"xml", "", true},
		{"csv", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseFormat(%q) succeeded, want error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseFormat(%q) failed: %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestRender_JSON(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatJSON, &buf)

	data := map[string]any{"status": "healthy", "rtt_ms": 3}
	if err := r.Render(data); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if got["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", got["status"])
	}
}

func TestRender_YAML(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatYAML, &buf)

	if err := r.Render(map[string]string{"status": "healthy"}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(buf.String(), "status: healthy") {
		t.Errorf("yaml output = %q", buf.String())
	}
}

func TestRender_TableMapSortedKeys(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, &buf)

	data := map[string]any{"zeta": 1, "alpha": 2, "mid": 3}
	if err := r.Render(data); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	out := buf.String()
	alphaIdx := strings.Index(out, "alpha")
	midIdx := strings.Index(out, "mid")
	zetaIdx := strings.Index(out, "zeta")
	if alphaIdx < 0 || midIdx < 0 || zetaIdx < 0 {
		t.Fatalf("table output missing keys: %q", out)
	}
	if !(alphaIdx < midIdx && midIdx < zetaIdx) {
		t.Errorf("map keys not sorted in table output: %q", out)
	}
}

func TestRender_TableStruct(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, &buf)

	data := struct {
		Status string `json:"status"`
		RTT    int    `json:"rtt_ms"`
	}{Status: "slow", RTT: 812}
	if err := r.Render(data); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "status:") || !strings.Contains(out, "slow") {
		t.Errorf("table output = %q, want json-tagged field names", out)
	}
	if !strings.Contains(out, "rtt_ms:") {
		t.Errorf("table output = %q, want rtt_ms from tag", out)
	}
}

func TestRender_TableSlice(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, &buf)

	data := []map[string]any{
		{"name": "cube", "type": "MESH"},
		{"name": "lamp", "type": "LIGHT"},
	}
	if err := r.Render(data); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("table has %d lines, want header plus 2 rows: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "name") {
		t.Errorf("header = %q, want name column", lines[0])
	}
	if !strings.Contains(lines[1], "cube") || !strings.Contains(lines[2], "lamp") {
		t.Errorf("rows = %q", lines[1:])
	}
}

func TestRender_TableEmptySlice(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, &buf)

	if err := r.Render([]map[string]any{}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(buf.String(), "(no results)") {
		t.Errorf("empty slice output = %q", buf.String())
	}
}

func TestRender_TableNestedValues(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, &buf)

	data := map[string]any{
		"objects": []any{1, 2, 3},
		"stats":   map[string]any{"total": 3},
		"empty":   []any{},
	}
	if err := r.Render(data); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "[3 items]") {
		t.Errorf("output = %q, want summarized slice", out)
	}
	if !strings.Contains(out, "{1 keys}") {
		t.Errorf("output = %q, want summarized map", out)
	}
	if !strings.Contains(out, "[]") {
		t.Errorf("output = %q, want empty slice marker", out)
	}
}
