package observability

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

type alertRule struct {
	Alert       string            `yaml:"alert"`
	Expr        string            `yaml:"expr"`
	For         string            `yaml:"for"`
	Labels      map[string]string `yaml:"labels"`
	Annotations map[string]string `yaml:"annotations"`
}

type alertGroup struct {
	Name  string      `yaml:"name"`
	Rules []alertRule `yaml:"rules"`
}

type alertFile struct {
	Groups []alertGroup `yaml:"groups"`
}

func TestIntakeAlertRules(t *testing.T) {
	path := filepath.Join("..", "..", "deploy", "prometheus", "alerts", "intake.yml")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read alert file: %v", err)
	}

	var file alertFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		t.Fatalf("failed to unmarshal alert file: %v", err)
	}

	var intakeGroup *alertGroup
	for i := range file.Groups {
		if file.Groups[i].Name == "intake" {
			intakeGroup = &file.Groups[i]
			break
		}
	}
	if intakeGroup == nil {
		t.Fatal("intake alert group missing")
	}

	expected := map[string]struct {
		severity string
		metric   string
	}{
		"SubmitErrorRate":         {severity: "critical", metric: "odyssey_orders_submitted_total"},
		"AllocationConflictSpike": {severity: "warning", metric: "odyssey_do_allocation_conflicts_total"},
		"HighLatency":             {severity: "warning", metric: "odyssey_http_request_duration_seconds_bucket"},
	}

	if len(intakeGroup.Rules) != len(expected) {
		t.Fatalf("expected %d rules, got %d", len(expected), len(intakeGroup.Rules))
	}

	for _, rule := range intakeGroup.Rules {
		want, ok := expected[rule.Alert]
		if !ok {
			t.Fatalf("unexpected rule %q", rule.Alert)
		}
		if rule.Labels["severity"] != want.severity {
			t.Fatalf("rule %s severity mismatch: %s", rule.Alert, rule.Labels["severity"])
		}
		if !strings.Contains(rule.Expr, want.metric) {
			t.Fatalf("rule %s must reference %s", rule.Alert, want.metric)
		}
		if rule.Annotations["summary"] == "" || rule.Annotations["description"] == "" {
			t.Fatalf("rule %s must include summary and description annotations", rule.Alert)
		}
		if rule.For == "" {
			t.Fatalf("rule %s must define a hold duration", rule.Alert)
		}
	}
}
