package query

import (
	"strings"
	"testing"
	"time"
)

func TestBuildSummaryQuery(t *testing.T) {
	q, args := buildSummaryQuery("detections", time.Time{})
	if strings.Contains(q, "WHERE") || len(args) != 0 {
		t.Errorf("zero since should not filter: %q %v", q, args)
	}
	if !strings.Contains(q, "FROM detections") || !strings.Contains(q, "GROUP BY Reason, ClassGuess") {
		t.Errorf("unexpected query: %q", q)
	}

	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	q, args = buildSummaryQuery("detections", since)
	if !strings.Contains(q, "WHERE Timestamp >= ?") || len(args) != 1 || args[0] != since {
		t.Errorf("unexpected filtered query: %q %v", q, args)
	}
}

func TestBuildHostQuery(t *testing.T) {
	q, args, err := buildHostQuery("detections", "10.0.0.1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(q, "SrcIP = ? OR DstIP = ?") {
		t.Errorf("unexpected query: %q", q)
	}
	if len(args) != 3 || args[0] != "10.0.0.1" || args[2] != DefaultHostLimit {
		t.Errorf("unexpected args: %v", args)
	}

	if _, _, err := buildHostQuery("detections", "10.0.0.1' OR 1=1", 10); err == nil {
		t.Error("expected invalid address to be rejected")
	}
	if _, args, _ := buildHostQuery("detections", "::1", 5); args[2] != 5 {
		t.Errorf("limit not applied: %v", args)
	}
}
