package main

import (
	"strings"
	"testing"
)

func TestDescribe(t *testing.T) {
	got := describe([]byte(`{"type":"DRAW_OFFER"}`), "p1")
	if !strings.Contains(got, "type=DRAW_OFFER") || !strings.Contains(got, "from=p1") {
		t.Fatalf("describe = %q", got)
	}
	if got := describe([]byte("garbage"), "p2"); !strings.Contains(got, "undecodable") {
		t.Fatalf("describe = %q", got)
	}
}
