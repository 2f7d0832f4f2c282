package main

import (
	"strings"
	"testing"
)

func TestTableRender(t *testing.T) {
	tbl := newTable("Groups by status", "status", "groups")
	tbl.addRow("unresolved", "12")
	tbl.addRow("resolved", "3")

	out := tbl.render()

	if !strings.Contains(out, "Groups by status") {
		t.Error("render missing title")
	}
	if !strings.Contains(out, "unresolved") {
		t.Error("render missing cell content")
	}
	if !strings.Contains(out, "groups") {
		t.Error("render missing header")
	}
}

func TestTableRenderEmpty(t *testing.T) {
	tbl := newTable("Directives", "directive", "groups")

	out := tbl.render()

	if !strings.Contains(out, "nothing to show") {
		t.Errorf("empty table should say so, got %q", out)
	}
}
