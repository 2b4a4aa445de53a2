package orchestrate

import (
	"testing"
)

func TestRegistryAllPreservesRegistrationOrder(t *testing.T) {
	reg := testRegistry(t, "github", "email", "scraper")

	all := reg.All()
	if len(all) != 3 {
		t.Fatalf("All() returned %d descriptors, want 3", len(all))
	}
	want := []string{"github", "email", "scraper"}
	for i, d := range all {
		if d.ID != want[i] {
			t.Errorf("All()[%d].ID = %q, want %q", i, d.ID, want[i])
		}
	}
}

func TestRegistryDuplicateIDLastWins(t *testing.T) {
	reg := testRegistry(t, "github", "email")

	reg.Register(AgentDescriptor{
		ID:              "github",
		DisplayName:     "GitHub v2",
		RoutingToolName: "delegate_to_github_v2",
		Graph:           testWorker(t, "github", "v2 done"),
	})

	if reg.Len() != 2 {
		t.Errorf("Len() = %d, want 2 (re-registration must not grow)", reg.Len())
	}

	d := reg.ByID("github")
	if d == nil {
		t.Fatal("ByID(github) = nil after re-registration")
	}
	if d.DisplayName != "GitHub v2" {
		t.Errorf("DisplayName = %q, want %q (last registration wins)", d.DisplayName, "GitHub v2")
	}

	// Original ordering slot is kept.
	all := reg.All()
	if all[0].ID != "github" || all[1].ID != "email" {
		t.Errorf("order after re-registration = [%s, %s], want [github, email]", all[0].ID, all[1].ID)
	}

	// The old routing tool no longer resolves; the new one does.
	if reg.ByToolName("delegate_to_github") != nil {
		t.Error("stale routing tool still resolves after re-registration")
	}
	if reg.ByToolName("delegate_to_github_v2") == nil {
		t.Error("new routing tool does not resolve")
	}
}

func TestRegistryByToolName(t *testing.T) {
	reg := testRegistry(t, "github", "email")

	d := reg.ByToolName("delegate_to_email")
	if d == nil {
		t.Fatal("ByToolName(delegate_to_email) = nil")
	}
	if d.ID != "email" {
		t.Errorf("ID = %q, want email", d.ID)
	}

	if reg.ByToolName("delegate_to_nobody") != nil {
		t.Error("unknown routing tool should return nil")
	}
}

func TestRegistryByIDMissing(t *testing.T) {
	reg := NewRegistry(newTestLogger())
	if reg.ByID("ghost") != nil {
		t.Error("ByID on empty registry should return nil")
	}
	if reg.Len() != 0 {
		t.Errorf("Len() = %d, want 0", reg.Len())
	}
}
