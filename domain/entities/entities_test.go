package entities

import "testing"

func TestUserTurn(t *testing.T) {
	turn := NewUserTurn("Where is gate 12?")

	if turn.Role != TurnRoleUser {
		t.Errorf("Expected role %s, got %s", TurnRoleUser, turn.Role)
	}

	if !turn.Completed() {
		t.Error("User turn should be complete on creation")
	}

	if turn.HasAudio {
		t.Error("User turn should not carry audio")
	}

	if err := turn.Validate(); err != nil {
		t.Errorf("Valid user turn should not have validation errors, got: %v", err)
	}
}

func TestAssistantTurnLifecycle(t *testing.T) {
	turn := NewAssistantTurn()

	if turn.Completed() {
		t.Error("Assistant turn should start incomplete")
	}

	if !turn.HasAudio {
		t.Error("Assistant turn should carry audio")
	}

	turn.SetText("Welcome")
	turn.SetText("Welcome to the lounge")
	if turn.Text != "Welcome to the lounge" {
		t.Errorf("Expected live text, got %q", turn.Text)
	}

	turn.Complete("Welcome to the lounge.")
	turn.SetText("mutated")
	turn.Complete("mutated again")

	if turn.Text != "Welcome to the lounge." {
		t.Errorf("Expected frozen text, got %q", turn.Text)
	}

	if err := turn.Validate(); err != nil {
		t.Errorf("Valid assistant turn should not have validation errors, got: %v", err)
	}
}

func TestTurnValidation(t *testing.T) {
	turn := NewUserTurn("hi")
	turn.HasAudio = true
	if err := turn.Validate(); err == nil {
		t.Error("User turn with audio should have validation error")
	}

	turn = NewAssistantTurn()
	turn.Complete("   ")
	if err := turn.Validate(); err == nil {
		t.Error("Completed turn with blank text should have validation error")
	}

	turn = NewAssistantTurn()
	turn.Role = TurnRole("system")
	if err := turn.Validate(); err == nil {
		t.Error("Turn with invalid role should have validation error")
	}
}

func TestProfileDisplayName(t *testing.T) {
	var missing *ProfileSnapshot
	if missing.DisplayName() != "Guest" {
		t.Errorf("Expected Guest for nil profile, got %s", missing.DisplayName())
	}

	profile := &ProfileSnapshot{FullName: "Ada Lovelace"}
	if profile.DisplayName() != "Ada Lovelace" {
		t.Errorf("Expected full name, got %s", profile.DisplayName())
	}
}
