package divamodel

import "testing"

func TestSessionKey(t *testing.T) {
	if got, want := SessionKey("cli", "u1"), "cli:u1"; got != want {
		t.Errorf("SessionKey() = %q, want %q", got, want)
	}
}

func TestSessionFilename(t *testing.T) {
	tests := map[string]string{
		"cli:u1":              "cli_u1",
		"telegram:123/456":    "telegram_123_456",
		`whatsapp:a\b`:        "whatsapp_a_b",
	}
	for key, want := range tests {
		if got := SessionFilename(key); got != want {
			t.Errorf("SessionFilename(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestSession_LastN(t *testing.T) {
	s := &Session{}
	for i := 0; i < 5; i++ {
		s.Append(Message{Role: RoleUser, Content: "m"})
	}

	if got := len(s.LastN(3)); got != 3 {
		t.Errorf("LastN(3) length = %d, want 3", got)
	}
	if got := len(s.LastN(10)); got != 5 {
		t.Errorf("LastN(10) length = %d, want 5 (fewer than n)", got)
	}

	var nilSession *Session
	if got := nilSession.LastN(3); got != nil {
		t.Errorf("nil session LastN() = %v, want nil", got)
	}
}
