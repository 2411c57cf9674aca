package flow

import (
	"fmt"
	"testing"
)

func TestSlotProcessor_Normalizers(t *testing.T) {
	p := NewSlotProcessor(map[string]SlotConfig{
		"city": {Normalizer: "upper"},
		"name": {Normalizer: "trim"},
	})

	t.Run("upper", func(t *testing.T) {
		v, err := p.Process("city", "  nyc ", "")
		if err != nil {
			t.Fatalf("Process failed: %v", err)
		}
		if v != "NYC" {
			t.Errorf("expected NYC, got %v", v)
		}
	})

	t.Run("trim", func(t *testing.T) {
		v, err := p.Process("name", " bob ", "")
		if err != nil {
			t.Fatalf("Process failed: %v", err)
		}
		if v != "bob" {
			t.Errorf("expected trimmed, got %q", v)
		}
	})

	t.Run("non-string passes through", func(t *testing.T) {
		v, err := p.Process("city", 42, "")
		if err != nil {
			t.Fatalf("Process failed: %v", err)
		}
		if v != 42 {
			t.Errorf("expected untouched, got %v", v)
		}
	})
}

func TestSlotProcessor_Validators(t *testing.T) {
	p := NewSlotProcessor(map[string]SlotConfig{
		"age":    {Validator: "number"},
		"agree":  {Validator: "boolean"},
		"reason": {Validator: "nonempty"},
	})

	tests := []struct {
		slot  string
		value interface{}
		valid bool
	}{
		{"age", "42", true},
		{"age", 42, true},
		{"age", "soon", false},
		{"agree", "yes", true},
		{"agree", true, true},
		{"agree", "maybe", false},
		{"reason", "because", true},
		{"reason", "   ", false},
		{"unconstrained", "anything", true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s=%v", tt.slot, tt.value), func(t *testing.T) {
			_, err := p.Process(tt.slot, tt.value, "")
			if tt.valid && err != nil {
				t.Errorf("expected valid, got %v", err)
			}
			if !tt.valid && err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSlotProcessor_CustomAndStepValidator(t *testing.T) {
	p := NewSlotProcessor(nil)
	p.RegisterValidator("airport_code", func(v interface{}) error {
		s, ok := v.(string)
		if !ok || len(s) != 3 {
			return fmt.Errorf("value must be a 3-letter airport code")
		}
		return nil
	})

	if !p.HasValidator("airport_code") {
		t.Error("expected custom validator registered")
	}

	if _, err := p.Process("origin", "NYC", "airport_code"); err != nil {
		t.Errorf("expected NYC valid, got %v", err)
	}
	if _, err := p.Process("origin", "NEWARK", "airport_code"); err == nil {
		t.Error("expected NEWARK rejected")
	}
}
