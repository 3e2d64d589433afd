package validation

import "testing"

func TestOrderID(t *testing.T) {
	valid := []string{"order_01H8X", "order_abc123"}
	invalid := []string{"", "order_", "ord_123", "order_a b", "order-123"}

	for _, s := range valid {
		if !OrderID(s) {
			t.Errorf("OrderID(%q) = false, want true", s)
		}
	}
	for _, s := range invalid {
		if OrderID(s) {
			t.Errorf("OrderID(%q) = true, want false", s)
		}
	}
}

func TestIntentID(t *testing.T) {
	if !IntentID("pi_3NqK2x") {
		t.Error("expected pi_3NqK2x to validate")
	}
	if IntentID("ch_3NqK2x") || IntentID("pi_") {
		t.Error("expected malformed intent refs to fail")
	}
}

func TestEventID(t *testing.T) {
	if !EventID("evt_1Abc") {
		t.Error("expected evt_1Abc to validate")
	}
	if EventID("1Abc") || EventID("evt_") {
		t.Error("expected malformed event ids to fail")
	}
}

func TestCustomTags(t *testing.T) {
	v := New()

	type req struct {
		OrderID  string `validate:"required,order_ref"`
		IntentID string `validate:"required,intent_ref"`
	}

	if err := v.Struct(req{OrderID: "order_1", IntentID: "pi_1"}); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
	if err := v.Struct(req{OrderID: "bogus", IntentID: "pi_1"}); err == nil {
		t.Fatal("expected order_ref validation error")
	}
}
