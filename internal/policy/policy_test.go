package policy

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestMaskPhoneKeepsLastDigits(t *testing.T) {
	if got := MaskPhone("+49 151 2345678"); got != "+*********678" {
		t.Fatalf("expected masked phone, got %q", got)
	}
	if got := MaskPhone("015112345"); got != "******345" {
		t.Fatalf("expected masked phone without prefix, got %q", got)
	}
	if got := MaskPhone("12"); got != "**" {
		t.Fatalf("expected short phone to be fully masked, got %q", got)
	}
	if got := MaskPhone(""); got != "" {
		t.Fatalf("expected empty phone to stay empty, got %q", got)
	}
}

func TestMaskPIIJSONMasksCommonPatterns(t *testing.T) {
	payload := json.RawMessage(`{"email":"mandant@example.de","mandant_phone":"+49 151 2345678","note":"IBAN DE89 3704 0044 0532 0130 00"}`)
	masked := MaskPIIJSON(payload)

	raw := string(masked)
	if strings.Contains(raw, "mandant@example.de") {
		t.Fatalf("expected email to be masked")
	}
	if strings.Contains(raw, "2345678") {
		t.Fatalf("expected phone to be masked, got %s", raw)
	}
	if strings.Contains(raw, "0532 0130") {
		t.Fatalf("expected iban to be masked, got %s", raw)
	}
}

func TestMaskPIIStringLeavesInvoiceNumbers(t *testing.T) {
	value := "invoice INV-2024-001 amount 120.50"
	if got := MaskPIIString(value); got != value {
		t.Fatalf("expected text without pii to be unchanged, got %q", got)
	}
}
