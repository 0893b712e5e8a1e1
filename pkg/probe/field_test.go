package probe

import (
	"encoding/json"
	"testing"
	"time"
)

func TestField_ZeroValueIsUnknown(t *testing.T) {
	var f Field[bool]
	if f.IsKnown() {
		t.Error("zero Field must be unknown")
	}
	if _, ok := f.Value(); ok {
		t.Error("zero Field must not report a value")
	}
	if f.Reason() != ReasonUnset {
		t.Errorf("zero Field reason = %v, want unset", f.Reason())
	}
}

func TestField_KnownFalseIsNotUnknown(t *testing.T) {
	f := Known(false)
	if !f.IsKnown() {
		t.Error("a confirmed negative must be known")
	}
	v, ok := f.Value()
	if !ok || v {
		t.Errorf("expected (false, true), got (%v, %v)", v, ok)
	}
	if f.Reason() != ReasonNone {
		t.Errorf("known field reason = %v, want none", f.Reason())
	}
}

func TestField_UnknownReasons(t *testing.T) {
	if r := Unknown[string](ReasonQueryFailed).Reason(); r != ReasonQueryFailed {
		t.Errorf("got %v, want query-failed", r)
	}
	if r := Unknown[string](ReasonNotApplicable).Reason(); r != ReasonNotApplicable {
		t.Errorf("got %v, want not-applicable", r)
	}
}

func TestField_MarshalJSON(t *testing.T) {
	cases := []struct {
		name string
		in   json.Marshaler
		want string
	}{
		{"known true", Known(true), "true"},
		{"known false", Known(false), "false"},
		{"unknown bool", Unknown[bool](ReasonQueryFailed), "null"},
		{"known string", Known("Acme AV"), `"Acme AV"`},
		{"unknown string", Unknown[string](ReasonNotApplicable), "null"},
		{"known int", Known(int64(1)), "1"},
	}

	for _, tc := range cases {
		got, err := json.Marshal(tc.in)
		if err != nil {
			t.Fatalf("%s: marshal failed: %v", tc.name, err)
		}
		if string(got) != tc.want {
			t.Errorf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestRecord_MarshalJSON(t *testing.T) {
	rec := NewRecord("ws1")
	rec.AntivirusEnabled = Known(true)
	rec.AntimalwareServiceEnabled = Known(false)
	rec.AntivirusProductName = Known("Acme AV")
	rec.FirewallDomainProfileEnabled = Known(int64(1))
	rec.AntivirusSignatureLastUpdated = Known(time.Date(2025, 8, 12, 14, 30, 50, 0, time.UTC))

	raw, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if out["host"] != "ws1" {
		t.Errorf("host = %v, want ws1", out["host"])
	}
	if out["antivirusEnabled"] != true {
		t.Errorf("antivirusEnabled = %v, want true", out["antivirusEnabled"])
	}
	if out["antimalwareServiceEnabled"] != false {
		t.Errorf("antimalwareServiceEnabled = %v, want false", out["antimalwareServiceEnabled"])
	}
	if out["antivirusProductName"] != "Acme AV" {
		t.Errorf("antivirusProductName = %v", out["antivirusProductName"])
	}
	if out["firewallDomainProfileEnabled"] != float64(1) {
		t.Errorf("firewallDomainProfileEnabled = %v", out["firewallDomainProfileEnabled"])
	}
	// Unknown fields serialize as explicit null, distinguishable from false.
	if v, present := out["realTimeProtectionEnabled"]; !present || v != nil {
		t.Errorf("realTimeProtectionEnabled = %v, want null", v)
	}
	if v, present := out["firewallProductName"]; !present || v != nil {
		t.Errorf("firewallProductName = %v, want null", v)
	}
}

func TestReason_String(t *testing.T) {
	cases := map[Reason]string{
		ReasonNone:          "none",
		ReasonUnset:         "unset",
		ReasonQueryFailed:   "query-failed",
		ReasonNotApplicable: "not-applicable",
	}
	for r, want := range cases {
		if r.String() != want {
			t.Errorf("Reason(%d).String() = %q, want %q", r, r.String(), want)
		}
	}
}

func TestRecord_ApplyAntimalwarePartialRow(t *testing.T) {
	rec := NewRecord("ws1")
	rec.applyAntimalware(map[string]any{
		"AntivirusEnabled": true,
		// everything else missing from the row
	})

	if v, ok := rec.AntivirusEnabled.Value(); !ok || !v {
		t.Error("present property must be applied")
	}
	if rec.RealTimeProtectionEnabled.IsKnown() {
		t.Error("missing property must leave its field unknown")
	}
	if rec.AntivirusSignatureLastUpdated.IsKnown() {
		t.Error("missing timestamp must leave its field unknown")
	}
}
