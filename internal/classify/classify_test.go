package classify

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"", ""},
		{"   ", ""},
		{"Z73.0", "Z73.0"},
		{"z730", "Z73.0"},
		{"f32", "F32"},
		{" f41.1 ", "F41.1"},
		{"F.4.3.1", "F43.1"},
		{"m54", "M54"},
		{"F4320", "F43.20"},
	}
	for _, tc := range cases {
		if got := Normalize(tc.raw); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestNormalizeIdempotentOnCanonicalCodes(t *testing.T) {
	for _, code := range []string{"Z73.0", "F32", "F43.1", "M54"} {
		if got := Normalize(Normalize(code)); got != code {
			t.Errorf("Normalize(Normalize(%q)) = %q, want %q", code, got, code)
		}
	}
}

func TestClassifyRiskCodes(t *testing.T) {
	cases := []struct {
		raw         string
		description string
	}{
		{"Z73.0", "Burnout (Esgotamento Profissional)"},
		{"z730", "Burnout (Esgotamento Profissional)"},
		{"F329", "Episódios Depressivos"},
		{"F32.1", "Episódios Depressivos"},
		{"F41", "Transtornos de Ansiedade (Pânico/Generalizada)"},
		{"f431", "Transtorno de Estresse Pós-Traumático"},
		{"F43.9", "Reações ao Estresse Grave"},
		{"Z56.3", "Problemas Relacionados ao Emprego"},
		{"T74.1", "Síndromes de Maus-Tratos (Indício de Assédio)"},
		{"Z73.4", "Esgotamento e Problemas da Organização do Modo de Vida"},
	}
	for _, tc := range cases {
		res := Classify(Normalize(tc.raw))
		if !res.Risk {
			t.Errorf("Classify(Normalize(%q)).Risk = false, want true", tc.raw)
			continue
		}
		if res.Description != tc.description {
			t.Errorf("Classify(Normalize(%q)).Description = %q, want %q", tc.raw, res.Description, tc.description)
		}
		if res.Alert == "" {
			t.Errorf("Classify(Normalize(%q)).Alert is empty", tc.raw)
		}
	}
}

func TestClassifyNonRiskCodes(t *testing.T) {
	for _, raw := range []string{"M54", "J11", "A09.9", "", "???", "burnout"} {
		res := Classify(Normalize(raw))
		if res.Risk {
			t.Errorf("Classify(Normalize(%q)).Risk = true, want false", raw)
		}
		if res.Description != "" || res.Alert != "" {
			t.Errorf("Classify(Normalize(%q)) carries risk fields on non-risk result", raw)
		}
	}
}

func TestFirstMatchWinsOverLaterBroaderEntries(t *testing.T) {
	// Z73.0 precedes the broader Z73 range; the specific entry must win even
	// though both prefixes match.
	res := Classify("Z73.0")
	if res.Description != "Burnout (Esgotamento Profissional)" {
		t.Fatalf("Z73.0 matched %q, want the burnout entry", res.Description)
	}
	// Z73.4 is covered only by the broader trailing entry.
	res = Classify("Z73.4")
	if res.Description != "Esgotamento e Problemas da Organização do Modo de Vida" {
		t.Fatalf("Z73.4 matched %q, want the general Z73 entry", res.Description)
	}
}

func TestRiskTableSize(t *testing.T) {
	if got := TableSize(); got != 14 {
		t.Fatalf("risk table has %d entries, want 14", got)
	}
}
