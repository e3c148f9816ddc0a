// Package classify normalizes CID diagnosis codes and matches them against
// the fixed NR-1 psychosocial-risk table. Both functions are total over all
// string inputs; malformed codes simply fail to match.
package classify

import (
	"fmt"
	"strings"
)

// Result is the outcome of classifying a normalized CID code.
type Result struct {
	Risk        bool
	Code        string
	Description string
	Alert       string
}

type tableEntry struct {
	prefix      string
	description string
}

// riskTable maps CID code prefixes to psychosocial-risk descriptions.
// Declaration order is load-bearing: classification returns the first entry
// whose dot-stripped prefix matches, so more specific codes (Z73.0, F43.1)
// must precede the broader ranges that also cover them (Z73, F43).
var riskTable = []tableEntry{
	{"Z73.0", "Burnout (Esgotamento Profissional)"},
	{"F43.1", "Transtorno de Estresse Pós-Traumático"},
	{"F43.2", "Transtornos de Adaptação"},
	{"F43", "Reações ao Estresse Grave"},
	{"F32", "Episódios Depressivos"},
	{"F33", "Transtorno Depressivo Recorrente"},
	{"F41", "Transtornos de Ansiedade (Pânico/Generalizada)"},
	{"F40", "Transtornos Fóbico-Ansiosos"},
	{"F48.0", "Neurastenia (Fadiga Mental)"},
	{"F45", "Transtornos Somatoformes"},
	{"Z56", "Problemas Relacionados ao Emprego"},
	{"T74", "Síndromes de Maus-Tratos (Indício de Assédio)"},
	{"Y07", "Maus-Tratos e Assédio por Terceiros"},
	{"Z73", "Esgotamento e Problemas da Organização do Modo de Vida"},
}

// Normalize converts a raw, freely formatted CID code into canonical form:
// uppercase, surrounding whitespace stripped, dots removed, and for runs
// longer than three characters a single dot reinserted after the category
// (LLL.D+). Codes of three or fewer characters are returned unchanged.
func Normalize(raw string) string {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if code == "" {
		return ""
	}
	code = strings.ReplaceAll(code, ".", "")
	if len(code) > 3 {
		return code[:3] + "." + code[3:]
	}
	return code
}

// Classify matches a normalized CID code against the risk table. The first
// entry whose dot-stripped prefix matches the dot-stripped input wins; no
// match yields a non-risk result.
func Classify(normalized string) Result {
	if normalized == "" {
		return Result{}
	}
	flat := strings.ReplaceAll(normalized, ".", "")
	for _, entry := range riskTable {
		if strings.HasPrefix(flat, strings.ReplaceAll(entry.prefix, ".", "")) {
			return Result{
				Risk:        true,
				Code:        normalized,
				Description: entry.description,
				Alert:       AlertMessage(entry.description),
			}
		}
	}
	return Result{Code: normalized}
}

// AlertMessage renders the NR-1 alert sentence for a risk description.
func AlertMessage(description string) string {
	return fmt.Sprintf("Alerta NR-1: %s. Possível risco psicossocial, acompanhamento recomendado.", description)
}

// TableSize reports the number of entries in the risk table.
func TableSize() int { return len(riskTable) }
