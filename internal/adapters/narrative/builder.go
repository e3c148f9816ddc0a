// Package narrative assembles the deterministic analysis payload handed to an
// external text-generation collaborator. The package only prepares input; it
// never calls a model.
package narrative

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"certcore/internal/core"
)

// Source exposes the projections the narrative is built from.
type Source interface {
	Statistics() core.Stats
	RiskCategoryCounts() []core.CategoryCount
	DepartmentCounts() []core.CategoryCount
	LastUpdate() time.Time
}

// Payload is the machine-readable narrative input.
type Payload struct {
	LastUpdate     time.Time            `json:"last_update"`
	Stats          core.Stats           `json:"stats"`
	RiskCategories []core.CategoryCount `json:"risk_categories"`
	Departments    []core.CategoryCount `json:"departments"`
}

// Builder derives narrative payloads and prompts from a source.
type Builder struct {
	source Source
}

// NewBuilder constructs a builder over the given source.
func NewBuilder(source Source) *Builder {
	return &Builder{source: source}
}

// Build snapshots the projections into a payload. The same record base always
// produces the same payload apart from LastUpdate.
func (b *Builder) Build() Payload {
	return Payload{
		LastUpdate:     b.source.LastUpdate(),
		Stats:          b.source.Statistics(),
		RiskCategories: b.source.RiskCategoryCounts(),
		Departments:    b.source.DepartmentCounts(),
	}
}

// JSON renders the payload as indented JSON.
func (b *Builder) JSON() ([]byte, error) {
	return json.MarshalIndent(b.Build(), "", "  ")
}

// Prompt renders a fixed-layout Portuguese prompt summarizing the record
// base for the collaborator. Line order and wording are stable so downstream
// caching keys stay valid.
func (b *Builder) Prompt() string {
	p := b.Build()
	var sb strings.Builder
	sb.WriteString("Você é um analista de saúde ocupacional. Analise os dados agregados de atestados abaixo e produza um parecer sobre riscos psicossociais (NR-1).\n\n")
	sb.WriteString("Resumo geral:\n")
	fmt.Fprintf(&sb, "- Médicos cadastrados: %d\n", p.Stats.TotalDoctors)
	fmt.Fprintf(&sb, "- Funcionários cadastrados: %d\n", p.Stats.TotalEmployees)
	fmt.Fprintf(&sb, "- Atestados registrados: %d\n", p.Stats.TotalCertificates)
	fmt.Fprintf(&sb, "- Dias de afastamento acumulados: %d\n", p.Stats.TotalDaysOff)
	fmt.Fprintf(&sb, "- Atestados com indício de risco psicossocial: %d (%.0f%%)\n", p.Stats.RiskCertificates, p.Stats.RiskRatio*100)

	sb.WriteString("\nCategorias de risco:\n")
	if len(p.RiskCategories) == 0 {
		sb.WriteString("- nenhuma ocorrência\n")
	}
	for _, c := range p.RiskCategories {
		fmt.Fprintf(&sb, "- %s: %d\n", c.Label, c.Count)
	}

	sb.WriteString("\nOcorrências por departamento:\n")
	if len(p.Departments) == 0 {
		sb.WriteString("- nenhuma ocorrência\n")
	}
	for _, d := range p.Departments {
		fmt.Fprintf(&sb, "- %s: %d\n", d.Label, d.Count)
	}

	sb.WriteString("\nEscreva o parecer em português, com recomendações de acompanhamento por departamento.\n")
	return sb.String()
}
