package lsp

import (
	protocol "github.com/tliron/glsp/protocol_3_16"

	"smplc/internal/diag"
)

// ConvertDiagnostics transforms the parser's collected diagnostics into LSP
// diagnostics for IDE display. Only uninitialized-variable reads (Warning)
// surface below error severity; lexical, syntactic, and semantic issues
// (e.g. an unknown built-in function name) all surface as errors.
func ConvertDiagnostics(diagnostics []diag.Diagnostic) []protocol.Diagnostic {
	var out []protocol.Diagnostic
	for _, d := range diagnostics {
		out = append(out, protocol.Diagnostic{
			Range: protocol.Range{
				Start: protocol.Position{
					Line:      uint32(max0(d.Pos.Line - 1)),
					Character: uint32(max0(d.Pos.Column - 1)),
				},
				End: protocol.Position{
					Line:      uint32(max0(d.Pos.Line - 1)),
					Character: uint32(d.Pos.Column + 5),
				},
			},
			Severity: ptrSeverity(severityFor(d.Kind)),
			Source:   ptrString("smplc"),
			Message:  d.Message,
		})
	}
	return out
}

func severityFor(k diag.Kind) protocol.DiagnosticSeverity {
	if k == diag.Warning {
		return protocol.DiagnosticSeverityWarning
	}
	return protocol.DiagnosticSeverityError
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
