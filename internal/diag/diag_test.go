package diag_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"smplc/internal/diag"
	"smplc/token"
)

func TestFormatIncludesPositionAndCaret(t *testing.T) {
	r := diag.NewReporter("t.smpl", "main\nvar x;\n{\n}.")
	out := r.Format(diag.Diagnostic{
		Kind:    diag.Syntax,
		Message: "expected ';'",
		Pos:     token.Position{Line: 2, Column: 7},
	})

	assert.Contains(t, out, "t.smpl:2:7")
	assert.Contains(t, out, "var x;")
	assert.Contains(t, out, "^")
}

func TestWarningUsesWarningKind(t *testing.T) {
	r := diag.NewReporter("t.smpl", "main\n{\n}.")
	out := r.Format(diag.Diagnostic{
		Kind:    diag.Warning,
		Message: "variable x used before assignment",
		Pos:     token.Position{Line: 2, Column: 1},
	})

	assert.Contains(t, out, "warning")
}
