package engine

import (
	"fmt"

	"github.com/JonMunkholm/tabclean/internal/rules"
)

// DiagnosticKind classifies a diagnostic.
type DiagnosticKind string

const (
	// KindValidation: the rule's parameters are invalid; the rule was skipped.
	KindValidation DiagnosticKind = "validation"
	// KindUnknownOperation: the operation is not in the catalog; the rule was skipped.
	KindUnknownOperation DiagnosticKind = "unknown_operation"
	// KindRuleFailed: the operation returned an error or panicked; its output was discarded.
	KindRuleFailed DiagnosticKind = "rule_failed"
	// KindWarning: the rule ran but reported a non-fatal problem.
	KindWarning DiagnosticKind = "warning"
	// KindStructural: a problem with the pass itself (no dataset, no headers, cancellation).
	KindStructural DiagnosticKind = "structural"
)

// Diagnostic is one message produced during a pass.
type Diagnostic struct {
	Kind      DiagnosticKind  `json:"kind"`
	RuleID    string          `json:"ruleId,omitempty"`
	RuleName  string          `json:"ruleName,omitempty"`
	Operation rules.Operation `json:"operation,omitempty"`
	Message   string          `json:"message"`
}

func (d Diagnostic) String() string {
	if d.RuleID == "" {
		return fmt.Sprintf("%s: %s", d.Kind, d.Message)
	}
	name := d.RuleName
	if name == "" {
		name = d.RuleID
	}
	return fmt.Sprintf("%s [%s %s]: %s", d.Kind, name, d.Operation, d.Message)
}

func ruleDiagnostic(kind DiagnosticKind, r rules.Rule, msg string) Diagnostic {
	return Diagnostic{
		Kind:      kind,
		RuleID:    r.ID,
		RuleName:  r.Name,
		Operation: r.Operation,
		Message:   msg,
	}
}
