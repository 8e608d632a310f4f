package rules

import (
	"errors"
	"fmt"
	"strings"
)

// Operation names a cleaning operation kind. The set is closed.
type Operation string

const (
	OpTrim               Operation = "trim"
	OpReplace            Operation = "replace"
	OpRemoveNulls        Operation = "remove_nulls"
	OpConvertType        Operation = "convert_type"
	OpRename             Operation = "rename"
	OpCategorize         Operation = "categorize"
	OpHandleMissing      Operation = "handleMissingValues"
	OpNormalize          Operation = "normalization"
	OpRegexReplace       Operation = "customRegexReplacement"
	OpRemoveDuplicates   Operation = "removeDuplicates"
	OpFilterRecords      Operation = "filterOutUnwantedRecords"
	OpConvertDateFormats Operation = "convertDateFormats"
	OpStandardizeCodes   Operation = "standardizeDiagnosisCodes"
	OpLogActions         Operation = "logCleaningActions"
)

// ErrUnknownOperation is returned for operation names outside the catalog.
var ErrUnknownOperation = errors.New("unknown operation")

var allOperations = []Operation{
	OpTrim,
	OpReplace,
	OpRemoveNulls,
	OpConvertType,
	OpRename,
	OpCategorize,
	OpHandleMissing,
	OpNormalize,
	OpRegexReplace,
	OpRemoveDuplicates,
	OpFilterRecords,
	OpConvertDateFormats,
	OpStandardizeCodes,
	OpLogActions,
}

// aliases maps legacy operation names and template ids to canonical operations.
var aliases = map[string]Operation{
	"deduplication":       OpRemoveDuplicates,
	"missing_values":      OpHandleMissing,
	"filtering":           OpFilterRecords,
	"standardization":     OpStandardizeCodes,
	"logging":             OpLogActions,
	"trimwhitespace":      OpTrim,
	"categorizeagegroups": OpCategorize,
	"normalize":           OpNormalize,
	"removenulls":         OpRemoveNulls,
	"converttype":         OpConvertType,
}

// Operations returns every known operation in catalog order.
func Operations() []Operation {
	out := make([]Operation, len(allOperations))
	copy(out, allOperations)
	return out
}

// Known reports whether op is part of the catalog.
func (op Operation) Known() bool {
	for _, o := range allOperations {
		if o == op {
			return true
		}
	}
	return false
}

func (op Operation) String() string {
	return string(op)
}

// ParseOperation resolves a canonical name or alias, case-insensitively.
func ParseOperation(s string) (Operation, error) {
	name := strings.TrimSpace(s)
	for _, o := range allOperations {
		if strings.EqualFold(string(o), name) {
			return o, nil
		}
	}
	if op, ok := aliases[strings.ToLower(name)]; ok {
		return op, nil
	}
	return Operation(name), fmt.Errorf("%w: %q", ErrUnknownOperation, s)
}

// fieldScoped reports whether an operation reads the rule's target field.
// Dataset-wide operations ignore it.
func (op Operation) fieldScoped() bool {
	switch op {
	case OpRegexReplace, OpRemoveDuplicates, OpFilterRecords, OpLogActions:
		return false
	default:
		return true
	}
}
