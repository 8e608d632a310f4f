package rules

import "fmt"

// Validate reports whether a rule has everything its operation needs.
func Validate(r Rule) bool {
	return Check(r) == nil
}

// Check is Validate with a reason. Errors wrap ErrUnknownOperation or
// ErrInvalidParams.
func Check(r Rule) error {
	if !r.Operation.Known() {
		return fmt.Errorf("%w: %q", ErrUnknownOperation, r.Operation)
	}

	p := ParamsOrDefault(r)
	if p == nil {
		return invalid("%s requires parameters", r.Operation)
	}
	if p.Operation() != r.Operation {
		if ip, ok := p.(InvalidParams); ok {
			return ip.validate(r.Field)
		}
		return invalid("parameters for %s given to a %s rule", p.Operation(), r.Operation)
	}
	return p.validate(r.Field)
}
