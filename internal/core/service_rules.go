package core

import (
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/JonMunkholm/tabclean/internal/rules"
)

// Rules returns a copy of the session's rule list.
func (s *Service) Rules(id string) ([]rules.Rule, error) {
	var list []rules.Rule
	err := s.withSession(id, func(sess *session) error {
		list = sess.copyRules()
		return nil
	})
	return list, err
}

// AddRule instantiates a catalog template on field and appends it.
func (s *Service) AddRule(id, templateID, field string, values map[string]any) (rules.Rule, error) {
	var added rules.Rule
	err := s.withSession(id, func(sess *session) error {
		if len(sess.rules) >= s.cfg.MaxRules {
			return fmt.Errorf("%w: limit is %d", ErrRuleLimit, s.cfg.MaxRules)
		}
		if field != "" && !sess.original.HasColumn(field) && !producedByRules(sess.rules, field) {
			return fmt.Errorf("%w: column %q not found", rules.ErrInvalidParams, field)
		}
		r, err := s.catalog.NewRule(templateID, field, values)
		if err != nil {
			return err
		}
		added = r
		sess.setRules(append(sess.copyRules(), r), s.now())
		return nil
	})
	return added, err
}

// producedByRules reports whether an earlier rename or derived categorize
// creates column, so a rule may target it before the first pass.
func producedByRules(list []rules.Rule, column string) bool {
	for _, r := range list {
		switch p := r.Params.(type) {
		case rules.RenameParams:
			for _, to := range p.Targets(r.Field) {
				if to == column {
					return true
				}
			}
		case rules.CategorizeParams:
			if p.Derive && p.OutputColumn(r.Field) == column {
				return true
			}
		}
	}
	return false
}

// SetRuleEnabled enables or disables a rule.
func (s *Service) SetRuleEnabled(id, ruleID string, enabled bool) (rules.Rule, error) {
	return s.updateRule(id, ruleID, func(r *rules.Rule) { r.Enabled = enabled })
}

// ToggleRule flips a rule's enabled flag.
func (s *Service) ToggleRule(id, ruleID string) (rules.Rule, error) {
	return s.updateRule(id, ruleID, func(r *rules.Rule) { r.Enabled = !r.Enabled })
}

func (s *Service) updateRule(id, ruleID string, fn func(*rules.Rule)) (rules.Rule, error) {
	var updated rules.Rule
	err := s.withSession(id, func(sess *session) error {
		i := rules.IndexOf(sess.rules, ruleID)
		if i < 0 {
			return fmt.Errorf("%w: %s", rules.ErrRuleNotFound, ruleID)
		}
		list := sess.copyRules()
		fn(&list[i])
		updated = list[i]
		sess.setRules(list, s.now())
		return nil
	})
	return updated, err
}

// RemoveRule deletes a rule from the list.
func (s *Service) RemoveRule(id, ruleID string) error {
	return s.withSession(id, func(sess *session) error {
		i := rules.IndexOf(sess.rules, ruleID)
		if i < 0 {
			return fmt.Errorf("%w: %s", rules.ErrRuleNotFound, ruleID)
		}
		list := make([]rules.Rule, 0, len(sess.rules)-1)
		list = append(list, sess.rules[:i]...)
		list = append(list, sess.rules[i+1:]...)
		sess.setRules(list, s.now())
		return nil
	})
}

// MoveRule moves a rule to position to, clamped to the list bounds.
func (s *Service) MoveRule(id, ruleID string, to int) error {
	return s.withSession(id, func(sess *session) error {
		list, err := rules.Move(sess.rules, ruleID, to)
		if err != nil {
			return err
		}
		sess.setRules(list, s.now())
		return nil
	})
}

// ReplaceRules swaps the whole rule list. Rules without an id get one.
// Invalid rules are accepted; the engine reports them when the pass runs.
func (s *Service) ReplaceRules(id string, list []rules.Rule) error {
	if len(list) > s.cfg.MaxRules {
		return fmt.Errorf("%w: %d rules, limit is %d", ErrRuleLimit, len(list), s.cfg.MaxRules)
	}
	list = withIDs(list)
	return s.withSession(id, func(sess *session) error {
		sess.setRules(list, s.now())
		return nil
	})
}

// ImportRules reads a JSON or YAML rule file and replaces the rule list.
func (s *Service) ImportRules(id string, r io.Reader, format rules.FileFormat) ([]rules.Rule, error) {
	list, err := rules.ReadRules(r, format)
	if err != nil {
		return nil, err
	}
	if err := s.ReplaceRules(id, list); err != nil {
		return nil, err
	}
	return s.Rules(id)
}

// ExportRules writes the session's rule list as JSON or YAML.
func (s *Service) ExportRules(id string, w io.Writer, format rules.FileFormat) error {
	list, err := s.Rules(id)
	if err != nil {
		return err
	}
	return rules.WriteRules(w, list, format)
}

func withIDs(list []rules.Rule) []rules.Rule {
	out := append([]rules.Rule(nil), list...)
	seen := make(map[string]bool, len(out))
	for i := range out {
		if out[i].ID == "" || seen[out[i].ID] {
			out[i].ID = fmt.Sprintf("%s_%s", out[i].Operation, uuid.NewString())
		}
		seen[out[i].ID] = true
	}
	return out
}
