package engine

import (
	"github.com/l7mp/fixpoint/pkg/util"
)

// commit folds an iteration's candidate facts into the database. Plain
// relation candidates are genuinely new only when absent from the
// accumulated set; lattice candidates are routed through the lattice join:
// insert on a missing key, otherwise join with the stored value and replace
// it only when the merged value differs. It returns the number of new
// tuples plus changed lattice values.
func (e *Engine) commit(candidates []candidate) (int, error) {
	fresh := 0

	for _, c := range candidates {
		if l := e.db.Lattice(c.relation); l != nil {
			changed, err := l.Merge(c.tuple)
			if err != nil {
				return fresh, NewEvalError(e.ruleNames[c.rule], err)
			}
			if changed {
				fresh++
				e.report.Rules[c.rule].Facts++
				e.log.V(5).Info("lattice value changed", "lattice", c.relation,
					"row", util.Stringify(c.tuple))
			}
			continue
		}

		added, err := e.db.Relation(c.relation).Insert(c.tuple)
		if err != nil {
			return fresh, NewEvalError(e.ruleNames[c.rule], err)
		}
		if added {
			fresh++
			e.report.Rules[c.rule].Facts++
			e.log.V(5).Info("fact derived", "relation", c.relation,
				"tuple", util.Stringify(c.tuple))
		}
	}

	return fresh, nil
}

func (e *Engine) resetDelta(name string) {
	if r := e.db.Relation(name); r != nil {
		r.ResetDelta()
		return
	}
	if l := e.db.Lattice(name); l != nil {
		l.ResetDelta()
	}
}

func (e *Engine) clearDelta(name string) {
	if r := e.db.Relation(name); r != nil {
		r.ClearDelta()
		return
	}
	if l := e.db.Lattice(name); l != nil {
		l.ClearDelta()
	}
}
