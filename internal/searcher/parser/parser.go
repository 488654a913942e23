// Package parser turns raw query strings into executable query plans.
//
// The grammar is deliberately small: whitespace separated terms, an
// optional field scope written as field:term, AND/OR connectives (AND is
// the default), and NOT term exclusions.
package parser

import (
	"fmt"
	"strings"

	kerrors "github.com/kestrelsearch/kestrel/pkg/errors"
)

// Mode selects how multiple positive terms combine.
type Mode int

const (
	ModeAnd Mode = iota
	ModeOr
)

func (m Mode) String() string {
	if m == ModeOr {
		return "OR"
	}
	return "AND"
}

// Term is one positive query term, optionally scoped to a single field.
// Raw keeps the original casing so Keyword fields can be matched verbatim.
type Term struct {
	Field string
	Raw   string
}

// Plan is the parsed form of a query.
type Plan struct {
	Terms    []Term
	Excluded []Term
	Mode     Mode
	RawQuery string
}

// Parse tokenizes and validates a query string.
func Parse(query string) (*Plan, error) {
	plan := &Plan{Mode: ModeAnd, RawQuery: query}

	tokens := strings.Fields(query)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: empty query", kerrors.ErrQuerySyntax)
	}

	negateNext := false
	for _, tok := range tokens {
		switch strings.ToUpper(tok) {
		case "AND":
			if negateNext {
				return nil, fmt.Errorf("%w: NOT must be followed by a term", kerrors.ErrQuerySyntax)
			}
			plan.Mode = ModeAnd
			continue
		case "OR":
			if negateNext {
				return nil, fmt.Errorf("%w: NOT must be followed by a term", kerrors.ErrQuerySyntax)
			}
			plan.Mode = ModeOr
			continue
		case "NOT":
			if negateNext {
				return nil, fmt.Errorf("%w: NOT must be followed by a term", kerrors.ErrQuerySyntax)
			}
			negateNext = true
			continue
		}

		term, err := parseTerm(tok)
		if err != nil {
			return nil, err
		}
		if negateNext {
			plan.Excluded = append(plan.Excluded, term)
			negateNext = false
		} else {
			plan.Terms = append(plan.Terms, term)
		}
	}

	if negateNext {
		return nil, fmt.Errorf("%w: NOT must be followed by a term", kerrors.ErrQuerySyntax)
	}
	if len(plan.Terms) == 0 {
		return nil, fmt.Errorf("%w: query has no positive terms", kerrors.ErrQuerySyntax)
	}
	return plan, nil
}

func parseTerm(tok string) (Term, error) {
	idx := strings.IndexByte(tok, ':')
	if idx < 0 {
		return Term{Raw: tok}, nil
	}
	field := tok[:idx]
	raw := tok[idx+1:]
	if field == "" {
		return Term{}, fmt.Errorf("%w: term %q has an empty field scope", kerrors.ErrQuerySyntax, tok)
	}
	if raw == "" {
		return Term{}, fmt.Errorf("%w: field scope %q has an empty term", kerrors.ErrQuerySyntax, tok)
	}
	return Term{Field: field, Raw: raw}, nil
}
