// Package script turns an uploaded SQL script into the ordered statements a
// run processes: case identifier substitution, splitting and classification.
package script

import (
	"regexp"
	"strings"
)

type Kind string

const (
	// KindQuery statements are cost-estimated before they run.
	KindQuery Kind = "query"
	// KindDefinition statements create stored routines. Engines cannot
	// explain them, so they go straight to execution.
	KindDefinition Kind = "definition"
)

type Statement struct {
	Index int
	Text  string
	Kind  Kind
}

// Rules holds the placeholder and the lexical conventions of the engine's
// dialect. An empty BlockTerminator disables block cutting.
type Rules struct {
	Placeholder     string
	BlockTerminator string
	// HashComments treats '#' as the start of a line comment.
	HashComments bool
	// BackslashEscapes lets '\' escape the next byte inside quoted text.
	BackslashEscapes bool
}

// DefaultRules are the MySQL rules.
func DefaultRules() Rules {
	return RulesFor("mysql")
}

// RulesFor returns the rules for an engine driver. PostgreSQL and DuckDB
// keep backslashes literal in strings and have no block terminator: DuckDB
// reads "//" as integer division.
func RulesFor(driver string) Rules {
	switch driver {
	case "postgres", "duckdb":
		return Rules{Placeholder: "?"}
	default:
		return Rules{Placeholder: "?", BlockTerminator: "//", HashComments: true, BackslashEscapes: true}
	}
}

var (
	definitionPattern  = regexp.MustCompile(`(?is)^CREATE\s+(?:OR\s+REPLACE\s+)?(?:DEFINER\s*=\s*\S+\s+)?(?:PROCEDURE|FUNCTION|TRIGGER|EVENT)\b`)
	delimiterDirective = regexp.MustCompile(`(?im)^[ \t]*DELIMITER[ \t]+\S+[ \t]*\r?$`)
	dollarTagPattern   = regexp.MustCompile(`^\$[A-Za-z_][A-Za-z0-9_]*\$|^\$\$`)
)

// Prepare substitutes caseID for the placeholder and splits the result.
func Prepare(text, caseID string, rules Rules) []Statement {
	return Split(Substitute(text, rules.Placeholder, caseID), rules)
}

// Substitute replaces every occurrence of placeholder with caseID. It is a
// plain textual replacement applied once over the whole script.
func Substitute(text, placeholder, caseID string) string {
	if placeholder == "" {
		return text
	}
	return strings.ReplaceAll(text, placeholder, caseID)
}

// Split cuts text into blocks on the block terminator, keeps definition
// blocks whole and splits every other block on semicolons. Without a block
// terminator the whole text is split on semicolons. Separators inside quoted
// literals and comments are ignored.
func Split(text string, rules Rules) []Statement {
	text = delimiterDirective.ReplaceAllString(text, "")

	statements := make([]Statement, 0)
	add := func(fragment string) {
		fragment = strings.TrimSpace(fragment)
		if stripLeadingComments(fragment, rules.HashComments) == "" {
			return
		}
		statements = append(statements, Statement{
			Index: len(statements) + 1,
			Text:  fragment,
			Kind:  Classify(fragment),
		})
	}

	if rules.BlockTerminator == "" || rules.BlockTerminator == ";" {
		for _, fragment := range cut(text, ";", rules) {
			add(fragment)
		}
		return statements
	}

	for _, block := range cut(text, rules.BlockTerminator, rules) {
		trimmed := strings.TrimSpace(block)
		if trimmed == "" {
			continue
		}
		if Classify(trimmed) == KindDefinition {
			add(strings.TrimSuffix(trimmed, ";"))
			continue
		}
		for _, fragment := range cut(trimmed, ";", rules) {
			add(fragment)
		}
	}
	return statements
}

// Classify is the single rule deciding whether a statement is a routine
// definition. Leading comments are ignored; no dialect starts a statement
// with '#', so it is always read as a comment here.
func Classify(text string) Kind {
	if definitionPattern.MatchString(stripLeadingComments(text, true)) {
		return KindDefinition
	}
	return KindQuery
}

func stripLeadingComments(text string, hashComments bool) string {
	for {
		text = strings.TrimSpace(text)
		switch {
		case strings.HasPrefix(text, "--") || (hashComments && strings.HasPrefix(text, "#")):
			end := strings.IndexByte(text, '\n')
			if end < 0 {
				return ""
			}
			text = text[end+1:]
		case strings.HasPrefix(text, "/*"):
			end := strings.Index(text, "*/")
			if end < 0 {
				return ""
			}
			text = text[end+2:]
		default:
			return text
		}
	}
}

type scanState int

const (
	stateCode scanState = iota
	stateQuote
	stateLineComment
	stateBlockComment
	stateDollar
)

// cut splits text on sep wherever sep appears outside literals and comments.
func cut(text, sep string, rules Rules) []string {
	var (
		parts []string
		start int
		state = stateCode
		quote byte
		tag   string
	)

	for i := 0; i < len(text); {
		c := text[i]
		switch state {
		case stateQuote:
			if c == '\\' && rules.BackslashEscapes {
				i += 2
				continue
			}
			if c == quote {
				state = stateCode
			}
			i++
		case stateLineComment:
			if c == '\n' {
				state = stateCode
			}
			i++
		case stateBlockComment:
			if strings.HasPrefix(text[i:], "*/") {
				state = stateCode
				i += 2
				continue
			}
			i++
		case stateDollar:
			if strings.HasPrefix(text[i:], tag) {
				state = stateCode
				i += len(tag)
				continue
			}
			i++
		default:
			rest := text[i:]
			switch {
			case c == '\'' || c == '"' || c == '`':
				state, quote = stateQuote, c
				i++
			case strings.HasPrefix(rest, "--"):
				state = stateLineComment
				i += 2
			case c == '#' && rules.HashComments:
				state = stateLineComment
				i++
			case strings.HasPrefix(rest, "/*"):
				state = stateBlockComment
				i += 2
			case c == '$' && sep != "$$" && dollarTagPattern.MatchString(rest):
				tag = dollarTagPattern.FindString(rest)
				state = stateDollar
				i += len(tag)
			case strings.HasPrefix(rest, sep):
				parts = append(parts, text[start:i])
				i += len(sep)
				start = i
			default:
				i++
			}
		}
	}
	return append(parts, text[start:])
}
