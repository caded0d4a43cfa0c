package isolation

import (
	"regexp"
	"strings"

	"github.com/hugh/quanty/internal/apperr"
)

var (
	codeFenceRE  = regexp.MustCompile("```[a-zA-Z]*")
	statementRE  = regexp.MustCompile(`(?i)\b(select|with)\b`)
	trailingSemi = regexp.MustCompile(`[;\s]+$`)
)

// Sanitize prepares untrusted query text: code fences and any prose before
// the first SELECT or WITH are removed, as are trailing semicolons.
func Sanitize(raw string) (string, error) {
	s := codeFenceRE.ReplaceAllString(raw, "")
	loc := statementRE.FindStringIndex(s)
	if loc == nil {
		return "", apperr.InvalidInput("not_select")
	}
	s = trailingSemi.ReplaceAllString(s[loc[0]:], "")
	s = strings.TrimSpace(s)
	if s == "" {
		return "", apperr.InvalidInput("empty")
	}
	return s, nil
}

type tokenKind int

const (
	tokWord tokenKind = iota
	tokQuoted
	tokString
	tokNumber
	tokPunct
	tokParam
)

type token struct {
	kind  tokenKind
	text  string // lowercased for words, unquoted for quoted identifiers
	start int
	end   int
}

func (t token) is(kind tokenKind, text string) bool {
	return t.kind == kind && t.text == text
}

func isLetter(c byte) bool { return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_' }
func isDigit(c byte) bool  { return c >= '0' && c <= '9' }

// tokenize splits s into tokens, dropping whitespace and comments. It is
// deliberately strict: escape-string prefixes, backslashes in literals and
// anything resembling a bind parameter are rejected outright.
func tokenize(s string) ([]token, error) {
	var out []token
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f':
			i++

		case c == '-' && i+1 < len(s) && s[i+1] == '-':
			for i < len(s) && s[i] != '\n' {
				i++
			}

		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			end := strings.Index(s[i+2:], "*/")
			if end < 0 {
				return nil, apperr.InvalidInput("syntax")
			}
			i += end + 4

		case c == '\'':
			if i > 0 && (isLetter(s[i-1]) || isDigit(s[i-1]) || s[i-1] == '&') {
				return nil, apperr.InvalidInput("string_prefix")
			}
			start := i
			i++
			for {
				if i >= len(s) {
					return nil, apperr.InvalidInput("syntax")
				}
				if s[i] == '\\' {
					return nil, apperr.InvalidInput("escape")
				}
				if s[i] == '\'' {
					if i+1 < len(s) && s[i+1] == '\'' {
						i += 2
						continue
					}
					i++
					break
				}
				i++
			}
			out = append(out, token{kind: tokString, text: s[start:i], start: start, end: i})

		case c == '"' || c == '`':
			quote := c
			start := i
			i++
			var b strings.Builder
			for {
				if i >= len(s) {
					return nil, apperr.InvalidInput("syntax")
				}
				if s[i] == quote {
					if i+1 < len(s) && s[i+1] == quote {
						b.WriteByte(quote)
						i += 2
						continue
					}
					i++
					break
				}
				b.WriteByte(s[i])
				i++
			}
			out = append(out, token{kind: tokQuoted, text: b.String(), start: start, end: i})

		case isLetter(c):
			start := i
			for i < len(s) && (isLetter(s[i]) || isDigit(s[i])) {
				i++
			}
			if i < len(s) && s[i] == '$' {
				return nil, apperr.InvalidInput("placeholder")
			}
			out = append(out, token{kind: tokWord, text: strings.ToLower(s[start:i]), start: start, end: i})

		case isDigit(c) || (c == '.' && i+1 < len(s) && isDigit(s[i+1])):
			start := i
			for i < len(s) && (isDigit(s[i]) || s[i] == '.' || s[i] == 'e' || s[i] == 'E' ||
				((s[i] == '+' || s[i] == '-') && (s[i-1] == 'e' || s[i-1] == 'E'))) {
				i++
			}
			out = append(out, token{kind: tokNumber, text: s[start:i], start: start, end: i})

		case c == '?' || c == '$' || c == '@':
			return nil, apperr.InvalidInput("placeholder")

		case c == ':':
			if i+1 < len(s) && s[i+1] == ':' {
				out = append(out, token{kind: tokPunct, text: "::", start: i, end: i + 2})
				i += 2
				continue
			}
			if i+1 < len(s) && (isLetter(s[i+1]) || isDigit(s[i+1])) {
				return nil, apperr.InvalidInput("placeholder")
			}
			out = append(out, token{kind: tokPunct, text: ":", start: i, end: i + 1})
			i++

		default:
			out = append(out, token{kind: tokPunct, text: string(c), start: i, end: i + 1})
			i++
		}
	}
	return out, nil
}

// mutationWords may not appear anywhere in a read-path statement.
var mutationWords = map[string]bool{
	"insert": true, "update": true, "delete": true, "merge": true, "upsert": true,
	"into": true, "drop": true, "alter": true, "create": true, "truncate": true,
	"grant": true, "revoke": true, "attach": true, "detach": true, "pragma": true,
	"vacuum": true, "reindex": true, "copy": true, "call": true, "exec": true,
	"execute": true, "prepare": true, "deallocate": true, "listen": true,
	"notify": true, "begin": true, "commit": true, "rollback": true, "savepoint": true,
}

// forbiddenWords read or run SQL outside the statement's visible table
// references.
var forbiddenWords = map[string]bool{
	"table":                      true,
	"load_extension":             true,
	"readfile":                   true,
	"writefile":                  true,
	"fts3_tokenizer":             true,
	"query_to_xml":               true,
	"query_to_xmlschema":         true,
	"query_to_xml_and_xmlschema": true,
	"table_to_xml":               true,
	"table_to_xmlschema":         true,
	"cursor_to_xml":              true,
	"database_to_xml":            true,
	"schema_to_xml":              true,
	"dblink":                     true,
	"current_setting":            true,
	"set_config":                 true,
	"txid_current":               true,
	"current_user":               true,
	"session_user":               true,
}

var forbiddenPrefixes = []string{"pg_", "sqlite_", "pragma_", "lo_", "dblink_", "xpath"}

// argumentFrom lists functions whose argument list may contain FROM.
var argumentFrom = map[string]bool{
	"extract": true, "substring": true, "trim": true, "overlay": true, "position": true,
}

// fromClauseEnd are words that end an unaliased table reference.
var fromClauseEnd = map[string]bool{
	"where": true, "group": true, "order": true, "having": true, "limit": true,
	"offset": true, "union": true, "intersect": true, "except": true, "join": true,
	"inner": true, "left": true, "right": true, "full": true, "cross": true,
	"natural": true, "on": true, "using": true, "window": true, "fetch": true,
	"for": true, "as": true, "outer": true,
}

// analysis is what the guard learned about a statement.
type analysis struct {
	tokens []token
	tables []string
	ctes   []string
}

// analyze checks a sanitized statement and collects the table names it reads.
func analyze(sql string) (*analysis, error) {
	tokens, err := tokenize(sql)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, apperr.InvalidInput("empty")
	}
	if !tokens[0].is(tokWord, "select") && !tokens[0].is(tokWord, "with") {
		return nil, apperr.InvalidInput("not_select")
	}

	a := &analysis{tokens: tokens}
	seenTable := map[string]bool{}
	seenCTE := map[string]bool{}
	var openers []string

	for i, tok := range tokens {
		switch tok.kind {
		case tokPunct:
			switch tok.text {
			case ";":
				return nil, apperr.InvalidInput("multiple_statements")
			case "(":
				opener := ""
				if i > 0 && tokens[i-1].kind == tokWord {
					opener = tokens[i-1].text
				}
				openers = append(openers, opener)
			case ")":
				if len(openers) == 0 {
					return nil, apperr.InvalidInput("syntax")
				}
				openers = openers[:len(openers)-1]
			}
			continue
		case tokWord:
		default:
			continue
		}

		w := tok.text
		if mutationWords[w] {
			return nil, apperr.InvalidInput("mutation")
		}
		if forbiddenWords[w] {
			return nil, apperr.InvalidInput("forbidden")
		}
		for _, p := range forbiddenPrefixes {
			if strings.HasPrefix(w, p) {
				return nil, apperr.InvalidInput("forbidden")
			}
		}

		switch w {
		case "with":
			names, err := cteNames(tokens, i+1)
			if err != nil {
				return nil, err
			}
			for _, n := range names {
				if !seenCTE[n] {
					seenCTE[n] = true
					a.ctes = append(a.ctes, n)
				}
			}

		case "from", "join":
			if w == "from" {
				if i > 0 && tokens[i-1].is(tokWord, "distinct") {
					continue
				}
				if len(openers) > 0 && argumentFrom[openers[len(openers)-1]] {
					continue
				}
			}
			names, err := tableRefs(tokens, i+1, w == "from")
			if err != nil {
				return nil, err
			}
			for _, n := range names {
				if !seenTable[n] {
					seenTable[n] = true
					a.tables = append(a.tables, n)
				}
			}
		}
	}
	if len(openers) != 0 {
		return nil, apperr.InvalidInput("syntax")
	}

	tables := a.tables[:0]
	for _, t := range a.tables {
		if !seenCTE[t] {
			tables = append(tables, t)
		}
	}
	a.tables = tables
	return a, nil
}

func identAt(tokens []token, i int) (string, bool) {
	if i >= len(tokens) {
		return "", false
	}
	switch tokens[i].kind {
	case tokWord, tokQuoted:
		return tokens[i].text, true
	}
	return "", false
}

// skipParens returns the index after the parenthesised group starting at i.
func skipParens(tokens []token, i int) int {
	depth := 0
	for ; i < len(tokens); i++ {
		switch {
		case tokens[i].is(tokPunct, "("):
			depth++
		case tokens[i].is(tokPunct, ")"):
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return i
}

// cteNames reads the names declared by a WITH clause starting at i.
func cteNames(tokens []token, i int) ([]string, error) {
	if i < len(tokens) && tokens[i].is(tokWord, "recursive") {
		return nil, apperr.InvalidInput("recursive")
	}

	var names []string
	for {
		name, ok := identAt(tokens, i)
		if !ok {
			return nil, apperr.InvalidInput("syntax")
		}
		names = append(names, name)
		i++
		if i < len(tokens) && tokens[i].is(tokPunct, "(") {
			i = skipParens(tokens, i)
		}
		if i >= len(tokens) || !tokens[i].is(tokWord, "as") {
			return nil, apperr.InvalidInput("syntax")
		}
		i++
		for i < len(tokens) && (tokens[i].is(tokWord, "not") || tokens[i].is(tokWord, "materialized")) {
			i++
		}
		if i >= len(tokens) || !tokens[i].is(tokPunct, "(") {
			return nil, apperr.InvalidInput("syntax")
		}
		i = skipParens(tokens, i)
		if i < len(tokens) && tokens[i].is(tokPunct, ",") {
			i++
			continue
		}
		return names, nil
	}
}

func startsSubquery(tokens []token, i int) bool {
	if i >= len(tokens) {
		return false
	}
	return tokens[i].is(tokWord, "select") || tokens[i].is(tokWord, "with") || tokens[i].is(tokWord, "values")
}

// tableRefs reads the table references following FROM or JOIN at i.
// Subqueries are left to the caller's scan; join groups are read here.
func tableRefs(tokens []token, i int, list bool) ([]string, error) {
	var names []string
	for {
		for i < len(tokens) && (tokens[i].is(tokWord, "only") || tokens[i].is(tokWord, "lateral")) {
			i++
		}
		if i >= len(tokens) {
			return nil, apperr.InvalidInput("syntax")
		}
		if tokens[i].is(tokPunct, "(") {
			end := skipParens(tokens, i)
			if end > len(tokens) || !tokens[end-1].is(tokPunct, ")") {
				return nil, apperr.InvalidInput("syntax")
			}
			if !startsSubquery(tokens, i+1) {
				// parenthesised join group: its leading tables are not
				// preceded by FROM or JOIN, so read them here
				inner, err := tableRefs(tokens[i+1:end-1], 0, true)
				if err != nil {
					return nil, err
				}
				names = append(names, inner...)
			}
			i = end
		} else {
			name, ok := identAt(tokens, i)
			if !ok {
				return nil, apperr.InvalidInput("table_reference")
			}
			i++
			if i < len(tokens) && tokens[i].is(tokPunct, ".") {
				return nil, apperr.InvalidInput("qualified_name")
			}
			if i < len(tokens) && tokens[i].is(tokPunct, "(") {
				return nil, apperr.InvalidInput("table_function")
			}
			names = append(names, name)
		}

		if !list {
			return names, nil
		}

		// optional alias
		if i < len(tokens) && tokens[i].is(tokWord, "as") {
			i += 2
		} else if i < len(tokens) && (tokens[i].kind == tokQuoted ||
			(tokens[i].kind == tokWord && !fromClauseEnd[tokens[i].text])) {
			i++
		}
		if i < len(tokens) && tokens[i].is(tokPunct, "(") {
			// column alias list
			i = skipParens(tokens, i)
		}
		if i < len(tokens) && tokens[i].is(tokPunct, ",") {
			i++
			continue
		}
		return names, nil
	}
}
