package buildfile

import "strings"

// ArgScope is a string->string argument map. Keys must match [A-Za-z0-9_]+.
type ArgScope map[string]string

// Substitute expands $KEY and ${KEY} in text against scope, run before any
// instruction-specific parsing. "$$" becomes a literal "$". A bare "$"
// followed by a non-identifier character stays literal. Missing keys
// expand to the empty string.
func Substitute(text string, scope ArgScope) string {
	var b strings.Builder
	b.Grow(len(text))

	for i := 0; i < len(text); {
		c := text[i]
		if c != '$' {
			b.WriteByte(c)
			i++
			continue
		}

		// "$$" -> literal "$"
		if i+1 < len(text) && text[i+1] == '$' {
			b.WriteByte('$')
			i += 2
			continue
		}

		// "${KEY}"
		if i+1 < len(text) && text[i+1] == '{' {
			end := strings.IndexByte(text[i+2:], '}')
			if end < 0 {
				// Unterminated: treat the rest literally.
				b.WriteString(text[i:])
				break
			}
			key := text[i+2 : i+2+end]
			b.WriteString(scope[key])
			i += 2 + end + 1
			continue
		}

		// "$KEY"
		j := i + 1
		for j < len(text) && isArgIdentByte(text[j]) {
			j++
		}
		if j == i+1 {
			// '$' followed by a non-identifier char: stays literal.
			b.WriteByte('$')
			i++
			continue
		}
		key := text[i+1 : j]
		b.WriteString(scope[key])
		i = j
	}

	return b.String()
}

func isArgIdentByte(c byte) bool {
	return c == '_' ||
		(c >= 'A' && c <= 'Z') ||
		(c >= 'a' && c <= 'z') ||
		(c >= '0' && c <= '9')
}

// ResolveArg implements ARG's resolution order for the final stored value:
//  1. CLI map wins if the key is set there (default is ignored).
//  2. Else, if the instruction supplied a default, substitute it
//     recursively against scope and use the result.
//  3. Else keep any previously set value in scope.
//  4. Else the empty string.
//
// The returned value is what the caller should write into the current
// scope (stage map, or global map if no stage is open yet).
func ResolveArg(key string, hasDefault bool, defaultExpr string, cli, scope ArgScope) string {
	if v, ok := cli[key]; ok {
		return v
	}
	if hasDefault {
		return Substitute(defaultExpr, scope)
	}
	if v, ok := scope[key]; ok {
		return v
	}
	return ""
}

// ParseArgKV splits an ARG instruction's argument text "K[=V]" into a key
// and an optional default expression.
func ParseArgKV(argText string) (key string, hasDefault bool, defaultExpr string) {
	k, v, found := strings.Cut(argText, "=")
	return k, found, v
}
