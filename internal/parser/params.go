package parser

import "strings"

// Structured header values such as Content-Type and Content-Disposition are
// read with a small tokenizer:
//
//	value  = head *( ";" param )
//	param  = name "=" ( quoted / token )
//	quoted = DQUOTE *( any except DQUOTE ) DQUOTE
//	token  = 1*( any except ";" and whitespace )
//
// Parameter names are case-insensitive. A quoted value ends at the next
// double quote; a bare value ends at whitespace or ";".

// headValue returns the part of a structured value before its first ";",
// trimmed, with its original case.
func headValue(v string) string {
	if i := strings.IndexByte(v, ';'); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}

// mediaType returns the lowercase media type of a Content-Type value.
func mediaType(contentType string) string {
	return strings.ToLower(headValue(contentType))
}

// dispositionType returns the lowercase disposition of a Content-Disposition
// value, e.g. "attachment" or "inline".
func dispositionType(disposition string) string {
	return strings.ToLower(headValue(disposition))
}

// paramValue returns the value of the named parameter in v and whether the
// parameter was present.
func paramValue(v, name string) (string, bool) {
	name = strings.ToLower(name)

	for _, p := range splitParams(v) {
		eq := strings.IndexByte(p, '=')
		if eq < 0 {
			continue
		}
		if strings.ToLower(strings.TrimSpace(p[:eq])) != name {
			continue
		}
		return unquoteParam(strings.TrimLeft(p[eq+1:], " \t")), true
	}
	return "", false
}

// boundaryParam returns the multipart boundary of a Content-Type value, or ""
// when there is none.
func boundaryParam(contentType string) string {
	b, _ := paramValue(contentType, "boundary")
	return b
}

// filenameParam returns the filename of a Content-Disposition value, or "".
func filenameParam(disposition string) string {
	f, _ := paramValue(disposition, "filename")
	return f
}

// splitParams returns the ";"-separated parameters that follow the head of
// v. Semicolons inside double quotes do not separate parameters.
func splitParams(v string) []string {
	var (
		params  []string
		inQuote bool
		start   = -1
	)

	for i := 0; i < len(v); i++ {
		switch v[i] {
		case '"':
			inQuote = !inQuote
		case ';':
			if inQuote {
				continue
			}
			if start >= 0 {
				params = append(params, v[start:i])
			}
			start = i + 1
		}
	}
	if start >= 0 && start <= len(v) {
		params = append(params, v[start:])
	}
	return params
}

func unquoteParam(raw string) string {
	if strings.HasPrefix(raw, `"`) {
		raw = raw[1:]
		if end := strings.IndexByte(raw, '"'); end >= 0 {
			return raw[:end]
		}
		return strings.TrimSpace(raw)
	}
	if end := strings.IndexAny(raw, " \t;"); end >= 0 {
		return raw[:end]
	}
	return raw
}
