package paygate

import (
	"regexp"
	"strings"
)

// paramKeyRe matches a "key=" or "key:" token at the start of the text or
// after whitespace.
var paramKeyRe = regexp.MustCompile(`(?:^|\s)(\w+)[=:]`)

// ParseParams extracts key=value / key:value pairs from text. A value runs
// up to the next key token, so it may contain spaces. Keys are lower-cased,
// values trimmed; a repeated key keeps its last value.
func ParseParams(text string) map[string]string {
	params := map[string]string{}
	locs := paramKeyRe.FindAllStringSubmatchIndex(text, -1)
	for i, loc := range locs {
		key := strings.ToLower(text[loc[2]:loc[3]])
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		params[key] = strings.TrimSpace(text[loc[1]:end])
	}
	return params
}
