package command

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Marker precedes every call in generated text. Matching is case-insensitive.
const Marker = "CALL:"

const quoted = `["']([^"']+)["']`

var amountToken = regexp.MustCompile(`^\d+(?:\.\d+)?$`)

type pattern struct {
	re    *regexp.Regexp
	build func(m []string) (Command, bool)
}

// patterns are tried in order and the first one that matches and builds wins.
var patterns = []pattern{
	{
		re: regexp.MustCompile(`(?i)CALL:get_balance\s*\([^)]*name\s*=\s*` + quoted),
		build: func(m []string) (Command, bool) {
			return GetBalance{AccountName: m[1]}, true
		},
	},
	{
		re: regexp.MustCompile(`(?i)CALL:get_account_info\s*\([^)]*name\s*=\s*` + quoted),
		build: func(m []string) (Command, bool) {
			return GetAccountInfo{AccountName: m[1]}, true
		},
	},
	{
		re: regexp.MustCompile(`(?i)CALL:transfer_money\s*\([^)]*from_name\s*=\s*` + quoted +
			`\s*,\s*to_name\s*=\s*` + quoted + `\s*,\s*amount\s*=\s*([\d.]+)`),
		build: func(m []string) (Command, bool) {
			if !amountToken.MatchString(m[3]) {
				return nil, false
			}
			amount, err := decimal.NewFromString(m[3])
			if err != nil {
				return nil, false
			}
			return Transfer{FromName: m[1], ToName: m[2], Amount: amount}, true
		},
	},
	{
		re: regexp.MustCompile(`(?i)CALL:get_transaction_history\s*\([^)]*name\s*=\s*` + quoted +
			`(?:\s*,\s*limit\s*=\s*(\d+))?`),
		build: func(m []string) (Command, bool) {
			limit := DefaultHistoryLimit
			if m[2] != "" {
				n, err := strconv.Atoi(m[2])
				if err != nil {
					return nil, false
				}
				if n > 0 {
					limit = n
				}
			}
			return GetHistory{AccountName: m[1], Limit: limit}, true
		},
	},
	{
		re: regexp.MustCompile(`(?i)CALL:list_accounts\s*\(\s*\)`),
		build: func(m []string) (Command, bool) {
			return ListAccounts{}, true
		},
	},
}

// Parse returns the first command found in text, or None. It never fails:
// text without a recognisable call is ordinary conversation.
func Parse(text string) Command {
	if !HasMarker(text) {
		return None{}
	}
	for _, p := range patterns {
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if cmd, ok := p.build(m); ok {
			return cmd
		}
	}
	return None{}
}

// HasMarker reports whether text contains the call marker in any letter case.
func HasMarker(text string) bool {
	return strings.Contains(strings.ToUpper(text), Marker)
}
