package egress

import "regexp"

// secretPattern couples a stable name (used in the placeholder) with its
// compiled regex. The set is fixed; patterns are matched in order.
type secretPattern struct {
	name string
	re   *regexp.Regexp
}

// secretPatterns is the fixed detection set. Ordering matters: the AWS access
// key prefix match must run before the generic heuristics so the placeholder
// carries the most specific name.
var secretPatterns = []secretPattern{
	{"aws_access_key", regexp.MustCompile(`\b(?:A3T[A-Z0-9]|AKIA|AGPA|AIDA|AROA|AIPA|ANPA|ANVA|ASIA)[A-Z0-9]{16}\b`)},
	{"aws_secret_key", regexp.MustCompile(`(?i)aws.{0,20}?['"][0-9a-zA-Z/+]{40}['"]`)},
	{"pem_private_key", regexp.MustCompile(`-----BEGIN (?:[A-Z]+ )?PRIVATE KEY-----`)},
	{"jwt", regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]*\b`)},
	{"bearer_token", regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9\-._~+/]{16,}=*`)},
	{"api_key", regexp.MustCompile(`(?i)\bapi[_-]?key['"]?\s*[=:]\s*['"]?[A-Za-z0-9\-._]{8,}`)},
}
