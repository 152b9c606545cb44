package pilot

import (
	"regexp"
	"strings"
)

// =============================================================================
// OUTPUT POST-PROCESSING
// =============================================================================

// scratchLine matches leaked loop scaffolding at the start of a line.
var scratchLine = regexp.MustCompile(`(?m)^\s*(Thought|Action|Observation)\s*:.*$`)

// postProcess removes scratchpad markers the model leaked into its answer.
func postProcess(answer string) string {
	answer = scratchLine.ReplaceAllString(answer, "")
	answer = strings.TrimPrefix(strings.TrimSpace(answer), "Final Answer:")
	return strings.TrimSpace(answer)
}

// secretPatterns cover the credential shapes most likely to surface in tool
// output or model echo. Replacement happens on the final answer only; the
// audit trail keeps the raw record.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[A-Za-z0-9_-]{16,}`),                                    // generic sk- API keys
	regexp.MustCompile(`AIza[0-9A-Za-z_-]{35}`),                                    // google API keys
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),                                         // aws access key ids
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/-]{16,}=*`),                    // bearer tokens
	regexp.MustCompile(`eyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]+`), // JWTs
	regexp.MustCompile(`(?i)(postgres|mysql|mongodb(\+srv)?|redis|amqp)://[^\s"']+:[^\s"']+@[^\s"']+`),
	regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`),
	regexp.MustCompile(`ghp_[A-Za-z0-9]{36}`), // github tokens
}

// redactSecrets masks credential-shaped substrings in s.
func redactSecrets(s string) string {
	for _, re := range secretPatterns {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}
