package ack

import "strings"

// Callback tokens are "<verb>:<jobID>[:<param>]". The job id rides along in
// the button itself so acknowledgments route without any per-message state.
const (
	VerbDone      = "done"
	VerbSnooze    = "snooze"
	VerbSnoozeAsk = "snooze_ask"
)

// Token formats callback data for an interactive control.
func Token(verb, jobID, param string) string {
	if param == "" {
		return verb + ":" + jobID
	}
	return verb + ":" + jobID + ":" + param
}

// ParseToken splits callback data back into its parts.
func ParseToken(data string) (verb, jobID, param string, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(data), ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", false
	}
	verb, jobID = parts[0], parts[1]
	if len(parts) == 3 {
		param = parts[2]
	}
	return verb, jobID, param, true
}
