package utils

import "strings"

// TruncateString bounds a job handler's error message before it's persisted
// to the status store or audit sink, so a handler panic with a huge stack
// trace in its error string can't blow out a status row.
func TruncateString(s string, maxLen int) string {
    if len(s) <= maxLen {
        return s
    }
    return s[:maxLen] + "..."
}

// ContainsAny reports whether s contains any of substrings. Used to classify
// a status-store write failure as transient (worth retrying) by matching its
// error text against known-transient substrings.
func ContainsAny(s string, substrings []string) bool {
    for _, sub := range substrings {
        if strings.Contains(s, sub) {
            return true
        }
    }
    return false
}
