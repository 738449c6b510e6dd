// Package logclean strips chip-tool's raw stdout down to the structural
// Interaction Model lines the grammar parser (imparser) can consume,
// dropping ANSI styling, noise lines, and everything outside the [DMG]
// diagnostic category.
package logclean

import (
	"regexp"
	"strings"
)

var (
	ansiEscape = regexp.MustCompile("\x1b\\[[0-9;]*m")
	parenHint  = regexp.MustCompile(`\([^)]*\)`)
	nodeIDFrom = regexp.MustCompile(`from\s+\d+:(\w{16})`)
)

// noiseSubstrings are lines that carry no structural data and are dropped
// outright wherever they occur.
var noiseSubstrings = []string{
	"Received Command Response Status",
	"Subscription established with SubscriptionID",
	"Received Command Response Data",
	"SendReadRequest ReadClient",
	"MoveToState ReadClient",
	"All ReadHandler-s are clean",
	"data version filters provided",
	"Refresh LivenessCheckTime for",
	"SubscribeResponse is received",
}

// Clean reduces a raw chip-tool log to a single flattened string of
// structural tokens, ready for the Block Extractor and IM Grammar Parser.
//
// The algorithm, in order:
//  1. Strip ANSI color escapes and commas.
//  2. Drop any line with fewer than 4 whitespace-separated columns, or
//     whose columns beyond the third are all empty.
//  3. Drop lines matching noiseSubstrings.
//  4. Track the most recently seen NodeID from "IM:ReportData" and
//     "IM:InvokeCommandResponse" lines (extracted from "from N:XXXXXXXXXXXXXXXX"),
//     normalized to a "0x"-prefixed, leading-zero-stripped hex string.
//  5. Keep only "[DMG]" lines that carry a structural character (brace,
//     bracket, '=', or parenthesis); inject a synthetic "NodeID = <id>" token
//     immediately before any "Endpoint =" / "EndpointId =" line.
//  6. Strip parenthesized type hints (e.g. "(int8u)") from the result.
func Clean(raw string) string {
	raw = ansiEscape.ReplaceAllString(raw, "")
	raw = strings.ReplaceAll(raw, ",", "")

	var kept []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		columns := strings.Fields(line)
		if len(columns) < 4 {
			continue
		}
		if !anyNonEmpty(columns[3:]) {
			continue
		}
		kept = append(kept, line)
	}

	var nodeID string
	var formatted []string
	for _, line := range kept {
		if containsAny(line, noiseSubstrings) {
			continue
		}

		if strings.Contains(line, "IM:ReportData") || strings.Contains(line, "IM:InvokeCommandResponse") {
			if m := nodeIDFrom.FindStringSubmatch(line); m != nil {
				nodeID = normalizeNodeID(m[1])
			}
		}

		columns := strings.Fields(line)
		if len(columns) >= 4 && columns[2] == "[DMG]" && hasStructuralChar(columns[3], line) {
			if strings.Contains(line, "Endpoint =") || strings.Contains(line, "EndpointId =") {
				if nodeID != "" {
					formatted = append(formatted, "NodeID = "+nodeID)
				} else {
					formatted = append(formatted, "NodeID = UNKNOWN")
				}
			}
			formatted = append(formatted, strings.Join(columns[3:], " "))
		}
	}

	result := strings.Join(formatted, " ")
	result = parenHint.ReplaceAllString(result, "")
	return result
}

func anyNonEmpty(cols []string) bool {
	for _, c := range cols {
		if c != "" {
			return true
		}
	}
	return false
}

func containsAny(s string, substrs []string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func hasStructuralChar(fourthColumn, line string) bool {
	if fourthColumn == "[" || fourthColumn == "]" {
		return true
	}
	for _, ch := range []string{"{", "}", "=", "(", ")"} {
		if strings.Contains(line, ch) {
			return true
		}
	}
	return false
}

func normalizeNodeID(raw string) string {
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		return raw
	}
	return "0x" + strings.TrimLeft(raw, "0")
}
