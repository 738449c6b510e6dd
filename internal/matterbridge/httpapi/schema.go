package httpapi

import "strings"

const deviceRequestSchema = `{
	"type": "object",
	"properties": {
		"manual_pairing_code": {"type": "string", "minLength": 1}
	},
	"required": ["manual_pairing_code"]
}`

const commandRequestSchema = `{
	"type": "object",
	"properties": {
		"command": {"type": "string", "minLength": 1},
		"node": {"type": "string", "minLength": 1},
		"endpoint": {"type": "integer", "minimum": 0},
		"cluster": {"type": "string", "minLength": 1},
		"args": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["command", "node", "cluster"]
}`

func mustReader(s string) *strings.Reader {
	return strings.NewReader(s)
}
