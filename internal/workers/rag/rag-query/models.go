// internal/workers/rag/rag-query/models.go
package ragquery

type Input struct {
	Question   string `json:"question"`
	Lang       string `json:"lang"`
	NumResults int    `json:"numResults"`
}

type Output struct {
	Answer    string `json:"answer"`
	BackendOK bool   `json:"backendOk"`
	RequestID string `json:"requestId"`
}

// inputSchema accepts numResults as a number or a numeric string; the
// handler coerces it afterwards.
const inputSchema = `{
  "type": "object",
  "properties": {
    "question":   {"type": "string"},
    "lang":       {"type": "string"},
    "numResults": {"type": ["number", "string", "null"]}
  },
  "required": ["question"]
}`
