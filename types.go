package main

// caller supplied payload, always carries "id" once handled
type Item map[string]any

// the inbound invocation payload, only body is consumed
type Event struct {
	Body string `json:"body"`
}

// what the handler hands back to the invoking environment
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

type successBody struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// ID returns the item identifier, or "" when it is missing or not a string
func (i Item) ID() string {
	id, _ := i["id"].(string)
	return id
}
