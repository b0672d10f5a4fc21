package startgg

import (
	"fmt"
	"strings"
)

// AuthError means the API token is missing or was rejected.
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	if e.Status == 0 {
		return "startgg auth: " + e.Message
	}
	return fmt.Sprintf("startgg auth: status %d: %v", e.Status, e.Message)
}

type GraphQLErrorItem struct {
	Message string `json:"message"`
	Path    []any  `json:"path,omitempty"`
}

// GraphQLError carries the application-level errors of a GraphQL response.
type GraphQLError struct {
	Errors []GraphQLErrorItem
}

func (e *GraphQLError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, item := range e.Errors {
		msgs[i] = item.Message
	}
	return "startgg graphql: " + strings.Join(msgs, "; ")
}

// HTTPError is any other non-2xx response.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("startgg: status %d: %v", e.Status, e.Body)
}

func (e *HTTPError) StatusCode() int { return e.Status }
