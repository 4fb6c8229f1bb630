/*
dto.go - Request and response bodies for the invoke API

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *Response: Response wrappers

  Function results are written as-is: the credit record, outcome, list or
  scalar returned by the contract, encoded with their own JSON tags.

SEE ALSO:
  - handlers.go: Uses these types
  - contract/contract.go: Function names and parameters
*/
package api

import "github.com/bluecarbon/registry/contract"

// CallRequest is the body of POST /invoke and POST /query.
type CallRequest struct {
	Function string   `json:"function"`
	Args     []string `json:"args"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// FunctionsResponse lists the dispatchable functions.
type FunctionsResponse struct {
	Functions []contract.Function `json:"functions"`
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}
