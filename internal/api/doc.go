// Package api is the HTTP surface of the sync service: account linking
// through the OAuth consent flow, device pairing, capability reads and
// writes, history and health.
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// All routes live under /api/v1 and answer JSON. Errors use the
// structured Error body.
package api
