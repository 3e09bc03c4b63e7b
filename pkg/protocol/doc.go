// Package protocol defines the wire shapes shared by both transports.
//
// A service call is described once as a Call (service, method, id, data,
// query) and rendered either as a REST request or as a socket Frame. The
// authentication handshake payload is a closed union keyed by strategy:
//
//	{"strategy":"local","email":"...","password":"..."}
//	{"strategy":"jwt","accessToken":"..."}
//	{"strategy":"external-provider","providerUserSnapshot":{...},"providerToken":"..."}
//
// find answers with a PaginatedResult:
//
//	{"total":12,"limit":10,"skip":0,"data":[...]}
package protocol
