// Package server exposes the chat controller over HTTP.
//
// The router is chi with request id, real IP, zerolog request logging,
// panic recovery and CORS middleware.
//
// # API Endpoints
//
//   - GET    /chat                                 list sessions and the active id
//   - POST   /chat                                 create a session
//   - DELETE /chat                                 remove every session
//   - GET    /chat/status                          busy flag, last error, pending sessions
//   - DELETE /chat/error                           dismiss the last error
//   - GET    /chat/active                          active session snapshot
//   - POST   /chat/message                         send {"text"} to the active session
//   - PATCH  /chat/message/{messageID}             edit a message's text
//   - POST   /chat/message/{messageID}/regenerate  replace an assistant reply
//   - POST   /chat/retry                           regenerate the last failed reply
//   - GET    /chat/{sessionID}                     session snapshot
//   - POST   /chat/{sessionID}/select              make a session active
//   - DELETE /chat/{sessionID}                     delete a session
//   - GET    /event                                SSE stream of bus events
//
// Send, regenerate and retry respond after the exchange settles. A failed
// completion is still a 200: the conversation holds the error marker and the
// response's error field carries the reason. Rejected requests map by error
// kind: validation is 400 (409 when the session is busy), not found is 404.
//
// # Event Streaming
//
// GET /event subscribes to the bus's watermill topic and relays each encoded
// event as a "message" SSE event, preceded by server.connected and
// interleaved with heartbeat comments. ?sessionID= filters the stream.
package server
