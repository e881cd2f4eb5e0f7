// Package notify pushes job events to connected clients.
//
// A [Hub] keeps a map from user to live [Connection]s. Each connection owns a bounded mailbox: publishing never
// blocks, and a full mailbox drops its oldest envelope. Transports drain a connection with [Connection.Next] and
// call [Connection.Touch] whenever the peer shows signs of life; [Hub.Run] tears down connections that go silent.
//
// Events for backup and restore are also delivered to every admin connection.
//
// A [Bridge] carries events between server instances over the store's pub/sub so each instance can deliver to
// the connections it holds.
package notify
