// Package cdc turns raw change envelopes emitted by a log-mining engine
// (Debezium and compatible producers) into canonical relay messages.
//
// Normalization is total: every input, including malformed or empty bodies,
// produces a CanonicalMessage, an OperationType, an optional RoutingKey and a
// non-empty wire body. Decode failures degrade to an UNKNOWN message with a
// null envelope; serialization failures fall back to the raw input bytes.
//
// # Wire format
//
// The canonical body embeds the envelope's compacted JSON text under "data",
// so the inner structure is encoded exactly once and keeps its field order and
// number literals. Only the first JSON value of the input is read; anything
// after it is ignored.
//
//	{"data":{"before":null,"after":{"ID":"21"},"op":"c",...},"operationType":"CREATE"}
//
// # Routing keys
//
// The routing key is the "ID" column of the row image: "before" for deletes,
// "after" for everything else. The field name is matched exactly.
//
// # Thread Safety
//
// A Normalizer holds no mutable state and is safe for concurrent use.
package cdc
