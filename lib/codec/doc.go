// Package codec provides the serialization contract between typed storages
// and the untyped grid fabric.
//
// A distributed storage is generic over its key and value types, but the
// message bus only carries byte strings. Each storage is therefore built with
// two codecs, one for keys and one for values. The fabric (endpoint, backup
// storage, transports) treats the encoded form as opaque.
//
// The package includes three implementations:
//
//   - JSON Codec: human readable, works for any json-marshalable type.
//     The safe default for demo and test setups.
//
//   - GOB Codec: Go's native binary encoding. More compact than JSON for
//     struct values and faster for large payloads.
//
//   - Raw Codecs: zero-overhead codecs for string and []byte types. These
//     should be preferred for keys since they keep the wire form identical
//     to the in-memory form.
//
// A codec failure on the encode path surfaces as an error to the caller of
// the storage operation. A codec failure on the decode path causes the
// affected inbound message to be dropped and logged; it never terminates
// the endpoint.
package codec
