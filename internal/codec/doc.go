// Package codec is the serialized encoding of RRC and X2 messages used by
// the real transport strategy and by X2 over UDP.
//
// Every message is a frame of two protobuf wire fields: the message kind
// (field 1, varint) and the body (field 2, bytes). Bodies use the protobuf
// wire format without generated code: each information element is a
// numbered field, nested elements are length-delimited, zero scalars are
// omitted and unknown fields are skipped on decode.
package codec
