// Package frame decodes the fixed 44-byte measurement frames streamed by a
// Micro-Epsilon IF1032/ETH interface module.
//
// Decoding is a pure function over a byte slice: it validates the length and
// the "SAEM" preamble and returns the header fields plus the three raw channel
// values. Which channel carries the measurement is a deployment choice made by
// the caller through Frame.Channel.
package frame
