package tagger

import "errors"

// Decoding errors never escape Tag: every one of them is caught at the
// call site and downgraded to an Unknown tag (spec §4.1/§7).
var (
	errShortPath     = errors.New("tagger: v3 path shorter than one address")
	errMalformedPath = errors.New("tagger: v3 path length not address+fee aligned")
	errDecodeArgs    = errors.New("tagger: abi argument decode failed")
)
