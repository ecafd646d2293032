package tagger

import "bytes"

// eip1167Prefix and eip1167Suffix bracket the 20-byte implementation
// address in a minimal proxy (EIP-1167) bytecode:
//   363d3d373d3d3d363d73 <implementation, 20 bytes> 5af43d82803e903d91602b57fd5bf3
var (
	eip1167Prefix = []byte{0x36, 0x3d, 0x3d, 0x37, 0x3d, 0x3d, 0x3d, 0x36, 0x3d, 0x73}
	eip1167Suffix = []byte{0x5a, 0xf4, 0x3d, 0x82, 0x80, 0x3e, 0x90, 0x3d, 0x91, 0x60, 0x2b, 0x57, 0xfd, 0x5b, 0xf3}
)

// transparentProxyMarker is the opcode sequence CALLDATASIZE DUP1
// EXTCODESIZE DUP1 (0x36 0x80 0x3b 0x80), searched for in the first 64
// bytes of code. Not a cryptographic fingerprint — a best-effort heuristic per spec §4.1
// step 7, which only needs to distinguish "looks like a proxy" from
// "opaque unknown contract".
var transparentProxyMarker = []byte{0x36, 0x80, 0x3b, 0x80}

// isMinimalProxy reports whether code matches the EIP-1167 clone pattern.
func isMinimalProxy(code []byte) bool {
	if len(code) != len(eip1167Prefix)+20+len(eip1167Suffix) {
		return false
	}
	if !bytes.HasPrefix(code, eip1167Prefix) {
		return false
	}
	return bytes.Equal(code[len(code)-len(eip1167Suffix):], eip1167Suffix)
}

// looksLikeProxy applies the EIP-1167 check plus a loose heuristic for
// transparent/UUPS-style proxies that begin with a delegatecall dispatch
// preamble. False positives only cost a coarser tag, never a wrong
// economic inference, since ProxyCall carries no token path.
func looksLikeProxy(code []byte) bool {
	if isMinimalProxy(code) {
		return true
	}
	return bytes.Contains(code[:min(len(code), 64)], transparentProxyMarker)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
