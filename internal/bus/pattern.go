package bus

import "strings"

// Wildcard is the pattern segment that matches any single topic segment.
const Wildcard = "*"

// MatchTopic reports whether a dotted topic matches a dotted wildcard
// pattern.
//
// Both strings are split on ".". A pattern matches iff it has exactly
// the same number of segments as the topic and every non-wildcard
// pattern segment equals the topic segment at the same position.
//
// Matching is strictly fixed-arity: "a.*" matches "a.b" but never
// "a.b.c". This is a compatibility contract - installation configs rely
// on a wildcard covering exactly one segment, so the matcher must not be
// broadened to recursive glob semantics.
func MatchTopic(topic, pattern string) bool {
	topicSegs := strings.Split(topic, ".")
	patternSegs := strings.Split(pattern, ".")

	if len(topicSegs) != len(patternSegs) {
		return false
	}
	for i, seg := range patternSegs {
		if seg == Wildcard {
			continue
		}
		if seg != topicSegs[i] {
			return false
		}
	}
	return true
}
