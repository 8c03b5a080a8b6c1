package bus

// MergeTransform returns a TransformFunc that deep-merges the overlay
// into the payload. Useful when a transform is built in code but should
// behave like a declarative Merge overlay.
func MergeTransform(overlay map[string]any) TransformFunc {
	return func(payload map[string]any) map[string]any {
		return mergePayload(payload, overlay)
	}
}

// mergePayload returns a new map holding base with overlay merged on
// top. Nested maps merge recursively; any other overlay value replaces
// the base value. Neither input is mutated.
func mergePayload(base, overlay map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		ov, vIsMap := v.(map[string]any)
		bv, bIsMap := merged[k].(map[string]any)
		if vIsMap && bIsMap {
			merged[k] = mergePayload(bv, ov)
			continue
		}
		merged[k] = v
	}
	return merged
}
