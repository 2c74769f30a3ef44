package statetree

// Merge returns a new tree holding base with delta merged over it. Neither
// argument is modified and the result shares no maps or slices with them.
func Merge(base, delta map[string]any) map[string]any {
	out := CloneTree(base)
	mergeInto(out, delta)
	return out
}

// MergeAll folds deltas left to right over base with Merge semantics.
func MergeAll(base map[string]any, deltas ...map[string]any) map[string]any {
	out := CloneTree(base)
	for _, delta := range deltas {
		mergeInto(out, delta)
	}
	return out
}

func mergeInto(dst, delta map[string]any) {
	for key, value := range delta {
		incoming, incomingIsObject := value.(map[string]any)
		if !incomingIsObject {
			if normalized, ok := normalize(value).(map[string]any); ok && value != nil {
				incoming, incomingIsObject = normalized, true
			}
		}

		if !incomingIsObject {
			dst[key] = Clone(value)
			continue
		}

		existing, existingIsObject := dst[key].(map[string]any)
		if !existingIsObject {
			dst[key] = Clone(incoming)
			continue
		}

		mergeInto(existing, incoming)
	}
}
