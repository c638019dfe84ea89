package keys

// DeDupeByID returns a new slice containing only the first occurrence of each
// item as identified by its ID.
func DeDupeByID[T interface{ GetID() string }](in []T) []T {
	encountered := make(map[string]struct{})
	out := make([]T, 0, len(in))

	for _, v := range in {
		id := v.GetID()
		if _, ok := encountered[id]; ok {
			continue
		}
		encountered[id] = struct{}{}
		out = append(out, v)
	}

	return out
}
