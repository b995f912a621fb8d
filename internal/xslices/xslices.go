package xslices

func Filter[T any, S ~[]T](s S, f func(T) bool) (r S) {
	r = make(S, 0, len(s))
	for _, v := range s {
		if f(v) {
			r = append(r, v)
		}
	}
	return r
}

// Remove deletes every element of s equal to v, in place.
func Remove[T comparable, S ~[]T](s S, v T) S {
	out := s[:0]
	for _, e := range s {
		if e != v {
			out = append(out, e)
		}
	}
	clear(s[len(out):])
	return out
}

// Insert inserts v into s at index i, which is clamped to the bounds
// of s.
func Insert[T any, S ~[]T](s S, i int, v T) S {
	i = max(0, min(i, len(s)))
	var zero T
	s = append(s, zero)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}
