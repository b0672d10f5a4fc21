package sliceutil

func Map[T any, U any, F ~func(T) U](items []T, f F) []U {
	res := make([]U, len(items))
	for i, item := range items {
		res[i] = f(item)
	}
	return res
}

// Find returns a pointer to the first item matching pred, or nil.
func Find[T any, F ~func(*T) bool](items []T, pred F) *T {
	for i := range items {
		if pred(&items[i]) {
			return &items[i]
		}
	}
	return nil
}
