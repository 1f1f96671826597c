package utils

// Contains reports whether item is in arr.
func Contains[T comparable](arr []T, item T) bool {
	for i := range arr {
		if arr[i] == item {
			return true
		}
	}

	return false
}

// Remove returns a new slice with every occurrence of item left out. arr is
// not modified.
func Remove[T comparable](arr []T, item T) []T {
	result := make([]T, 0, len(arr))

	for _, v := range arr {
		if v != item {
			result = append(result, v)
		}
	}

	return result
}
