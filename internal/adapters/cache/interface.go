package cache

type hitResult[T any] struct {
	data    T
	valid   bool
	claimed bool
}

// Key/value store where a missing key can be claimed by one caller while the rest wait for it
type Cache[T any] interface {
	getOrClaim(key string) hitResult[T]
	set(key string, data T)
	delete(key string)
	wait()
}
