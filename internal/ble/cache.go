package ble

// Cache holds the last forwarded reading per device. It is owned by a single
// pipeline goroutine and is not safe for concurrent use.
type Cache struct {
	last map[MAC]Reading
}

func NewCache() *Cache {
	return &Cache{last: make(map[MAC]Reading)}
}

// Observe records r and reports whether it differs from the stored reading
// for the same device. A duplicate leaves the cache untouched.
func (c *Cache) Observe(r Reading) bool {
	prev, ok := c.last[r.MAC]
	if ok && prev == r {
		return false
	}
	c.last[r.MAC] = r
	return true
}

// Len is the number of distinct devices seen.
func (c *Cache) Len() int {
	return len(c.last)
}
