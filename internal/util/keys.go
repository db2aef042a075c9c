package util

// Composite keys join partition and sort key with a NUL separator.
// Partition keys must not contain NUL; sort keys may.

// RecordKey returns the flat byte key for a (partitionKey, sortKey) pair.
func RecordKey(partitionKey, sortKey string) []byte {
	k := make([]byte, 0, len(partitionKey)+1+len(sortKey))
	k = append(k, partitionKey...)
	k = append(k, 0)
	k = append(k, sortKey...)
	return k
}

// MemoKey returns the namespaced string key under which the caching
// decorator memoizes one item.
func MemoKey(ns, partitionKey, sortKey string) string {
	return "item:" + ns + ":" + partitionKey + "\x00" + sortKey
}
