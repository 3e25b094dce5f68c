// Package urlnorm canonicalizes URLs and tracks which canonical URLs have
// already been seen during a crawl session.
//
// Two URLs that differ only in scheme or host case, default port, fragment,
// dot segments, duplicate slashes, query parameter order or untracked query
// parameters produce the same Canonical value. The VisitedSet stores a
// 128-bit BLAKE2b fingerprint of each canonical URL so that memory use stays
// flat regardless of URL length.
//
// # Usage
//
//	n := urlnorm.NewNormalizer([]string{"page"})
//	c, err := n.Normalize("../b?page=2#top", "http://a.test/x/y")
//	// c.URL == "http://a.test/b?page=2"
//
//	seen := urlnorm.NewVisitedSet()
//	if seen.MarkSeen(c) {
//		// first time
//	}
package urlnorm
