// Package helix is a minimal Twitch Helix API client covering the two
// lookups the streams plugin needs: login -> user id and user id -> live
// stream. Requests are chunked to the API's per-request limit and a failed
// chunk degrades to an empty contribution instead of failing the whole
// resolution.
package helix
