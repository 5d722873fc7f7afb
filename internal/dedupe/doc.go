// Package dedupe suppresses webhook redeliveries.
//
// The Graph API retries a webhook POST whenever it does not see a timely
// 200, so the same WhatsApp message ID can arrive more than once. The
// relay asks a Checker before handling each message; a message whose ID
// was seen within the TTL is skipped.
//
// Memory keeps IDs in-process with oldest-first eviction at a size cap.
// Redis shares the window across bridge replicas with SET NX and a key
// expiry, and lets a message through when Redis is unreachable.
package dedupe
