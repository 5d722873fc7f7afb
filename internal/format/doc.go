// Package format prepares backend replies for WhatsApp.
//
// WhatsApp renders its own lightweight markup (*bold*, _italic_, ~strike~,
// ```code```) and caps a text message at 4096 characters. WhatsApp converts
// the CommonMark a backend typically emits and Truncate cuts a reply to the
// limit, preferring a line boundary near the cut and always ending with
// TruncationNotice when anything was removed.
package format
