// Package whatsapp speaks the WhatsApp Cloud API on both sides of the bridge.
//
// Inbound, ParsePayload decodes a webhook body and Normalize flattens it into
// Message values, one per supported user message, in the order they appear
// in the envelope. Status updates, non-message change fields and message
// kinds without a textual rendering (stickers, reactions, unknown types)
// never reach the caller.
//
// Outbound, Client posts text replies, reactions and read receipts to the
// Graph API messages endpoint of a single business phone number.
package whatsapp
