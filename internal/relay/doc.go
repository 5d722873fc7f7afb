// Package relay drives one webhook batch through the backend and back to WhatsApp.
//
// Process handles the messages of one webhook in order, one at a time, so
// replies to a sender arrive in the order the sender wrote. For each new
// message it marks the message read, reacts with the thinking emoji, runs a
// backend session keyed by the sender, clears the reaction and sends the
// formatted reply. Any session failure becomes the fixed error notice; a
// backend that does not answer the pre-flight ping turns the whole batch
// into unavailability notices.
//
// Every WhatsApp call is best effort. A failed read receipt or reaction is
// logged and processing continues.
package relay
