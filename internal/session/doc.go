// Package session orchestrates a live conversation: it owns the
// capture devices, the audio framer and video sampler, and the
// realtime client, and enforces the ordering rules between them.
//
// A Session is one conversation from connect to teardown. The
// Controller manages the current session plus cross-session state such
// as the staged voice selection.
package session
