// Package tgui holds small helpers for Telegram HTML messages.
//
// Values of type H are already escaped; build them with the tag helpers
// instead of string concatenation so user input never breaks the markup.
package tgui
