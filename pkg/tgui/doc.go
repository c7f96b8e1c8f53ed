// Package tgui holds helpers for building Telegram messages in HTML parse mode.
// Every helper escapes its input, so values of type H can be sent as-is.
package tgui
