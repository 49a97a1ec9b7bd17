// Package tgui holds the small helpers used to build Telegram HTML
// messages: escaping, inline tags and splitting text under the message
// size limit without breaking a tag.
package tgui
