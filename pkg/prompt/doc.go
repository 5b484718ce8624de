// Package prompt renders the instructional prefix sent ahead of every
// conversation.
//
// The prefix is a text/template rendered with the current time in a fixed
// timezone. It is read from a file when one is configured, otherwise a
// built-in default is used, and Watch reloads the file whenever it changes.
// A file that fails to parse on reload leaves the previous template active.
package prompt
