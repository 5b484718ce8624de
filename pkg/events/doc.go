// Package events is the observability sink shared by the chat pipeline.
//
// Components publish Events through the Emitter interface; transports attach
// to the Hub with Subscribe and detach by cancelling the context they passed
// in. Publishing never waits on observers: a subscriber that falls behind
// loses events instead of stalling a chat turn.
//
// Log lines reach the same feed through Hub.LogWriter, which is installed as
// an extra zerolog writer at startup.
package events
