// Package acpclient is a long-lived client for kiro-cli's Agent
// Communication Protocol (ACP). It spawns a single `kiro-cli acp` child
// process, multiplexes many concurrent in-process callers over its one
// JSON-RPC connection, turns the agent's notification stream into a
// closed per-turn event sequence, and answers the agent's permission
// requests under a caller-selected edits-allowed policy.
//
// The primary types are:
//
//   - [Client] — owns the subprocess, the session, and the connection
//   - [TurnEvent] — one element of a chat_stream turn's event sequence
//   - [Config] — binary, timeouts, persistence path, and logging
//
// Quick start:
//
//	c, err := acpclient.New(acpclient.DefaultConfig())
//	events, err := c.ChatStream(ctx, acpclient.PromptRequest{
//		Messages: []acpclient.ChatMessage{{Role: "user", Content: "hi"}},
//	})
//	for ev := range events { ... }
package acpclient
