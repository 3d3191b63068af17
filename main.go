/*
Package main is the entry point for the chatgraph service.

chatgraph runs a tool-augmented conversational agent. Each user message
drives a small state machine: the model answers directly or requests tools,
tools run and feed their results back, and the loop repeats until the model
produces a final answer. Progress is streamed to the client as server-sent
events.

Commands:
  - serve: start the HTTP server
  - ask:   run one message from the command line, streaming frames to stdout
  - token: mint a development bearer token
*/
package main

func main() {
	Execute()
}
