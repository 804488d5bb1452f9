// Command ssectl talks to an SSE JSON-RPC tool server from the terminal.
package main

import "sse-rpc/cmd/ssectl/cmd"

func main() {
	cmd.Execute()
}
