package main

import (
	"fmt"
	"os"
)

const usage = `stepgraph lays out run steps into dependency levels and parallel lanes.

Usage:
  stepgraph layout  [flags] <file|->   print the layout model as JSON
  stepgraph render  [flags] <file|->   draw the layout as ascii, mermaid or png
  stepgraph lint    [flags] <file|->   report structural errors and graph warnings
  stepgraph serve                      run the HTTP panel API and the poller
  stepgraph mcp                        run the MCP tool server on stdio
  stepgraph secret  <set|list|delete>  manage encrypted watch credentials
  stepgraph install [flags]            write settings and fetch mermaid-ascii
  stepgraph version                    print the version
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "layout":
		os.Exit(runLayout(args))
	case "render":
		os.Exit(runRender(args))
	case "lint":
		os.Exit(runLint(args))
	case "serve":
		runServe()
	case "mcp":
		runMCP()
	case "secret":
		os.Exit(runSecret(args))
	case "install":
		runInstall(args)
	case "version", "--version", "-v":
		fmt.Println(versionString())
	case "help", "--help", "-h":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
}
