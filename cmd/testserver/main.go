// Command testserver runs the fake users API that apisim can target.
//
// Usage:
//
//	testserver [flags]
//
// Flags:
//
//	-port          Port to listen on (default: 8080)
//	-host          Host to bind to (default: localhost)
//	-fail-rate     Percentage of /users requests answered 500 (default: 0)
//	-require-auth  Reject /users requests without an Authorization header
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"apisim/testserver"
)

func main() {
	port := flag.Int("port", 8080, "port to listen on")
	host := flag.String("host", "localhost", "host to bind to")
	failRate := flag.Int("fail-rate", 0, "percentage of /users requests answered 500")
	requireAuth := flag.Bool("require-auth", false, "reject /users requests without an Authorization header")
	flag.Parse()

	server := testserver.NewServer()
	server.FailRate = *failRate
	server.RequireAuth = *requireAuth
	addr := fmt.Sprintf("%s:%d", *host, *port)

	fmt.Println("apisim Test Server")
	fmt.Println("==================")
	fmt.Printf("Listening on http://%s\n", addr)
	fmt.Printf("OpenAPI document: http://%s/openapi.json\n\n", addr)
	fmt.Println("Endpoints:")
	fmt.Println("  GET    /openapi.json       - OpenAPI 3 description of this server")
	fmt.Println("  GET    /health             - Health check")
	fmt.Println("  GET    /status/{code}      - Return specific status code")
	fmt.Println("  GET    /delay/{ms}         - Delay response by milliseconds")
	fmt.Println("  POST   /oauth/token        - client_credentials token exchange")
	fmt.Println("  GET    /users              - List users (?limit=N)")
	fmt.Println("  POST   /users              - Create a user")
	fmt.Println("  GET    /users/{id}         - Fetch a user")
	fmt.Println("  PUT    /users/{id}         - Update a user")
	fmt.Println("  DELETE /users/{id}         - Delete a user")
	fmt.Println()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down...")
		os.Exit(0)
	}()

	log.Fatal(http.ListenAndServe(addr, server.Handler()))
}
