// Command callbacktest runs a local order-sync receiver. Point the server's
// callbacks.order_sync_url at it to inspect redemption and gift card events
// during development.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/telar-co/promo-server/internal/auth"
)

func main() {
	addr := flag.String("addr", ":9090", "listen address")
	path := flag.String("path", "/order-sync", "callback path to accept")
	secret := flag.String("secret", "", "shared sync secret; when set, payload signatures are verified")
	flag.Parse()

	http.HandleFunc(*path, func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}

		if *secret != "" {
			if got := r.Header.Get("X-Sync-Secret"); got != *secret {
				log.Printf("REJECTED: X-Sync-Secret mismatch")
				http.Error(w, "bad secret", http.StatusUnauthorized)
				return
			}
			if err := auth.VerifyRequest(r, *secret, body); err != nil {
				log.Printf("REJECTED: %v", err)
				http.Error(w, "bad signature", http.StatusUnauthorized)
				return
			}
		}

		var pretty map[string]any
		if err := json.Unmarshal(body, &pretty); err != nil {
			log.Printf("received non-JSON payload: %s", body)
			w.WriteHeader(http.StatusOK)
			return
		}
		formatted, _ := json.MarshalIndent(pretty, "", "  ")
		log.Printf("received %v event:\n%s", pretty["eventType"], formatted)
		w.WriteHeader(http.StatusOK)
	})

	fmt.Printf("listening on %s%s (signature verification: %v)\n", *addr, *path, *secret != "")
	log.Fatal(http.ListenAndServe(*addr, nil))
}
