// Command devapi serves a fake Zulip realm for local development. Point
// RR_ZULIP_REALM at it and POST check-ins to /emit.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"time"
)

func main() {
	var (
		addr   string
		seed   string
		email  string
		apiKey string
	)

	flag.StringVar(&addr, "addr", ":8765", "HTTP listen address")
	flag.StringVar(&seed, "seed", "", "JSON file holding an array of check-ins to preload")
	flag.StringVar(&email, "email", "", "Accepted bot email (empty accepts any credentials)")
	flag.StringVar(&apiKey, "api-key", "", "Accepted bot API key")
	flag.Parse()

	rl := newRealm(email, apiKey)
	if seed != "" {
		n, err := loadSeed(rl, seed)
		if err != nil {
			log.Fatalf("devapi: seed %s: %v", seed, err)
		}
		log.Printf("devapi: loaded %d check-ins from %s", n, seed)
	}

	log.Printf("devapi listening on %s", addr)
	srv := &http.Server{Addr: addr, Handler: rl.routes(), ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		log.Fatal(err)
	}
}

func loadSeed(rl *realm, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var reqs []emitReq
	if err := json.Unmarshal(data, &reqs); err != nil {
		return 0, err
	}
	for _, req := range reqs {
		rl.add(req)
	}
	return len(reqs), nil
}
