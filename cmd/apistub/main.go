// Command apistub serves fixture tests in place of the remote exam API so the
// runner can be exercised locally.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/mind-engage/examprep/internal/apistub"
	auth "github.com/mind-engage/examprep/internal/auth/middleware"
	"github.com/mind-engage/examprep/internal/config"
)

func main() {
	addr := flag.String("addr", ":8090", "listen address")
	fixtures := flag.String("fixtures", "testdata/fixtures.yaml", "YAML file with fixture tests")
	tokenFor := flag.String("token", "", "print a dev bearer token for this subject and exit")
	role := flag.String("role", "student", "role for -token")
	flag.Parse()

	if *tokenFor != "" {
		cfg := config.FromEnv()
		tok, err := auth.NewAuthService(cfg.AuthHMACSecret).IssueJWT(*tokenFor, *role, 8*time.Hour)
		if err != nil {
			log.Fatalf("issue token: %v", err)
		}
		fmt.Println(tok)
		return
	}

	store := apistub.NewStore()
	if err := store.LoadFile(*fixtures); err != nil {
		log.Fatalf("load fixtures %s: %v", *fixtures, err)
	}
	srv := &http.Server{
		Addr:              *addr,
		Handler:           apistub.Router(store),
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Printf("api stub listening on %s (fixtures=%s)", *addr, *fixtures)
	log.Fatal(srv.ListenAndServe())
}
