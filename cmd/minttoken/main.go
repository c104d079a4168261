// Command minttoken signs a bearer token for local testing and for the
// encoder and admin accounts provisioned outside this service.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/markjakearzadon/recetra-gobackend/internal/auth"
	"github.com/markjakearzadon/recetra-gobackend/internal/config"
)

func main() {
	id := flag.String("id", "", "user id (token subject)")
	name := flag.String("name", "", "display name")
	role := flag.String("role", string(auth.RoleEncoder), "admin, encoder or viewer")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if *id == "" {
		fmt.Fprintln(os.Stderr, "usage: minttoken -id USER [-name NAME] [-role ROLE] [-ttl 24h]")
		os.Exit(2)
	}
	r, err := auth.ParseRole(*role)
	if err != nil {
		log.Fatal(err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	token, err := auth.NewIssuer(cfg.JWTSecret).Mint(auth.User{ID: *id, Name: *name, Role: r}, *ttl)
	if err != nil {
		log.Fatalf("Failed to mint token: %v", err)
	}
	fmt.Println(token)
}
