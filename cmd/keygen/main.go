// Command keygen produces RSA signing key material offline, for seeding
// trustd through SERVICE_JWT_PRIVATE_KEY_PEM / SERVICE_JWT_KID instead of
// letting it generate its first key.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/tmstack/trustplane/internal/keys"
)

func main() {
	var (
		kid     = flag.String("kid", "", "key id (default: generated svc-rsa-<unix>-<rand>)")
		jwkOnly = flag.Bool("jwk", false, "print only the public JWK")
		out     = flag.String("out", "", "write the private PEM to this file instead of stdout")
	)
	flag.Parse()

	now := time.Now().UTC()
	id := *kid
	if id == "" {
		id = keys.NewKID(now)
	}

	k, err := keys.Generate(id, now)
	if err != nil {
		log.Fatalf("generate: %v", err)
	}

	jwk, err := json.MarshalIndent(k.PublicJWK, "", "  ")
	if err != nil {
		log.Fatalf("encode jwk: %v", err)
	}

	if *jwkOnly {
		fmt.Println(string(jwk))
		return
	}

	if *out != "" {
		if err := os.WriteFile(*out, []byte(k.PrivatePEM), 0o600); err != nil {
			log.Fatalf("write %s: %v", *out, err)
		}
		fmt.Printf("kid: %s\nprivate key written to %s\npublic jwk:\n%s\n", k.KID, *out, jwk)
		return
	}

	fmt.Printf("kid: %s\n\n%s\npublic jwk:\n%s\n", k.KID, k.PrivatePEM, jwk)
}
