package main

import (
	"encoding/base64"
	"fmt"

	"github.com/hushroom/hushroom/clients/go/hushroom"
)

func main() {
	pub, priv, err := hushroom.GenerateSigningKeypair()
	if err != nil {
		panic(err)
	}

	pubB64 := base64.StdEncoding.EncodeToString(pub)
	fingerprint, err := hushroom.Fingerprint(pubB64)
	if err != nil {
		panic(err)
	}

	fmt.Printf("Public key (base64):  %s\n", pubB64)
	fmt.Printf("Private key (base64): %s\n", base64.StdEncoding.EncodeToString(priv))
	fmt.Printf("Fingerprint:          %s\n", fingerprint)
}
