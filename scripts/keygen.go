//go:build ignore

package main

import (
	"fmt"
	"log"

	"github.com/hugh/quanty/pkg/crypto"
)

// Prints a value for QUEUE_ENCRYPTION_KEY.
func main() {
	key, err := crypto.GenerateKey()
	if err != nil {
		log.Fatalf("failed to generate key: %v", err)
	}
	fmt.Println(key)
}
