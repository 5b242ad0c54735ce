package client

import (
	"fmt"
	"math/rand"
)

var adjectives = []string{
	"Shadow", "Phantom", "Ghost", "Cipher", "Nexus",
	"Void", "Echo", "Rogue", "Stealth", "Crypto",
}

// NewCodename returns a random handle such as "Cipher-417".
func NewCodename() string {
	return fmt.Sprintf("%s-%d", adjectives[rand.Intn(len(adjectives))], rand.Intn(999))
}
