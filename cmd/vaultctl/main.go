// vaultctl is a small operator tool. Its only command today is hash-password,
// which produces the bcrypt hash the server expects in admin_password_hash.
package main

import (
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/dmitrijs2005/rewardvault/internal/server/auth"
)

func main() {
	if len(os.Args) < 2 || os.Args[1] != "hash-password" {
		fmt.Fprintln(os.Stderr, "usage: vaultctl hash-password")
		os.Exit(2)
	}

	fmt.Fprint(os.Stderr, "Admin password: ")
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read error: %v\n", err)
		os.Exit(1)
	}
	if len(pw) == 0 {
		fmt.Fprintln(os.Stderr, "password is empty")
		os.Exit(1)
	}

	hash, err := auth.HashPassword(string(pw))
	if err != nil {
		fmt.Fprintf(os.Stderr, "hash error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}
