package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/EternisAI/silo-relay/internal/users"
)

// runHashPassword prints an account file entry with a bcrypt hash. Without
// --password the first line of stdin is used.
func runHashPassword(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("hash-password", flag.ContinueOnError)
	user := fs.String("user", "", "Viewer email or username")
	password := fs.String("password", "", "Plaintext password (read from stdin when omitted)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *user == "" {
		return fmt.Errorf("--user is required")
	}
	if *password == "" {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("read password: %w", err)
		}
		*password = strings.TrimRight(line, "\r\n")
	}

	entry, err := users.AccountLine(*user, *password)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, entry)
	return err
}
