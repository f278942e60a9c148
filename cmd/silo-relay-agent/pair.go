package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/EternisAI/silo-relay/internal/api/http/dto"
)

// runPair logs a viewer account in and pairs it with the code this agent
// displays, so the device can be claimed from its own console.
func runPair(args []string) error {
	fs := flag.NewFlagSet("pair", flag.ExitOnError)
	server := fs.String("server", "", "Relay HTTP URL (e.g., http://relay:3000)")
	email := fs.String("email", "", "Viewer account email or username")
	password := fs.String("password", "", "Viewer account password")
	code := fs.String("code", "", "Pairing code shown by the agent")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *server == "" {
		return fmt.Errorf("--server is required")
	}
	if *email == "" || *password == "" {
		return fmt.Errorf("--email and --password are required")
	}
	if *code == "" {
		return fmt.Errorf("--code is required")
	}
	base := strings.TrimRight(*server, "/")

	var login dto.LoginResponse
	if err := postJSON(base+"/api/auth/login", "", dto.LoginRequest{Email: *email, Password: *password}, &login); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	var paired dto.PairResponse
	if err := postJSON(base+"/api/pair", login.Token, dto.PairRequest{PairingCode: *code}, &paired); err != nil {
		return fmt.Errorf("pairing failed: %w", err)
	}

	fmt.Println("Pairing successful!")
	fmt.Printf("  Viewer:    %s\n", login.Email)
	fmt.Printf("  Device ID: %s\n", paired.DeviceID)
	return nil
}

func postJSON(url, token string, in, out any) error {
	reqBody, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBuffer(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
